package orchestrator

import (
	"context"
	"time"
)

// CredentialProvider exposes the current NID cookies. They may be replaced at
// any time by an operator; callers read them fresh for each use.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// ChannelDirectory is the set of monitored channels.
type ChannelDirectory interface {
	// ListActiveChannels returns active channels ordered by ID.
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	// ListChannels returns every channel, active or not, ordered by ID.
	ListChannels(ctx context.Context) ([]Channel, error)
	// GetChannel returns ErrChannelNotFound for unknown ids.
	GetChannel(ctx context.Context, channelID string) (Channel, error)
	// AddChannel assigns ID and CreatedAt. Duplicate ids return ErrChannelExists.
	AddChannel(ctx context.Context, ch Channel) (Channel, error)
	SetChannelActive(ctx context.Context, channelID string, active bool) error
	DeleteChannel(ctx context.Context, channelID string) error
	// UpdateChannelTimestamps sets last_checked, and last_live when liveAt is
	// non-nil.
	UpdateChannelTimestamps(ctx context.Context, channelID string, checkedAt time.Time, liveAt *time.Time) error
}

// AssetStore persists RecordingAssets.
type AssetStore interface {
	UpsertRecordingAsset(ctx context.Context, a RecordingAsset) error
	// ListRecordingAssets returns the assets of one channel, or of all
	// channels when channelID is empty, newest first.
	ListRecordingAssets(ctx context.Context, channelID string) ([]RecordingAsset, error)
	DeleteRecordingAssets(ctx context.Context, channelID string) (int, error)
	// MarkInterruptedAssets flips every asset still in AssetRecording to
	// AssetIncomplete. Called once at startup.
	MarkInterruptedAssets(ctx context.Context) (int, error)
}

// Store is everything the recorder persists. Implementations must be safe
// for concurrent use; each method is one atomic operation.
type Store interface {
	CredentialProvider
	ChannelDirectory
	AssetStore
	PutCredentials(ctx context.Context, c Credentials) error
}
