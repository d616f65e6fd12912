package orchestrator

import (
	"fmt"
	"time"

	"chzzk-recorder/internal/chzzk"
)

// Channel is a monitored chzzk channel.
type Channel struct {
	ID          int64      `json:"id"`
	ChannelID   string     `json:"channel_id"`
	DisplayName string     `json:"display_name"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	LastLive    *time.Time `json:"last_live,omitempty"`
}

// Credentials are the NID cookies passed to the API and the capture tool.
type Credentials struct {
	NIDAut string `json:"nid_aut"`
	NIDSes string `json:"nid_ses"`
}

// Valid reports whether both cookies are present.
func (c Credentials) Valid() bool {
	return c.NIDAut != "" && c.NIDSes != ""
}

// Cookies converts to the API client's cookie set.
func (c Credentials) Cookies() chzzk.Cookies {
	return chzzk.Cookies{NIDAut: c.NIDAut, NIDSes: c.NIDSes}
}

// AssetStatus tracks a recording from capture start to its final file.
type AssetStatus string

const (
	AssetRecording      AssetStatus = "recording"
	AssetComplete       AssetStatus = "complete"
	AssetIncomplete     AssetStatus = "incomplete"
	AssetFinalizeFailed AssetStatus = "finalize_failed"
)

// RecordingAsset is one capture. RelativePath is relative to the output
// directory and is rewritten once, from .ts to .mp4, when finalize succeeds.
type RecordingAsset struct {
	ID           string      `json:"id"`
	ChannelID    string      `json:"channel_id"`
	RelativePath string      `json:"relative_path"`
	Title        string      `json:"title"`
	CreatedAt    time.Time   `json:"created_at"`
	Status       AssetStatus `json:"status"`
}

// StateKind is the recording state of one channel.
type StateKind int

const (
	StateIdle StateKind = iota
	StateCapturing
	StateFinalizing
)

func (k StateKind) String() string {
	switch k {
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StateKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*k = StateIdle
	case "capturing":
		*k = StateCapturing
	case "finalizing":
		*k = StateFinalizing
	default:
		return fmt.Errorf("unknown recording state %q", b)
	}
	return nil
}

// RecordingState is a point-in-time snapshot of a channel's state machine.
// Title, PID and StartedAt are set while capturing; SourcePath and TargetPath
// while finalizing.
type RecordingState struct {
	ChannelID  string    `json:"channel_id"`
	State      StateKind `json:"state"`
	Title      string    `json:"title,omitempty"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	AssetID    string    `json:"asset_id,omitempty"`
	SourcePath string    `json:"source_path,omitempty"`
	TargetPath string    `json:"target_path,omitempty"`
}

// LiveMetadata is the broadcast detail reported alongside a live event.
type LiveMetadata struct {
	Category string `json:"category,omitempty"`
	LiveID   int64  `json:"live_id,omitempty"`
	OpenDate string `json:"open_date,omitempty"`
	Adult    bool   `json:"adult,omitempty"`
}

// LivenessEvent is the result of polling one channel.
type LivenessEvent struct {
	Live     bool         `json:"live"`
	Title    string       `json:"title,omitempty"`
	Metadata LiveMetadata `json:"metadata"`
}

// Transition classifies a poll against the previous poll of the same channel.
type Transition string

const (
	TransitionBecameLive    Transition = "became-live"
	TransitionStillLive     Transition = "still-live"
	TransitionWentOffline   Transition = "went-offline"
	TransitionOffline       Transition = "offline"
	TransitionUnreachable   Transition = "unreachable"
	TransitionNoCredentials Transition = "missing-credentials"
)

func classify(wasLive bool, ev LivenessEvent) Transition {
	switch {
	case ev.Live && wasLive:
		return TransitionStillLive
	case ev.Live:
		return TransitionBecameLive
	case wasLive:
		return TransitionWentOffline
	default:
		return TransitionOffline
	}
}
