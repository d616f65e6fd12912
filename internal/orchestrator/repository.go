package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is a concurrency-safe in-memory Store. It backs tests
// and runs without a database file.
type InMemoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	creds    Credentials
	channels map[string]*Channel
	assets   map[string]RecordingAsset
	order    []string
}

// NewInMemoryRepository returns an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		channels: make(map[string]*Channel),
		assets:   make(map[string]RecordingAsset),
	}
}

// Credentials implements CredentialProvider.
func (r *InMemoryRepository) Credentials(_ context.Context) (Credentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creds, nil
}

// PutCredentials implements Store.
func (r *InMemoryRepository) PutCredentials(_ context.Context, c Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds = c
	return nil
}

// ListActiveChannels implements ChannelDirectory.
func (r *InMemoryRepository) ListActiveChannels(_ context.Context) ([]Channel, error) {
	return r.list(true), nil
}

// ListChannels implements ChannelDirectory.
func (r *InMemoryRepository) ListChannels(_ context.Context) ([]Channel, error) {
	return r.list(false), nil
}

func (r *InMemoryRepository) list(activeOnly bool) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if activeOnly && !ch.Active {
			continue
		}
		out = append(out, copyChannel(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetChannel implements ChannelDirectory.
func (r *InMemoryRepository) GetChannel(_ context.Context, channelID string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return Channel{}, ErrChannelNotFound
	}
	return copyChannel(ch), nil
}

// AddChannel implements ChannelDirectory.
func (r *InMemoryRepository) AddChannel(_ context.Context, ch Channel) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[ch.ChannelID]; exists {
		return Channel{}, ErrChannelExists
	}
	r.nextID++
	ch.ID = r.nextID
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	stored := copyChannel(&ch)
	r.channels[ch.ChannelID] = &stored
	return copyChannel(&stored), nil
}

// SetChannelActive implements ChannelDirectory.
func (r *InMemoryRepository) SetChannelActive(_ context.Context, channelID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	ch.Active = active
	return nil
}

// DeleteChannel implements ChannelDirectory.
func (r *InMemoryRepository) DeleteChannel(_ context.Context, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[channelID]; !ok {
		return ErrChannelNotFound
	}
	delete(r.channels, channelID)
	return nil
}

// UpdateChannelTimestamps implements ChannelDirectory.
func (r *InMemoryRepository) UpdateChannelTimestamps(_ context.Context, channelID string, checkedAt time.Time, liveAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	checked := checkedAt
	ch.LastChecked = &checked
	if liveAt != nil {
		live := *liveAt
		ch.LastLive = &live
	}
	return nil
}

// UpsertRecordingAsset implements AssetStore.
func (r *InMemoryRepository) UpsertRecordingAsset(_ context.Context, a RecordingAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[a.ID]; !exists {
		r.order = append(r.order, a.ID)
	}
	r.assets[a.ID] = a
	return nil
}

// ListRecordingAssets implements AssetStore.
func (r *InMemoryRepository) ListRecordingAssets(_ context.Context, channelID string) ([]RecordingAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RecordingAsset, 0)
	for i := len(r.order) - 1; i >= 0; i-- {
		a, ok := r.assets[r.order[i]]
		if !ok || (channelID != "" && a.ChannelID != channelID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// DeleteRecordingAssets implements AssetStore.
func (r *InMemoryRepository) DeleteRecordingAssets(_ context.Context, channelID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	kept := r.order[:0]
	for _, id := range r.order {
		if a, ok := r.assets[id]; ok && a.ChannelID == channelID {
			delete(r.assets, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return n, nil
}

// MarkInterruptedAssets implements AssetStore.
func (r *InMemoryRepository) MarkInterruptedAssets(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, a := range r.assets {
		if a.Status == AssetRecording {
			a.Status = AssetIncomplete
			r.assets[id] = a
			n++
		}
	}
	return n, nil
}

// copyChannel returns a copy that shares no timestamp pointers with c.
func copyChannel(c *Channel) Channel {
	out := *c
	if c.LastChecked != nil {
		t := *c.LastChecked
		out.LastChecked = &t
	}
	if c.LastLive != nil {
		t := *c.LastLive
		out.LastLive = &t
	}
	return out
}
