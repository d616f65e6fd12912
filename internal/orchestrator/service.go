package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chzzk-recorder/internal/chzzk"
	"chzzk-recorder/internal/manifest"
	"chzzk-recorder/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPollInterval is used when ServiceConfig.PollInterval is unset.
	DefaultPollInterval = 30 * time.Second
	// DefaultMaxConcurrentPolls bounds parallel API calls within one tick.
	DefaultMaxConcurrentPolls = 8
)

// API is the chzzk client surface the service uses.
type API interface {
	LiveAPI
	ChannelName(ctx context.Context, channelID string, cookies chzzk.Cookies) (string, error)
	VideoPlayback(ctx context.Context, videoNo int64, cookies chzzk.Cookies) (*chzzk.Playback, error)
	PlaybackURL(videoID, inKey string) string
}

// ServiceConfig holds the tick loop and resolver settings.
type ServiceConfig struct {
	PollInterval       time.Duration
	MaxConcurrentPolls int
	TrustedHostSuffix  string
	Now                func() time.Time
}

// Service drives the poller on a fixed interval, feeds the supervisor, and
// implements the operator operations exposed over HTTP.
type Service struct {
	cfg     ServiceConfig
	store   Store
	api     API
	poller  *Poller
	sup     *Supervisor
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	lastLive map[string]bool
}

// NewService wires a Service. m may be nil.
func NewService(cfg ServiceConfig, store Store, api API, sup *Supervisor, log *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxConcurrentPolls <= 0 {
		cfg.MaxConcurrentPolls = DefaultMaxConcurrentPolls
	}
	if cfg.TrustedHostSuffix == "" {
		cfg.TrustedHostSuffix = manifest.DefaultTrustedHostSuffix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		api:      api,
		poller:   NewPoller(api, store),
		sup:      sup,
		log:      log,
		metrics:  m,
		lastLive: make(map[string]bool),
	}
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
// Ticks missed while a slow tick is running are dropped.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("poller started",
		slog.Duration("interval", s.cfg.PollInterval),
		slog.Int("max_concurrent_polls", s.cfg.MaxConcurrentPolls))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			s.log.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick polls every active channel once, in parallel, and waits for all of
// them. A failing channel never affects the others.
func (s *Service) Tick(ctx context.Context) error {
	channels, err := s.store.ListActiveChannels(ctx)
	if err != nil {
		return fmt.Errorf("list active channels: %w", err)
	}
	s.reconcile(ctx, channels)

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentPolls)
	for _, ch := range channels {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.pollOne(ctx, ch)
			return nil
		})
	}
	return g.Wait()
}

// reconcile releases state machines of channels that are no longer active.
func (s *Service) reconcile(ctx context.Context, active []Channel) {
	keep := make(map[string]struct{}, len(active))
	for _, ch := range active {
		keep[ch.ChannelID] = struct{}{}
	}
	for _, id := range s.sup.Channels() {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := s.sup.Forget(ctx, id); err != nil {
			s.log.Warn("release inactive channel", slog.String("channel_id", id), slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	for id := range s.lastLive {
		if _, ok := keep[id]; !ok {
			delete(s.lastLive, id)
		}
	}
	s.mu.Unlock()
}

func (s *Service) pollOne(ctx context.Context, ch Channel) {
	log := s.log.With(slog.String("channel_id", ch.ChannelID), slog.String("display_name", ch.DisplayName))

	ev, err := s.poller.Poll(ctx, ch)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		transition := TransitionUnreachable
		if errors.Is(err, ErrMissingCredentials) {
			transition = TransitionNoCredentials
		}
		s.metrics.ObservePoll(string(transition))
		log.Warn("poll failed", slog.String("transition", string(transition)), slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	transition := classify(s.lastLive[ch.ChannelID], ev)
	s.lastLive[ch.ChannelID] = ev.Live
	s.mu.Unlock()

	s.metrics.ObservePoll(string(transition))
	switch transition {
	case TransitionBecameLive, TransitionWentOffline:
		log.Info("liveness changed", slog.String("transition", string(transition)), slog.String("title", ev.Title))
	default:
		log.Debug("polled", slog.String("transition", string(transition)))
	}

	s.touch(ctx, log, ch.ChannelID, ev.Live)

	if err := s.sup.Handle(ctx, ch, ev); err != nil && ctx.Err() == nil {
		log.Error("recording transition failed", slog.String("error", err.Error()))
	}
}

func (s *Service) touch(ctx context.Context, log *slog.Logger, channelID string, live bool) {
	now := s.cfg.Now().UTC()
	var liveAt *time.Time
	if live {
		liveAt = &now
	}
	if err := s.store.UpdateChannelTimestamps(ctx, channelID, now, liveAt); err != nil && !errors.Is(err, ErrChannelNotFound) {
		log.Warn("update channel timestamps", slog.String("error", err.Error()))
	}
}

// AddChannel registers a channel from its chzzk URL (or bare id) after
// resolving its display name. A deactivated channel is reactivated.
func (s *Service) AddChannel(ctx context.Context, rawURL string) (Channel, error) {
	channelID, err := chzzk.ExtractChannelID(rawURL)
	if err != nil {
		return Channel{}, ErrInvalidChannelURL
	}

	existing, err := s.store.GetChannel(ctx, channelID)
	switch {
	case err == nil && existing.Active:
		return Channel{}, ErrChannelExists
	case err == nil:
		if err := s.store.SetChannelActive(ctx, channelID, true); err != nil {
			return Channel{}, err
		}
		existing.Active = true
		s.log.Info("channel reactivated", slog.String("channel_id", channelID))
		return existing, nil
	case !errors.Is(err, ErrChannelNotFound):
		return Channel{}, err
	}

	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return Channel{}, err
	}
	name, err := s.api.ChannelName(ctx, channelID, creds.Cookies())
	if err != nil {
		return Channel{}, &TransientError{Reason: "channel_lookup", Err: err}
	}

	ch, err := s.store.AddChannel(ctx, Channel{
		ChannelID:   channelID,
		DisplayName: name,
		Active:      true,
		CreatedAt:   s.cfg.Now().UTC(),
	})
	if err != nil {
		return Channel{}, err
	}
	s.log.Info("channel added", slog.String("channel_id", channelID), slog.String("display_name", name))
	return ch, nil
}

// ListChannels returns active channels, or all of them when all is set.
func (s *Service) ListChannels(ctx context.Context, all bool) ([]Channel, error) {
	if all {
		return s.store.ListChannels(ctx)
	}
	return s.store.ListActiveChannels(ctx)
}

// GetChannel returns one channel.
func (s *Service) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	return s.store.GetChannel(ctx, channelID)
}

// RemoveChannel deactivates a channel, or deletes it when purge is set. Both
// stop any in-flight recording and delete the channel's recording assets.
func (s *Service) RemoveChannel(ctx context.Context, channelID string, purge bool) error {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return err
	}
	var err error
	if purge {
		err = s.store.DeleteChannel(ctx, channelID)
	} else {
		err = s.store.SetChannelActive(ctx, channelID, false)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.lastLive, channelID)
	s.mu.Unlock()

	if err := s.sup.Remove(ctx, channelID); err != nil {
		return err
	}
	s.log.Info("channel removed", slog.String("channel_id", channelID), slog.Bool("purge", purge))
	return nil
}

// StopChannel ends the channel's current capture.
func (s *Service) StopChannel(ctx context.Context, channelID string) error {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return err
	}
	return s.sup.Stop(ctx, channelID)
}

// ChannelStatus is the result of an on-demand status check.
type ChannelStatus struct {
	Channel   Channel        `json:"channel"`
	Live      bool           `json:"live"`
	Title     string         `json:"title,omitempty"`
	Recording RecordingState `json:"recording"`
}

// CheckStatus polls one channel now and records the check. It does not
// start or stop recordings; the next tick does.
func (s *Service) CheckStatus(ctx context.Context, channelID string) (ChannelStatus, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return ChannelStatus{}, err
	}
	ev, err := s.poller.Poll(ctx, ch)
	if err != nil {
		return ChannelStatus{}, err
	}
	s.touch(ctx, s.log.With(slog.String("channel_id", channelID)), channelID, ev.Live)
	if ch, err = s.store.GetChannel(ctx, channelID); err != nil {
		return ChannelStatus{}, err
	}
	return ChannelStatus{
		Channel:   ch,
		Live:      ev.Live,
		Title:     ev.Title,
		Recording: s.sup.State(channelID),
	}, nil
}

// ListRecordings returns recording assets, newest first. An empty channelID
// lists every channel.
func (s *Service) ListRecordings(ctx context.Context, channelID string) ([]RecordingAsset, error) {
	if channelID != "" {
		if _, err := s.store.GetChannel(ctx, channelID); err != nil {
			return nil, err
		}
	}
	return s.store.ListRecordingAssets(ctx, channelID)
}

// SetCredentials replaces the NID cookies.
func (s *Service) SetCredentials(ctx context.Context, c Credentials) error {
	if !c.Valid() {
		return ErrMissingCredentials
	}
	if err := s.store.PutCredentials(ctx, c); err != nil {
		return err
	}
	s.log.Info("credentials updated")
	return nil
}

// VideoVariants is a resolved VOD.
type VideoVariants struct {
	VideoNo  int64              `json:"video_no"`
	VideoID  string             `json:"video_id"`
	Title    string             `json:"title,omitempty"`
	Variants []manifest.Variant `json:"variants"`
}

// ResolveVideo fetches a VOD's playback document and ranks its variants.
func (s *Service) ResolveVideo(ctx context.Context, videoNo int64) (VideoVariants, error) {
	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return VideoVariants{}, err
	}
	pb, err := s.api.VideoPlayback(ctx, videoNo, creds.Cookies())
	if err != nil {
		s.metrics.ObserveResolve("unreachable")
		return VideoVariants{}, &TransientError{Reason: "unreachable", Err: err}
	}

	r := manifest.Resolver{
		TrustedHostSuffix: s.cfg.TrustedHostSuffix,
		FallbackURL: func(videoID string) string {
			return s.api.PlaybackURL(videoID, pb.InKey)
		},
	}
	variants, err := r.Resolve(manifest.Payload{Body: pb.Body, ContentType: pb.ContentType}, pb.VideoID)
	if err != nil {
		s.metrics.ObserveResolve("no_variants")
		s.log.Warn("no usable variants",
			slog.Int64("video_no", videoNo),
			slog.String("payload", manifest.Kind(manifest.Payload{Body: pb.Body, ContentType: pb.ContentType})))
		return VideoVariants{}, err
	}
	s.metrics.ObserveResolve("ok")
	return VideoVariants{VideoNo: videoNo, VideoID: pb.VideoID, Title: pb.Title, Variants: variants}, nil
}

// States returns recording state snapshots.
func (s *Service) States() []RecordingState {
	return s.sup.States()
}

// ActiveCaptures counts running captures.
func (s *Service) ActiveCaptures() int {
	return s.sup.ActiveCaptures()
}

// Recover marks recordings interrupted by a previous run as incomplete. Every
// channel starts idle; the next poll starts a fresh capture.
func (s *Service) Recover(ctx context.Context) error {
	n, err := s.store.MarkInterruptedAssets(ctx)
	if err != nil {
		return fmt.Errorf("mark interrupted recordings: %w", err)
	}
	if n > 0 {
		s.log.Warn("recordings interrupted by previous run marked incomplete", slog.Int("count", n))
	}
	return nil
}

// Shutdown stops all captures.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.sup.Shutdown(ctx)
}
