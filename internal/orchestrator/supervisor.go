package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"chzzk-recorder/internal/platform/metrics"

	"github.com/google/uuid"
)

const (
	defaultTerminateGrace = 30 * time.Second
	storeWriteTimeout     = 10 * time.Second
	inboxSize             = 16
)

var errActorGone = errors.New("channel actor released")

// SupervisorConfig holds the settings the Supervisor reads at construction.
type SupervisorConfig struct {
	OutputDir string
	// TerminateGrace bounds the wait after SIGINT before the capture is killed.
	TerminateGrace time.Duration
	Now            func() time.Time
}

// Supervisor owns one recording state machine per channel. Each channel runs
// as an actor goroutine that applies events, operator commands and process
// completions strictly in arrival order; the actor map lock is held only to
// insert or remove actors.
type Supervisor struct {
	cfg       SupervisorConfig
	store     Store
	launcher  Launcher
	finalizer Finalizer
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	actors map[string]*actor
	closed bool

	wg sync.WaitGroup
}

// NewSupervisor returns a Supervisor. m may be nil.
func NewSupervisor(cfg SupervisorConfig, store Store, launcher Launcher, finalizer Finalizer, log *slog.Logger, m *metrics.Metrics) *Supervisor {
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = defaultTerminateGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Supervisor{
		cfg:       cfg,
		store:     store,
		launcher:  launcher,
		finalizer: finalizer,
		log:       log,
		metrics:   m,
		actors:    make(map[string]*actor),
	}
}

// Handle applies a liveness event to the channel's state machine and waits
// until it has been applied. Duplicate live events are no-ops.
func (s *Supervisor) Handle(ctx context.Context, ch Channel, ev LivenessEvent) error {
	a, err := s.actorFor(ch.ChannelID, ev.Live)
	if err != nil || a == nil {
		return err
	}
	reply := make(chan error, 1)
	if err := a.post(ctx, eventMsg{ctx: ctx, ch: ch, ev: ev, reply: reply}); err != nil {
		if errors.Is(err, errActorGone) {
			return nil
		}
		return err
	}
	return a.await(ctx, reply, nil)
}

// Stop ends the channel's capture as if it had gone offline. It returns
// ErrNotRecording when idle and ErrAlreadyFinalizing while finalizing.
func (s *Supervisor) Stop(ctx context.Context, channelID string) error {
	a, err := s.actorFor(channelID, false)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNotRecording
	}
	reply := make(chan error, 1)
	if err := a.post(ctx, stopMsg{reply: reply}); err != nil {
		if errors.Is(err, errActorGone) {
			return ErrNotRecording
		}
		return err
	}
	return a.await(ctx, reply, ErrNotRecording)
}

// Remove stops any capture synchronously, releases the channel's state and
// deletes all of its recording assets.
func (s *Supervisor) Remove(ctx context.Context, channelID string) error {
	if err := s.release(ctx, channelID); err != nil {
		return err
	}
	n, err := s.store.DeleteRecordingAssets(ctx, channelID)
	if err != nil {
		return fmt.Errorf("delete recording assets: %w", err)
	}
	s.log.Info("channel released",
		slog.String("channel_id", channelID),
		slog.Int("assets_deleted", n))
	return nil
}

// Forget is Remove without deleting assets. Used for deactivated channels.
func (s *Supervisor) Forget(ctx context.Context, channelID string) error {
	return s.release(ctx, channelID)
}

// Shutdown stops every capture and waits for all supervisor goroutines. An
// in-flight transcode is cancelled and its raw capture kept.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.actors = make(map[string]*actor)
	s.mu.Unlock()

	for _, a := range actors {
		_ = a.post(ctx, releaseMsg{done: make(chan struct{})})
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}

// State returns the channel's current state; unknown channels are idle.
func (s *Supervisor) State(channelID string) RecordingState {
	s.mu.Lock()
	a := s.actors[channelID]
	s.mu.Unlock()
	if a == nil {
		return RecordingState{ChannelID: channelID, State: StateIdle}
	}
	return a.snapshot()
}

// States returns a snapshot of every channel with a state machine.
func (s *Supervisor) States() []RecordingState {
	out := make([]RecordingState, 0)
	for _, a := range s.snapshotActors() {
		out = append(out, a.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Channels returns the ids of channels with a state machine.
func (s *Supervisor) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.actors))
	for id := range s.actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveCaptures counts channels in StateCapturing.
func (s *Supervisor) ActiveCaptures() int {
	n := 0
	for _, a := range s.snapshotActors() {
		if a.snapshot().State == StateCapturing {
			n++
		}
	}
	return n
}

func (s *Supervisor) snapshotActors() []*actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, a)
	}
	return out
}

func (s *Supervisor) actorFor(channelID string, create bool) (*actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSupervisorClosed
	}
	if a, ok := s.actors[channelID]; ok {
		return a, nil
	}
	if !create {
		return nil, nil
	}
	a := &actor{
		sup:   s,
		id:    channelID,
		inbox: make(chan any, inboxSize),
		quit:  make(chan struct{}),
		log:   s.log.With(slog.String("channel_id", channelID)),
	}
	a.publish()
	s.actors[channelID] = a
	s.wg.Add(1)
	go a.run()
	return a, nil
}

func (s *Supervisor) release(ctx context.Context, channelID string) error {
	s.mu.Lock()
	a := s.actors[channelID]
	delete(s.actors, channelID)
	s.mu.Unlock()
	if a == nil {
		return nil
	}

	msg := releaseMsg{done: make(chan struct{})}
	if err := a.post(ctx, msg); err != nil {
		if errors.Is(err, errActorGone) {
			return nil
		}
		return err
	}
	select {
	case <-msg.done:
		return nil
	case <-a.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch reports the process exit back to the actor.
func (s *Supervisor) watch(a *actor, gen uint64, p Process) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := p.Wait()
		_ = a.post(context.Background(), exitMsg{gen: gen, err: err})
	}()
}

// escalate kills p if it is still running after the grace period.
func (s *Supervisor) escalate(log *slog.Logger, p Process) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(s.cfg.TerminateGrace)
		defer t.Stop()
		select {
		case <-p.Done():
		case <-t.C:
			log.Warn("capture ignored interrupt, killing", slog.Int("pid", p.PID()))
			if err := p.Kill(); err != nil && !errors.Is(err, ErrProcessGone) {
				log.Error("kill capture", slog.String("error", err.Error()))
			}
		}
	}()
}

func (s *Supervisor) relPath(path string) string {
	rel, err := filepath.Rel(s.cfg.OutputDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (s *Supervisor) saveAsset(log *slog.Logger, asset RecordingAsset) {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.store.UpsertRecordingAsset(ctx, asset); err != nil {
		log.Error("save recording asset",
			slog.String("asset_id", asset.ID),
			slog.String("status", string(asset.Status)),
			slog.String("error", err.Error()))
	}
}

type eventMsg struct {
	ctx   context.Context
	ch    Channel
	ev    LivenessEvent
	reply chan error
}

type stopMsg struct {
	reply chan error
}

type releaseMsg struct {
	done chan struct{}
}

type exitMsg struct {
	gen uint64
	err error
}

type finalizedMsg struct {
	gen    uint64
	target string
	err    error
}

// actor is one channel's state machine. Fields below the mutex are read by
// snapshot; everything else is owned by the run goroutine.
type actor struct {
	sup   *Supervisor
	id    string
	inbox chan any
	quit  chan struct{}
	log   *slog.Logger

	kind    StateKind
	gen     uint64
	proc    Process
	asset   RecordingAsset
	rawPath string
	target  string
	started time.Time

	cancelFinalize context.CancelFunc
	finalizeDone   chan struct{}

	snapMu sync.Mutex
	snap   RecordingState
}

func (a *actor) run() {
	defer a.sup.wg.Done()
	defer close(a.quit)

	for m := range a.inbox {
		switch m := m.(type) {
		case eventMsg:
			m.reply <- a.onEvent(m.ctx, m.ch, m.ev)
		case stopMsg:
			m.reply <- a.onStop()
		case exitMsg:
			a.onExit(m)
		case finalizedMsg:
			a.onFinalized(m)
		case releaseMsg:
			a.onRelease()
			close(m.done)
			return
		}
	}
}

func (a *actor) post(ctx context.Context, m any) error {
	select {
	case a.inbox <- m:
		return nil
	case <-a.quit:
		return errActorGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for a reply; gone is returned if the actor was released first.
func (a *actor) await(ctx context.Context, reply <-chan error, gone error) error {
	select {
	case err := <-reply:
		return err
	case <-a.quit:
		select {
		case err := <-reply:
			return err
		default:
			return gone
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) onEvent(ctx context.Context, ch Channel, ev LivenessEvent) error {
	switch {
	case ev.Live && a.kind == StateIdle:
		return a.startCapture(ctx, ch, ev)
	case ev.Live:
		return nil
	case a.kind == StateCapturing:
		a.log.Info("channel went offline, stopping capture")
		a.beginFinalize()
		return nil
	default:
		return nil
	}
}

func (a *actor) onStop() error {
	switch a.kind {
	case StateCapturing:
		a.log.Info("operator stop, stopping capture")
		a.beginFinalize()
		return nil
	case StateFinalizing:
		return ErrAlreadyFinalizing
	default:
		return ErrNotRecording
	}
}

func (a *actor) startCapture(ctx context.Context, ch Channel, ev LivenessEvent) error {
	s := a.sup

	current, err := s.store.GetChannel(ctx, a.id)
	switch {
	case errors.Is(err, ErrChannelNotFound):
		return nil
	case err != nil:
		return &TransientError{Reason: "channel_lookup", Err: err}
	case !current.Active:
		return nil
	}
	if current.DisplayName == "" {
		current.DisplayName = ch.DisplayName
	}

	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return &TransientError{Reason: "credentials_unavailable", Err: err}
	}
	if !creds.Valid() {
		return ErrMissingCredentials
	}

	now := s.cfg.Now()
	dir := filepath.Join(s.cfg.OutputDir, ChannelDir(current))
	path := filepath.Join(dir, CaptureFileName(now, ev.Title, current))
	asset := RecordingAsset{
		ID:           uuid.NewString(),
		ChannelID:    a.id,
		RelativePath: s.relPath(path),
		Title:        ev.Title,
		CreatedAt:    now.UTC(),
		Status:       AssetRecording,
	}

	var proc Process
	err = os.MkdirAll(dir, 0o755)
	if err == nil {
		proc, err = s.launcher.Launch(ctx, CaptureRequest{
			ChannelID:  a.id,
			OutputPath: path,
			Cookies:    creds.Cookies(),
		})
	}
	if err != nil {
		perr := &ProcessError{ChannelID: a.id, Op: "start", Err: err}
		a.log.Error("capture failed to start", slog.String("path", path), slog.String("error", perr.Error()))
		s.metrics.IncCaptureFailures()
		asset.Status = AssetIncomplete
		s.saveAsset(a.log, asset)
		return perr
	}

	a.gen++
	a.kind = StateCapturing
	a.proc = proc
	a.asset = asset
	a.rawPath = path
	a.target = ""
	a.started = now
	a.publish()

	s.saveAsset(a.log, asset)
	s.metrics.IncCapturesStarted()
	s.watch(a, a.gen, proc)

	a.log.Info("capture started",
		slog.String("display_name", current.DisplayName),
		slog.String("title", ev.Title),
		slog.String("path", path),
		slog.Int("pid", proc.PID()))
	return nil
}

// beginFinalize interrupts the capture and moves to StateFinalizing. The
// transcode starts when the exit arrives.
func (a *actor) beginFinalize() {
	err := a.proc.Terminate()
	if errors.Is(err, ErrProcessGone) {
		if nonEmptyFile(a.rawPath) {
			// The exit may still be queued behind this message; the gen bump
			// drops it so the capture is finalized once.
			a.log.Info("capture process already exited, finalizing its output",
				slog.Int("pid", a.proc.PID()))
			a.gen++
			a.proc = nil
			a.kind = StateFinalizing
			a.target = FinalizedPath(a.rawPath)
			a.publish()
			a.startFinalize()
			return
		}
		a.log.Warn("capture process already gone, marking recording incomplete",
			slog.Int("pid", a.proc.PID()))
		a.finishAsset(AssetIncomplete)
		a.reset()
		return
	}
	if err != nil {
		a.log.Warn("interrupt capture failed, killing", slog.String("error", err.Error()))
		if kerr := a.proc.Kill(); kerr != nil && !errors.Is(kerr, ErrProcessGone) {
			a.log.Error("kill capture", slog.String("error", kerr.Error()))
		}
	}
	a.kind = StateFinalizing
	a.target = FinalizedPath(a.rawPath)
	a.publish()
	a.sup.escalate(a.log, a.proc)
}

func (a *actor) onExit(m exitMsg) {
	if m.gen != a.gen || a.kind == StateIdle {
		return
	}
	a.proc = nil

	if a.kind == StateCapturing {
		a.log.Warn("capture exited on its own", slog.Any("exit", m.err))
	}

	if !nonEmptyFile(a.rawPath) {
		err := m.err
		if err == nil {
			err = errors.New("no output written")
		}
		perr := &ProcessError{ChannelID: a.id, Op: "exit", Err: err}
		a.log.Error("capture produced no output", slog.String("error", perr.Error()))
		a.sup.metrics.IncCaptureFailures()
		a.finishAsset(AssetIncomplete)
		a.reset()
		return
	}

	a.kind = StateFinalizing
	a.target = FinalizedPath(a.rawPath)
	a.publish()
	a.startFinalize()
}

func (a *actor) startFinalize() {
	s := a.sup
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancelFinalize = cancel
	a.finalizeDone = done

	gen, src := a.gen, a.rawPath
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		target, err := s.finalizer.Finalize(ctx, src)
		close(done)
		_ = a.post(context.Background(), finalizedMsg{gen: gen, target: target, err: err})
	}()
}

func (a *actor) onFinalized(m finalizedMsg) {
	if m.gen != a.gen || a.kind != StateFinalizing {
		return
	}
	a.cancelFinalize = nil
	a.finalizeDone = nil

	if m.err != nil {
		a.log.Error("finalize failed, raw capture kept",
			slog.String("path", a.rawPath),
			slog.String("error", m.err.Error()))
		a.sup.metrics.ObserveFinalize("failed")
		a.finishAsset(AssetFinalizeFailed)
	} else {
		a.asset.RelativePath = a.sup.relPath(m.target)
		a.sup.metrics.ObserveFinalize("ok")
		a.finishAsset(AssetComplete)
	}
	a.reset()
}

// onRelease stops everything the actor owns: the capture is interrupted and
// waited for, a running transcode is cancelled.
func (a *actor) onRelease() {
	if a.proc != nil {
		if err := a.proc.Terminate(); err != nil && !errors.Is(err, ErrProcessGone) {
			a.log.Warn("interrupt capture failed", slog.String("error", err.Error()))
		}
		t := time.NewTimer(a.sup.cfg.TerminateGrace)
		select {
		case <-a.proc.Done():
		case <-t.C:
			a.log.Warn("capture ignored interrupt, killing", slog.Int("pid", a.proc.PID()))
			_ = a.proc.Kill()
			<-a.proc.Done()
		}
		t.Stop()
	}
	if a.cancelFinalize != nil {
		a.cancelFinalize()
		<-a.finalizeDone
	}
	if a.kind != StateIdle {
		a.finishAsset(AssetIncomplete)
	}
	a.reset()
}

func (a *actor) finishAsset(status AssetStatus) {
	a.asset.Status = status
	a.sup.saveAsset(a.log, a.asset)
}

// reset returns to StateIdle. Bumping gen drops completions still queued for
// the previous capture.
func (a *actor) reset() {
	a.gen++
	a.kind = StateIdle
	a.proc = nil
	a.asset = RecordingAsset{}
	a.rawPath = ""
	a.target = ""
	a.started = time.Time{}
	a.cancelFinalize = nil
	a.finalizeDone = nil
	a.publish()
}

func (a *actor) publish() {
	st := RecordingState{ChannelID: a.id, State: a.kind}
	switch a.kind {
	case StateCapturing:
		st.Title = a.asset.Title
		st.StartedAt = a.started
		st.AssetID = a.asset.ID
		st.SourcePath = a.rawPath
		if a.proc != nil {
			st.PID = a.proc.PID()
		}
	case StateFinalizing:
		st.Title = a.asset.Title
		st.StartedAt = a.started
		st.AssetID = a.asset.ID
		st.SourcePath = a.rawPath
		st.TargetPath = a.target
	}
	a.snapMu.Lock()
	a.snap = st
	a.snapMu.Unlock()
}

func (a *actor) snapshot() RecordingState {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()
	return a.snap
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
