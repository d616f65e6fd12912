package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"chzzk-recorder/internal/chzzk"
	"chzzk-recorder/internal/platform/logger"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	chanA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	chanB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

var errKilled = errors.New("signal: killed")

type fakeProcess struct {
	pid  int
	done chan struct{}
	once sync.Once

	mu              sync.Mutex
	exitErr         error
	terminated      int
	killed          int
	ignoreInterrupt bool
	gone            bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated++
	gone, ignore := p.gone, p.ignoreInterrupt
	p.mu.Unlock()
	if gone {
		// The process died unnoticed before the signal.
		p.exit(nil)
		return ErrProcessGone
	}
	if !p.Alive() {
		return ErrProcessGone
	}
	if !ignore {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	if !p.Alive() {
		return ErrProcessGone
	}
	p.exit(errKilled)
	return nil
}

func (p *fakeProcess) counts() (terminated, killed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

// fakeLauncher records launches and writes output into the target file the
// way a capture tool would.
type fakeLauncher struct {
	mu              sync.Mutex
	reqs            []CaptureRequest
	procs           []*fakeProcess
	err             error
	output          []byte
	ignoreInterrupt bool
	gone            bool
}

func (l *fakeLauncher) Launch(_ context.Context, req CaptureRequest) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.output != nil {
		if err := os.WriteFile(req.OutputPath, l.output, 0o644); err != nil {
			return nil, err
		}
	}
	p := newFakeProcess(1000 + len(l.procs))
	p.ignoreInterrupt = l.ignoreInterrupt
	p.gone = l.gone
	l.reqs = append(l.reqs, req)
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) starts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) proc(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

func (l *fakeLauncher) request(i int) CaptureRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reqs[i]
}

// fakeTranscoder copies src to dst. When block is set it waits for it to be
// closed (or ctx cancelled) first.
type fakeTranscoder struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (f *fakeTranscoder) Transcode(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	f.calls++
	block, err := f.block, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		_ = os.WriteFile(dst, []byte("partial"), 0o644)
		return err
	}
	data, rerr := os.ReadFile(src)
	if rerr != nil {
		return rerr
	}
	return os.WriteFile(dst, data, 0o644)
}

func (f *fakeTranscoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAPI serves live-detail, channel name and VOD lookups from memory.
type fakeAPI struct {
	mu       sync.Mutex
	live     map[string]string
	errs     map[string]error
	names    map[string]string
	playback *chzzk.Playback
	calls    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		live:  make(map[string]string),
		errs:  make(map[string]error),
		names: make(map[string]string),
	}
}

func (f *fakeAPI) setLive(channelID, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[channelID] = title
}

func (f *fakeAPI) setOffline(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, channelID)
}

func (f *fakeAPI) setErr(channelID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[channelID] = err
}

func (f *fakeAPI) LiveDetail(_ context.Context, channelID string, _ chzzk.Cookies) (*chzzk.LiveDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[channelID]; err != nil {
		return nil, err
	}
	title, ok := f.live[channelID]
	if !ok {
		return &chzzk.LiveDetail{Status: "CLOSE"}, nil
	}
	return &chzzk.LiveDetail{Status: chzzk.StatusOpen, LiveTitle: title, Category: "Talk", LiveID: 7}, nil
}

func (f *fakeAPI) ChannelName(_ context.Context, channelID string, _ chzzk.Cookies) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[channelID]
	if !ok {
		return "", chzzk.ErrNoContent
	}
	return name, nil
}

func (f *fakeAPI) VideoPlayback(_ context.Context, videoNo int64, _ chzzk.Cookies) (*chzzk.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playback == nil {
		return nil, &chzzk.StatusError{HTTPStatus: 404}
	}
	pb := *f.playback
	pb.VideoNo = videoNo
	return &pb, nil
}

func (f *fakeAPI) PlaybackURL(videoID, inKey string) string {
	return chzzk.PlaybackURL("https://apis.example.test/playback", videoID, inKey)
}

type harness struct {
	t        *testing.T
	dir      string
	repo     *InMemoryRepository
	launcher *fakeLauncher
	tr       *fakeTranscoder
	sup      *Supervisor
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		t:        t,
		dir:      t.TempDir(),
		repo:     NewInMemoryRepository(),
		launcher: &fakeLauncher{output: []byte("mpeg-ts payload")},
		tr:       &fakeTranscoder{},
	}
	if err := h.repo.PutCredentials(ctx, Credentials{NIDAut: "aut", NIDSes: "ses"}); err != nil {
		t.Fatal(err)
	}
	for id, name := range map[string]string{chanA: "Alice", chanB: "Bob"} {
		if _, err := h.repo.AddChannel(ctx, Channel{ChannelID: id, DisplayName: name, Active: true}); err != nil {
			t.Fatal(err)
		}
	}
	log := logger.Discard()
	h.sup = NewSupervisor(SupervisorConfig{
		OutputDir:      h.dir,
		TerminateGrace: grace,
		Now:            func() time.Time { return fixedNow },
	}, h.repo, h.launcher, NewPipeline(h.tr, log), log, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.sup.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return h
}

func (h *harness) channel(id string) Channel {
	h.t.Helper()
	ch, err := h.repo.GetChannel(context.Background(), id)
	if err != nil {
		h.t.Fatal(err)
	}
	return ch
}

func (h *harness) assets(id string) []RecordingAsset {
	h.t.Helper()
	out, err := h.repo.ListRecordingAssets(context.Background(), id)
	if err != nil {
		h.t.Fatal(err)
	}
	return out
}

func (h *harness) waitState(id string, want StateKind) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h.sup.State(id).State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("channel %s: state %s, want %s", id, h.sup.State(id).State, want)
}

func live(title string) LivenessEvent {
	return LivenessEvent{Live: true, Title: title}
}

var offline = LivenessEvent{}
