package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
)

// ErrProcessGone is returned when signaling a process that has already exited.
var ErrProcessGone = errors.New("process already exited")

// Process is an owned handle to a running subprocess. All methods are safe
// for concurrent use.
type Process interface {
	PID() int
	// Terminate asks the process to exit cleanly (SIGINT to its group).
	Terminate() error
	// Kill forces the process group down.
	Kill() error
	// Wait blocks until exit and returns the exit error.
	Wait() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	Alive() bool
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

// startProcess launches name detached from any context; the caller owns the
// returned handle. Output is forwarded to log line by line.
func startProcess(log *slog.Logger, name string, args ...string) (*execProcess, error) {
	cmd := exec.Command(name, args...)
	setProcessGroup(cmd)
	out := newLineWriter(log)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		out.Flush()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) Terminate() error {
	if !p.Alive() {
		return ErrProcessGone
	}
	return interruptGroup(p.cmd)
}

func (p *execProcess) Kill() error {
	if !p.Alive() {
		return ErrProcessGone
	}
	return killGroup(p.cmd)
}

// maxLineBytes caps a buffered line; longer output is emitted in chunks.
const maxLineBytes = 4096

// lineWriter forwards subprocess output to a logger, one record per line.
// Carriage returns end a line too, so progress output is not accumulated.
type lineWriter struct {
	log *slog.Logger

	mu  sync.Mutex
	buf []byte
}

func newLineWriter(log *slog.Logger) *lineWriter {
	return &lineWriter{log: log}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexAny(w.buf, "\r\n")
		if idx == -1 {
			break
		}
		w.emit(w.buf[:idx])
		w.buf = w.buf[idx+1:]
	}
	for len(w.buf) >= maxLineBytes {
		w.emit(w.buf[:maxLineBytes])
		w.buf = w.buf[maxLineBytes:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.buf)
	w.buf = nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || w.log == nil {
		return
	}
	w.log.Debug(string(line))
}
