package orchestrator

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLineWriter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := newLineWriter(log)

	_, _ = w.Write([]byte("[cli][info] Found matching plugin chzzk\n[cli][info] Avail"))
	_, _ = w.Write([]byte("able streams: 1080p, best\n\n   \npartial"))
	w.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "Available streams: 1080p, best") {
		t.Errorf("split line not joined: %s", lines[1])
	}
	if !strings.Contains(lines[2], "partial") {
		t.Errorf("flush should emit the trailing partial line: %s", lines[2])
	}
}

func TestLineWriter_progress_output_is_bounded(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := newLineWriter(log)

	for i := 0; i < 1000; i++ {
		_, _ = w.Write([]byte("[download] Written 12.3 MiB (4s @ 3.1 MiB/s)\r"))
	}
	if got := strings.Count(buf.String(), "Written 12.3 MiB"); got != 1000 {
		t.Errorf("expected 1000 progress records, got %d", got)
	}
	if len(w.buf) != 0 {
		t.Errorf("buffer holds %d bytes after carriage returns", len(w.buf))
	}

	_, _ = w.Write(bytes.Repeat([]byte("x"), 3*maxLineBytes+10))
	if len(w.buf) >= maxLineBytes {
		t.Errorf("unterminated output grew to %d bytes", len(w.buf))
	}
	if len(w.buf) != 10 {
		t.Errorf("expected 10 trailing bytes, got %d", len(w.buf))
	}
}

func TestLineWriter_nil_logger(t *testing.T) {
	w := newLineWriter(nil)
	if n, err := w.Write([]byte("ignored\n")); n != 8 || err != nil {
		t.Errorf("Write: n=%d err=%v", n, err)
	}
	w.Flush()
}
