package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Transcoder remuxes src into dst.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

// Finalizer turns a finished capture into its final file.
type Finalizer interface {
	Finalize(ctx context.Context, source string) (string, error)
}

// FFmpegTranscoder stream-copies with ffmpeg; nothing is re-encoded.
type FFmpegTranscoder struct {
	Command string
}

const stderrTail = 2048

// Args returns the ffmpeg command line.
func (t FFmpegTranscoder) Args(src, dst string) []string {
	return []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src, "-c", "copy", "-movflags", "+faststart", dst}
}

// Transcode implements Transcoder.
func (t FFmpegTranscoder) Transcode(ctx context.Context, src, dst string) error {
	command := t.Command
	if command == "" {
		command = "ffmpeg"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, t.Args(src, dst)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", command, err, msg)
		}
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

// Pipeline finalizes captures through a Transcoder.
type Pipeline struct {
	tr  Transcoder
	log *slog.Logger
}

// NewPipeline returns a Pipeline using tr.
func NewPipeline(tr Transcoder, log *slog.Logger) *Pipeline {
	return &Pipeline{tr: tr, log: log}
}

// Finalize remuxes source into FinalizedPath(source). On success the source
// is removed and the new path returned. On failure the partial target is
// removed, the source is kept and a *FinalizeError is returned.
func (p *Pipeline) Finalize(ctx context.Context, source string) (string, error) {
	target := FinalizedPath(source)
	if target == source {
		return "", &FinalizeError{Source: source, Err: errors.New("source already has the finalized extension")}
	}
	start := time.Now()

	if err := p.tr.Transcode(ctx, source, target); err != nil {
		if rmErr := os.Remove(target); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.log.Warn("remove partial output", slog.String("path", target), slog.String("error", rmErr.Error()))
		}
		return "", &FinalizeError{Source: source, Err: err}
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", &FinalizeError{Source: source, Err: fmt.Errorf("stat output: %w", err)}
	}
	if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.log.Warn("remove capture source", slog.String("path", source), slog.String("error", err.Error()))
	}

	p.log.Info("recording finalized",
		slog.String("path", target),
		slog.String("size", humanize.Bytes(uint64(info.Size()))),
		slog.Duration("took", time.Since(start)))
	return target, nil
}
