package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"chzzk-recorder/internal/chzzk"
)

// CaptureRequest describes one capture to launch.
type CaptureRequest struct {
	ChannelID  string
	OutputPath string
	Cookies    chzzk.Cookies
}

// Launcher starts capture subprocesses. The returned process must outlive
// ctx; ctx only bounds the start itself.
type Launcher interface {
	Launch(ctx context.Context, req CaptureRequest) (Process, error)
}

// StreamlinkLauncher runs streamlink against the channel's live page.
type StreamlinkLauncher struct {
	Command string
	Quality string
	Log     *slog.Logger
}

// Args returns the command line for req. Cookies are passed as arguments and
// never written to disk.
func (l StreamlinkLauncher) Args(req CaptureRequest) []string {
	quality := strings.TrimSpace(l.Quality)
	if quality == "" {
		quality = "best"
	}
	args := make([]string, 0, 10)
	if req.Cookies.NIDAut != "" {
		args = append(args, "--http-cookie", "NID_AUT="+req.Cookies.NIDAut)
	}
	if req.Cookies.NIDSes != "" {
		args = append(args, "--http-cookie", "NID_SES="+req.Cookies.NIDSes)
	}
	return append(args,
		"--output", req.OutputPath,
		"--force",
		chzzk.LiveURL(req.ChannelID),
		quality,
	)
}

// Launch implements Launcher.
func (l StreamlinkLauncher) Launch(ctx context.Context, req CaptureRequest) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	command := l.Command
	if command == "" {
		command = "streamlink"
	}
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("channel_id", req.ChannelID), slog.String("tool", "capture"))
	return startProcess(log, command, l.Args(req)...)
}
