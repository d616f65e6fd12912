package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chzzk-recorder/internal/chzzk"
	"chzzk-recorder/internal/platform/logger"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_Finalize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "capture.ts")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	got, err := NewPipeline(&fakeTranscoder{}, logger.Discard()).Finalize(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "capture.mp4"), got)
	assert.NoFileExists(t, src)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestPipeline_Finalize_failure_keeps_source(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "capture.ts")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	cause := errors.New("moov atom not found")

	_, err := NewPipeline(&fakeTranscoder{err: cause}, logger.Discard()).Finalize(context.Background(), src)

	var ferr *FinalizeError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, src, ferr.Source)
	assert.ErrorIs(t, err, cause)
	assert.FileExists(t, src)
	assert.NoFileExists(t, filepath.Join(dir, "capture.mp4"))
}

func TestPipeline_Finalize_rejects_finalized_source(t *testing.T) {
	tr := &fakeTranscoder{}
	_, err := NewPipeline(tr, logger.Discard()).Finalize(context.Background(), "/rec/x.mp4")
	var ferr *FinalizeError
	assert.ErrorAs(t, err, &ferr)
	assert.Zero(t, tr.callCount())
}

func TestFFmpegTranscoder_Args(t *testing.T) {
	want := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", "in.ts", "-c", "copy", "-movflags", "+faststart", "out.mp4"}
	if diff := cmp.Diff(want, FFmpegTranscoder{}.Args("in.ts", "out.mp4")); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestFFmpegTranscoder_missing_binary(t *testing.T) {
	tr := FFmpegTranscoder{Command: filepath.Join(t.TempDir(), "no-such-ffmpeg")}
	assert.Error(t, tr.Transcode(context.Background(), "in.ts", "out.mp4"))
}

func TestStreamlinkLauncher_Args(t *testing.T) {
	req := CaptureRequest{
		ChannelID:  chanA,
		OutputPath: "/rec/Alice/x.ts",
		Cookies:    chzzk.Cookies{NIDAut: "aut", NIDSes: "ses"},
	}

	want := []string{
		"--http-cookie", "NID_AUT=aut",
		"--http-cookie", "NID_SES=ses",
		"--output", "/rec/Alice/x.ts",
		"--force",
		chzzk.LiveURL(chanA),
		"best",
	}
	if diff := cmp.Diff(want, StreamlinkLauncher{}.Args(req)); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	args := StreamlinkLauncher{Quality: "720p,best"}.Args(req)
	assert.Equal(t, "720p,best", args[len(args)-1])
}

func TestStreamlinkLauncher_Launch_missing_binary(t *testing.T) {
	l := StreamlinkLauncher{Command: filepath.Join(t.TempDir(), "no-such-streamlink"), Log: logger.Discard()}
	_, err := l.Launch(context.Background(), CaptureRequest{ChannelID: chanA, OutputPath: "x.ts"})
	assert.Error(t, err)
}
