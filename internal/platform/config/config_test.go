package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_INTERVAL", "45s")
	if got := GetEnvDuration("TEST_INTERVAL", time.Second); got != 45*time.Second {
		t.Errorf("expected 45s, got %s", got)
	}

	t.Setenv("TEST_INTERVAL", "12")
	if got := GetEnvDuration("TEST_INTERVAL", time.Second); got != 12*time.Second {
		t.Errorf("bare integer should be seconds, got %s", got)
	}

	t.Setenv("TEST_INTERVAL", "soon")
	if got := GetEnvDuration("TEST_INTERVAL", time.Second); got != time.Second {
		t.Errorf("invalid value should use fallback, got %s", got)
	}
}

func TestLoadFile_missing_uses_defaults(t *testing.T) {
	s, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.CaptureCommand != "streamlink" || s.PollInterval.Duration != 30*time.Second {
		t.Errorf("unexpected defaults: %+v", s)
	}
}

func TestLoadFile_overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.toml")
	body := `
output_dir = "/srv/rec"
poll_interval = "10s"
capture_quality = "1080p"
max_concurrent_polls = 3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.OutputDir != "/srv/rec" {
		t.Errorf("output_dir: got %q", s.OutputDir)
	}
	if s.PollInterval.Duration != 10*time.Second {
		t.Errorf("poll_interval: got %s", s.PollInterval)
	}
	if s.CaptureQuality != "1080p" || s.MaxConcurrentPolls != 3 {
		t.Errorf("unexpected settings: %+v", s)
	}
	if s.TranscodeCommand != "ffmpeg" {
		t.Errorf("unset keys should keep defaults, got %q", s.TranscodeCommand)
	}
}

func TestLoadFile_bad_duration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.toml")
	if err := os.WriteFile(path, []byte(`poll_interval = "often"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestFromEnv_env_overrides_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recorder.toml")
	if err := os.WriteFile(path, []byte(`output_dir = "/from/file"`+"\n"+`data_dir = "`+dir+`"`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("OUTPUT_DIR", "/from/env")
	t.Setenv("POLL_INTERVAL", "1m")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.OutputDir != "/from/env" {
		t.Errorf("env should win, got %q", s.OutputDir)
	}
	if s.PollInterval.Duration != time.Minute {
		t.Errorf("poll interval: got %s", s.PollInterval)
	}
	if s.DBPath != filepath.Join(dir, "recorder.db") {
		t.Errorf("db path should derive from data dir, got %q", s.DBPath)
	}
}

func TestNormalize_rejects_empty_commands(t *testing.T) {
	s := Defaults()
	s.CaptureCommand = " "
	if _, err := s.Normalize(); err == nil {
		t.Error("expected error for empty capture command")
	}
}
