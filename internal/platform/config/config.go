package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for floating point values.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvDuration parses the variable with time.ParseDuration. A bare integer
// is read as seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// Settings is the daemon configuration. Zero values are replaced by Defaults
// in Normalize.
type Settings struct {
	Port      string `toml:"port"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	DataDir   string `toml:"data_dir"`
	DBPath    string `toml:"db_path"`
	OutputDir string `toml:"output_dir"`

	PollInterval       Duration `toml:"poll_interval"`
	MaxConcurrentPolls int      `toml:"max_concurrent_polls"`
	APIRatePerSecond   float64  `toml:"api_rate_per_second"`
	HTTPRateLimit      int      `toml:"http_rate_limit"`

	CaptureCommand   string   `toml:"capture_command"`
	CaptureQuality   string   `toml:"capture_quality"`
	TranscodeCommand string   `toml:"transcode_command"`
	TerminateGrace   Duration `toml:"terminate_grace"`

	TrustedHostSuffix string `toml:"trusted_host_suffix"`

	// Seed credentials, written to the store at startup when set.
	NIDAut string `toml:"nid_aut"`
	NIDSes string `toml:"nid_ses"`
}

// Duration lets TOML files carry "30s"-style values.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Port:               "8080",
		LogLevel:           "info",
		LogFormat:          "auto",
		DataDir:            "data",
		OutputDir:          "recordings",
		PollInterval:       Duration{30 * time.Second},
		MaxConcurrentPolls: 8,
		APIRatePerSecond:   4,
		HTTPRateLimit:      120,
		CaptureCommand:     "streamlink",
		CaptureQuality:     "best",
		TranscodeCommand:   "ffmpeg",
		TerminateGrace:     Duration{30 * time.Second},
		TrustedHostSuffix:  "pstatic.net",
	}
}

// LoadFile decodes a TOML settings file on top of Defaults. A missing file is
// not an error.
func LoadFile(path string) (Settings, error) {
	s := Defaults()
	path = strings.TrimSpace(path)
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse config %s: %w", path, err)
	}
	return s, nil
}

// FromEnv loads CONFIG_FILE (if any) and applies environment overrides.
func FromEnv() (Settings, error) {
	s, err := LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return s, err
	}
	s.Port = GetEnv("PORT", s.Port)
	s.LogLevel = GetEnv("LOG_LEVEL", s.LogLevel)
	s.LogFormat = GetEnv("LOG_FORMAT", s.LogFormat)
	s.DataDir = GetEnv("DATA_DIR", s.DataDir)
	s.DBPath = GetEnv("DB_PATH", s.DBPath)
	s.OutputDir = GetEnv("OUTPUT_DIR", s.OutputDir)
	s.PollInterval.Duration = GetEnvDuration("POLL_INTERVAL", s.PollInterval.Duration)
	s.MaxConcurrentPolls = GetEnvInt("MAX_CONCURRENT_POLLS", s.MaxConcurrentPolls)
	s.APIRatePerSecond = GetEnvFloat("API_RATE_PER_SECOND", s.APIRatePerSecond)
	s.HTTPRateLimit = GetEnvInt("HTTP_RATE_LIMIT", s.HTTPRateLimit)
	s.CaptureCommand = GetEnv("CAPTURE_COMMAND", s.CaptureCommand)
	s.CaptureQuality = GetEnv("CAPTURE_QUALITY", s.CaptureQuality)
	s.TranscodeCommand = GetEnv("TRANSCODE_COMMAND", s.TranscodeCommand)
	s.TerminateGrace.Duration = GetEnvDuration("TERMINATE_GRACE", s.TerminateGrace.Duration)
	s.TrustedHostSuffix = GetEnv("TRUSTED_HOST_SUFFIX", s.TrustedHostSuffix)
	s.NIDAut = GetEnv("NID_AUT", s.NIDAut)
	s.NIDSes = GetEnv("NID_SES", s.NIDSes)
	return s.Normalize()
}

// Normalize fills derived paths and rejects unusable values.
func (s Settings) Normalize() (Settings, error) {
	d := Defaults()
	if s.Port == "" {
		s.Port = d.Port
	}
	if s.DataDir == "" {
		s.DataDir = d.DataDir
	}
	if s.DBPath == "" {
		s.DBPath = filepath.Join(s.DataDir, "recorder.db")
	}
	if s.OutputDir == "" {
		s.OutputDir = d.OutputDir
	}
	if s.PollInterval.Duration <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.MaxConcurrentPolls <= 0 {
		s.MaxConcurrentPolls = d.MaxConcurrentPolls
	}
	if s.APIRatePerSecond <= 0 {
		s.APIRatePerSecond = d.APIRatePerSecond
	}
	if s.TerminateGrace.Duration <= 0 {
		s.TerminateGrace = d.TerminateGrace
	}
	if s.CaptureQuality == "" {
		s.CaptureQuality = d.CaptureQuality
	}
	if strings.TrimSpace(s.CaptureCommand) == "" {
		return s, errors.New("capture_command must not be empty")
	}
	if strings.TrimSpace(s.TranscodeCommand) == "" {
		return s, errors.New("transcode_command must not be empty")
	}
	return s, nil
}
