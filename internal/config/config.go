// Package config provides configuration management for clipd.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort        = 8990
	DefaultLogLevel    = "info"
	DefaultDataDir     = ".clipd"
	DefaultSTTBaseURL  = "https://api.openai.com/v1"
	DefaultSTTModel    = "whisper-1"
	DefaultMaxUploadMB = 500

	// Environment variable names
	EnvPort        = "CLIPD_PORT"
	EnvLogLevel    = "CLIPD_LOG_LEVEL"
	EnvDataDir     = "CLIPD_DATA_DIR"
	EnvFFmpeg      = "CLIPD_FFMPEG"
	EnvFFprobe     = "CLIPD_FFPROBE"
	EnvSTTBaseURL  = "CLIPD_STT_BASE_URL"
	EnvSTTAPIKey   = "CLIPD_STT_API_KEY"
	EnvSTTModel    = "CLIPD_STT_MODEL"
	EnvMaxUploadMB = "CLIPD_MAX_UPLOAD_MB"

	// Database filename
	DBFilename = "clipd.db"

	// Collaborator timeouts. A call that exceeds its bound is treated as a
	// failure, never as a hang.
	DefaultTimeoutProbe      = 30 * time.Second
	DefaultTimeoutExtract    = 10 * time.Minute
	DefaultTimeoutTranscribe = 30 * time.Minute
	DefaultTimeoutAssemble   = 15 * time.Minute
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	UploadsDir() string
	ClipsDir() string
	AudioDir() string
	FFmpegPath() string
	FFprobePath() string
	STTBaseURL() string
	STTAPIKey() string
	STTModel() string
	MaxUploadBytes() int64
	TimeoutProbe() time.Duration
	TimeoutExtract() time.Duration
	TimeoutTranscribe() time.Duration
	TimeoutAssemble() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port        int
	logLevel    string
	dataDir     string
	ffmpeg      string
	ffprobe     string
	sttBaseURL  string
	sttAPIKey   string
	sttModel    string
	maxUploadMB int64
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:        DefaultPort,
		logLevel:    DefaultLogLevel,
		dataDir:     defaultDataDir(),
		sttBaseURL:  DefaultSTTBaseURL,
		sttModel:    DefaultSTTModel,
		maxUploadMB: DefaultMaxUploadMB,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.ffmpeg = os.Getenv(EnvFFmpeg)
	cfg.ffprobe = os.Getenv(EnvFFprobe)
	cfg.sttAPIKey = os.Getenv(EnvSTTAPIKey)

	if u := os.Getenv(EnvSTTBaseURL); u != "" {
		cfg.sttBaseURL = u
	}
	if m := os.Getenv(EnvSTTModel); m != "" {
		cfg.sttModel = m
	}

	if mb := os.Getenv(EnvMaxUploadMB); mb != "" {
		n, err := strconv.ParseInt(mb, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxUploadMB, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxUploadMB)
		}
		cfg.maxUploadMB = n
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadsDir returns the directory holding original uploaded videos
func (c *EnvConfig) UploadsDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

// ClipsDir returns the directory holding assembled clips
func (c *EnvConfig) ClipsDir() string {
	return filepath.Join(c.dataDir, "clips")
}

// AudioDir returns the scratch directory for extracted audio
func (c *EnvConfig) AudioDir() string {
	return filepath.Join(c.dataDir, "audio")
}

// FFmpegPath returns the ffmpeg binary override, empty for PATH lookup
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

// FFprobePath returns the ffprobe binary override, empty for PATH lookup
func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

// STTBaseURL returns the speech-to-text API base URL
func (c *EnvConfig) STTBaseURL() string {
	return c.sttBaseURL
}

// STTAPIKey returns the speech-to-text API key
func (c *EnvConfig) STTAPIKey() string {
	return c.sttAPIKey
}

// STTModel returns the speech-to-text model name
func (c *EnvConfig) STTModel() string {
	return c.sttModel
}

// MaxUploadBytes returns the upload size limit in bytes
func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.maxUploadMB * 1024 * 1024
}

func (c *EnvConfig) TimeoutProbe() time.Duration {
	return DefaultTimeoutProbe
}

func (c *EnvConfig) TimeoutExtract() time.Duration {
	return DefaultTimeoutExtract
}

func (c *EnvConfig) TimeoutTranscribe() time.Duration {
	return DefaultTimeoutTranscribe
}

func (c *EnvConfig) TimeoutAssemble() time.Duration {
	return DefaultTimeoutAssemble
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
