package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables taking precedence over the config file.
const (
	EnvDaemonPort = "DOUBAO_DAEMON_PORT"
	EnvAppKey     = "DOUBAO_APP_KEY"
	EnvAccessKey  = "DOUBAO_ACCESS_KEY"
)

// Config represents the complete daemon configuration
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	ASR     ASRConfig     `yaml:"asr"`
	Audio   AudioConfig   `yaml:"audio"`
	Stream  StreamConfig  `yaml:"stream"`
	Logging LoggingConfig `yaml:"logging"`
}

// DaemonConfig contains the HTTP control server configuration
type DaemonConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// ASRConfig contains the recognition endpoint configuration
type ASRConfig struct {
	URL        string `yaml:"url"`
	AppKey     string `yaml:"app_key"`
	AccessKey  string `yaml:"access_key"`
	ResourceID string `yaml:"resource_id"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	BitDepth        int `yaml:"bit_depth"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
	SegmentDuration int `yaml:"segment_duration_ms"`
}

// StreamConfig contains streaming session timeouts
type StreamConfig struct {
	HandshakeTimeout float64 `yaml:"handshake_timeout"` // seconds
	SendTimeout      float64 `yaml:"send_timeout"`      // seconds
	FinishTimeout    float64 `yaml:"finish_timeout"`    // seconds
	CleanupGrace     float64 `yaml:"cleanup_grace"`     // seconds
	StopTimeout      float64 `yaml:"stop_timeout"`      // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration used when no config file
// exists. The daemon must start with zero files present.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Port:    18888,
			Address: "127.0.0.1",
		},
		ASR: ASRConfig{
			URL:        "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async",
			ResourceID: "volc.seedasr.sauc.duration",
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			BitDepth:        16,
			FramesPerBuffer: 1024,
			SegmentDuration: 200,
		},
		Stream: StreamConfig{
			HandshakeTimeout: 5.0,
			SendTimeout:      2.0,
			FinishTimeout:    1.5,
			CleanupGrace:     0.3,
			StopTimeout:      0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file at path, applies environment overrides,
// and validates the result. A missing file is not an error: defaults are
// used so the daemon starts without any configuration present.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDaemonPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Daemon.Port = port
		}
	}
	if v := os.Getenv(EnvAppKey); v != "" {
		c.ASR.AppKey = v
	}
	if v := os.Getenv(EnvAccessKey); v != "" {
		c.ASR.AccessKey = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Daemon.Validate(); err != nil {
		return fmt.Errorf("daemon config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates daemon configuration
func (d *DaemonConfig) Validate() error {
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	}

	if d.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates ASR configuration. Credentials are not required at
// startup so status and health stay reachable; the session checks them
// when a recording starts.
func (a *ASRConfig) Validate() error {
	if a.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if a.ResourceID == "" {
		return fmt.Errorf("resource_id cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the recognition endpoint, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", a.FramesPerBuffer)
	}

	if a.SegmentDuration < 10 {
		return fmt.Errorf("segment_duration_ms must be at least 10, got %d", a.SegmentDuration)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %f", s.HandshakeTimeout)
	}

	if s.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive, got %f", s.SendTimeout)
	}

	if s.FinishTimeout <= 0 {
		return fmt.Errorf("finish_timeout must be positive, got %f", s.FinishTimeout)
	}

	if s.CleanupGrace < 0 {
		return fmt.Errorf("cleanup_grace cannot be negative, got %f", s.CleanupGrace)
	}

	if s.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %f", s.StopTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// SegmentSizeBytes returns the wire segment size derived from the audio
// parameters.
func (a *AudioConfig) SegmentSizeBytes() int {
	return a.SampleRate * (a.BitDepth / 8) * a.SegmentDuration / 1000
}

// GetHandshakeTimeout returns the handshake timeout as a time.Duration
func (s *StreamConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeout * float64(time.Second))
}

// GetSendTimeout returns the per-frame send timeout as a time.Duration
func (s *StreamConfig) GetSendTimeout() time.Duration {
	return time.Duration(s.SendTimeout * float64(time.Second))
}

// GetFinishTimeout returns the graceful-finish join timeout as a time.Duration
func (s *StreamConfig) GetFinishTimeout() time.Duration {
	return time.Duration(s.FinishTimeout * float64(time.Second))
}

// GetCleanupGrace returns the post-finish cleanup grace as a time.Duration
func (s *StreamConfig) GetCleanupGrace() time.Duration {
	return time.Duration(s.CleanupGrace * float64(time.Second))
}

// GetStopTimeout returns the forced-stop join timeout as a time.Duration
func (s *StreamConfig) GetStopTimeout() time.Duration {
	return time.Duration(s.StopTimeout * float64(time.Second))
}
