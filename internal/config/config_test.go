package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config failed validation: %v", err)
	}
	if cfg.Daemon.Port != 18888 {
		t.Errorf("default port = %d, expected 18888", cfg.Daemon.Port)
	}
	if cfg.Audio.SegmentSizeBytes() != 6400 {
		t.Errorf("default segment size = %d, expected 6400", cfg.Audio.SegmentSizeBytes())
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config { return Default() }

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "default configuration",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "invalid daemon port",
			mutate:      func(c *Config) { c.Daemon.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "empty daemon address",
			mutate:      func(c *Config) { c.Daemon.Address = "" },
			expectError: true,
			errorMsg:    "address cannot be empty",
		},
		{
			name:        "empty asr url",
			mutate:      func(c *Config) { c.ASR.URL = "" },
			expectError: true,
			errorMsg:    "url cannot be empty",
		},
		{
			name:        "wrong sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 8000 },
			expectError: true,
			errorMsg:    "sample_rate must be 16000 Hz",
		},
		{
			name:        "stereo capture rejected",
			mutate:      func(c *Config) { c.Audio.Channels = 2 },
			expectError: true,
			errorMsg:    "channels must be 1",
		},
		{
			name:        "zero finish timeout",
			mutate:      func(c *Config) { c.Stream.FinishTimeout = 0 },
			expectError: true,
			errorMsg:    "finish_timeout must be positive",
		},
		{
			name:        "negative cleanup grace",
			mutate:      func(c *Config) { c.Stream.CleanupGrace = -0.1 },
			expectError: true,
			errorMsg:    "cleanup_grace cannot be negative",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
			errorMsg:    "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(*testing.T, *Config)
	}{
		{
			name: "partial file merges over defaults",
			configYAML: `
daemon:
  port: 9999
logging:
  level: "debug"
  format: "json"
`,
			check: func(t *testing.T, c *Config) {
				if c.Daemon.Port != 9999 {
					t.Errorf("port = %d, expected 9999", c.Daemon.Port)
				}
				if c.Logging.Level != "debug" {
					t.Errorf("level = %s, expected debug", c.Logging.Level)
				}
				// Untouched sections keep their defaults.
				if c.Audio.SampleRate != 16000 {
					t.Errorf("sample_rate = %d, expected default 16000", c.Audio.SampleRate)
				}
				if c.Stream.FinishTimeout != 1.5 {
					t.Errorf("finish_timeout = %f, expected default 1.5", c.Stream.FinishTimeout)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
daemon:
  port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid values rejected",
			configYAML: `
audio:
  sample_rate: 44100
`,
			expectError: true,
			errorMsg:    "sample_rate must be 16000 Hz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config)
			}
		})
	}
}

func TestConfigLoadMissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if config.Daemon.Port != 18888 {
		t.Errorf("port = %d, expected default 18888", config.Daemon.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvDaemonPort, "23456")
	t.Setenv(EnvAppKey, "app-from-env")
	t.Setenv(EnvAccessKey, "access-from-env")

	config, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Daemon.Port != 23456 {
		t.Errorf("port = %d, expected env override 23456", config.Daemon.Port)
	}
	if config.ASR.AppKey != "app-from-env" {
		t.Errorf("app key = %s, expected app-from-env", config.ASR.AppKey)
	}
	if config.ASR.AccessKey != "access-from-env" {
		t.Errorf("access key = %s, expected access-from-env", config.ASR.AccessKey)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	yaml := `
daemon:
  port: 9999
asr:
  app_key: "app-from-file"
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	t.Setenv(EnvDaemonPort, "23456")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Daemon.Port != 23456 {
		t.Errorf("port = %d, env must beat file value 9999", config.Daemon.Port)
	}
	if config.ASR.AppKey != "app-from-file" {
		t.Errorf("app key = %s, expected file value to survive", config.ASR.AppKey)
	}
}

func TestDurationHelpers(t *testing.T) {
	stream := StreamConfig{
		HandshakeTimeout: 5.0,
		SendTimeout:      2.0,
		FinishTimeout:    1.5,
		CleanupGrace:     0.3,
		StopTimeout:      0.5,
	}

	if stream.GetHandshakeTimeout() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", stream.GetHandshakeTimeout())
	}
	if stream.GetSendTimeout() != 2*time.Second {
		t.Errorf("Expected 2 seconds, got %v", stream.GetSendTimeout())
	}
	if stream.GetFinishTimeout() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", stream.GetFinishTimeout())
	}
	if stream.GetCleanupGrace() != 300*time.Millisecond {
		t.Errorf("Expected 0.3 seconds, got %v", stream.GetCleanupGrace())
	}
	if stream.GetStopTimeout() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", stream.GetStopTimeout())
	}
}
