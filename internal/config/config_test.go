package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.HTTP.Port = 70000 },
			errorMsg: "port must be between 1 and 65535",
		},
		{
			name:     "zero ping interval",
			mutate:   func(c *Config) { c.HTTP.PingInterval = 0 },
			errorMsg: "ping_interval must be at least 1 second",
		},
		{
			name:     "unknown driver",
			mutate:   func(c *Config) { c.Storage.Driver = "mongo" },
			errorMsg: "driver must be one of",
		},
		{
			name:     "postgres without url",
			mutate:   func(c *Config) { c.Storage.Driver = DriverPostgres },
			errorMsg: "postgres.url cannot be empty",
		},
		{
			name: "postgres with url",
			mutate: func(c *Config) {
				c.Storage.Driver = DriverPostgres
				c.Storage.Postgres.URL = "postgres://localhost/indicvoice"
			},
		},
		{
			name:   "redis",
			mutate: func(c *Config) { c.Storage.Driver = DriverRedis },
		},
		{
			name:     "sqlite without path",
			mutate:   func(c *Config) { c.Storage.SQLite.Path = "" },
			errorMsg: "sqlite.path cannot be empty",
		},
		{
			name:     "unknown engine",
			mutate:   func(c *Config) { c.Transcription.Engine = "whisper" },
			errorMsg: "engine must be 'demo' or 'http'",
		},
		{
			name:     "demo latency inverted",
			mutate:   func(c *Config) { c.Transcription.Demo.MaxLatencyMs = 100 },
			errorMsg: "demo.max_latency_ms (100) must not be less than demo.min_latency_ms (500)",
		},
		{
			name:     "http engine without endpoint",
			mutate:   func(c *Config) { c.Transcription.Engine = EngineHTTP },
			errorMsg: "endpoint cannot be empty",
		},
		{
			name: "http engine",
			mutate: func(c *Config) {
				c.Transcription.Engine = EngineHTTP
				c.Transcription.Endpoint = "http://localhost:8080/transcribe"
			},
		},
		{
			name:     "negative chunk limit",
			mutate:   func(c *Config) { c.Audio.MaxChunkBytes = -1 },
			errorMsg: "max_chunk_bytes cannot be negative",
		},
		{
			name: "reaper without interval",
			mutate: func(c *Config) {
				c.Session.IdleTimeout = 300
				c.Session.ReapInterval = 0
			},
			errorMsg: "reap_interval must be at least 1 second",
		},
		{
			name:     "empty language name",
			mutate:   func(c *Config) { c.Languages = map[string]string{"hi": ""} },
			errorMsg: "languages:",
		},
		{
			name:     "publish without brokers",
			mutate:   func(c *Config) { c.Publish.Enabled = true },
			errorMsg: "brokers cannot be empty",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "verbose" },
			errorMsg: "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errorMsg)
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
		check       func(*testing.T, *Config)
	}{
		{
			name: "partial file keeps defaults",
			configYAML: `
http:
  port: 9090
storage:
  driver: sqlite
  sqlite:
    path: ":memory:"
`,
			check: func(t *testing.T, c *Config) {
				if c.HTTP.Port != 9090 {
					t.Errorf("port = %d, want 9090", c.HTTP.Port)
				}
				if c.HTTP.Address != "0.0.0.0" {
					t.Errorf("address = %q, want default", c.HTTP.Address)
				}
				if c.Transcription.Engine != EngineDemo {
					t.Errorf("engine = %q, want demo", c.Transcription.Engine)
				}
				if c.Storage.SQLite.Path != ":memory:" {
					t.Errorf("sqlite path = %q", c.Storage.SQLite.Path)
				}
			},
		},
		{
			name: "custom language table",
			configYAML: `
languages:
  hi: Hindi
  en: English
`,
			check: func(t *testing.T, c *Config) {
				table, err := c.LanguageTable()
				if err != nil {
					t.Fatalf("LanguageTable() error = %v", err)
				}
				if table.Len() != 2 || !table.Supports("en") || table.Supports("ta") {
					t.Errorf("unexpected table: %+v", table.List())
				}
			},
		},
		{
			name: "http engine section",
			configYAML: `
transcription:
  engine: http
  endpoint: http://localhost:8080/transcribe
  timeout: 15
  max_concurrent: 4
`,
			check: func(t *testing.T, c *Config) {
				if c.Transcription.GetTimeoutDuration() != 15*time.Second {
					t.Errorf("timeout = %v", c.Transcription.GetTimeoutDuration())
				}
				if c.Transcription.MaxRetries != 3 {
					t.Errorf("max_retries = %d, want default 3", c.Transcription.MaxRetries)
				}
			},
		},
		{
			name:        "invalid yaml",
			configYAML:  "http: [unterminated",
			expectError: true,
		},
		{
			name: "invalid values",
			configYAML: `
logging:
  format: xml
`,
			expectError: true,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config"+string(rune('a'+i))+".yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := Load(configPath)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://env-host/db")
	t.Setenv(EnvRedisPassword, "s3cret")
	t.Setenv(EnvTranscriptionKey, "key-from-env")
	t.Setenv(EnvKafkaBrokers, "k1:9092, k2:9092,")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
storage:
  driver: postgres
  postgres:
    url: postgres://file-host/db
transcription:
  api_key: key-from-file
publish:
  enabled: true
`
	if err := os.WriteFile(configPath, []byte(yamlData), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Postgres.URL != "postgres://env-host/db" {
		t.Errorf("postgres url = %q", cfg.Storage.Postgres.URL)
	}
	if cfg.Storage.Redis.Password != "s3cret" {
		t.Errorf("redis password = %q", cfg.Storage.Redis.Password)
	}
	if cfg.Transcription.APIKey != "key-from-env" {
		t.Errorf("api key = %q", cfg.Transcription.APIKey)
	}
	if len(cfg.Publish.Brokers) != 2 || cfg.Publish.Brokers[0] != "k1:9092" || cfg.Publish.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Publish.Brokers)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
	if err := LoadDotEnv(""); err != nil {
		t.Errorf("empty path should be ignored, got %v", err)
	}

	const key = "INDICVOICE_TEST_DOTENV_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) })

	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte(key+"=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Errorf("%s = %q, want from-dotenv", key, got)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"read timeout", cfg.HTTP.GetReadTimeout(), 30 * time.Second},
		{"write timeout", cfg.HTTP.GetWriteTimeout(), 60 * time.Second},
		{"idle timeout", cfg.HTTP.GetIdleTimeout(), 120 * time.Second},
		{"ping interval", cfg.HTTP.GetPingInterval(), 30 * time.Second},
		{"pool lifetime", cfg.Storage.Postgres.GetMaxConnLifetime(), 30 * time.Minute},
		{"redis dial", cfg.Storage.Redis.GetDialTimeout(), 5 * time.Second},
		{"demo min latency", cfg.Transcription.Demo.GetMinLatency(), 500 * time.Millisecond},
		{"demo max latency", cfg.Transcription.Demo.GetMaxLatency(), 1200 * time.Millisecond},
		{"session idle", cfg.Session.GetIdleTimeoutDuration(), 0},
		{"reap interval", cfg.Session.GetReapIntervalDuration(), 30 * time.Second},
		{"batch timeout", cfg.Publish.GetBatchTimeout(), 50 * time.Millisecond},
		{"kafka write", cfg.Publish.GetWriteTimeout(), 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}
