package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aarutech20/indicVoice/internal/language"
)

// Environment variables that override secrets and endpoints from the file.
const (
	EnvDatabaseURL      = "INDICVOICE_DATABASE_URL"
	EnvRedisPassword    = "INDICVOICE_REDIS_PASSWORD"
	EnvTranscriptionKey = "INDICVOICE_TRANSCRIPTION_API_KEY"
	EnvKafkaBrokers     = "INDICVOICE_KAFKA_BROKERS"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Transcription engines
const (
	EngineDemo = "demo"
	EngineHTTP = "http"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Storage       StorageConfig       `yaml:"storage"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Audio         AudioConfig         `yaml:"audio"`
	Session       SessionConfig       `yaml:"session"`
	Languages     map[string]string   `yaml:"languages"` // code -> display name; empty means the built-in table
	Publish       PublishConfig       `yaml:"publish"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP and WebSocket server configuration
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	Address        string   `yaml:"address"`
	ReadTimeout    int      `yaml:"read_timeout"`  // seconds
	WriteTimeout   int      `yaml:"write_timeout"` // seconds
	IdleTimeout    int      `yaml:"idle_timeout"`  // seconds
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	PingInterval   int      `yaml:"ping_interval"` // seconds
	MaxInflight    int      `yaml:"max_inflight"`  // chunks per WebSocket connection
}

// StorageConfig selects and configures the durable store
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"` // file path or ":memory:"
}

type PostgresConfig struct {
	URL             string `yaml:"url"`
	MaxConns        int32  `yaml:"max_conns"`
	MaxConnLifetime int    `yaml:"max_conn_lifetime"` // seconds
}

type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
	DialTimeout int    `yaml:"dial_timeout"` // seconds
	KeyPrefix   string `yaml:"key_prefix"`
}

// TranscriptionConfig selects the transcription engine
type TranscriptionConfig struct {
	Engine        string     `yaml:"engine"`
	Demo          DemoConfig `yaml:"demo"`
	Endpoint      string     `yaml:"endpoint"`
	HealthURL     string     `yaml:"health_url"`
	APIKey        string     `yaml:"api_key"`
	Model         string     `yaml:"model"`
	Timeout       int        `yaml:"timeout"` // seconds
	MaxRetries    int        `yaml:"max_retries"`
	MaxConcurrent int        `yaml:"max_concurrent"`
}

// DemoConfig controls the simulated latency of the demo engine
type DemoConfig struct {
	MinLatencyMs int `yaml:"min_latency_ms"`
	MaxLatencyMs int `yaml:"max_latency_ms"`
}

// AudioConfig contains chunk limits
type AudioConfig struct {
	MaxChunkBytes     int `yaml:"max_chunk_bytes"` // decoded bytes; 0 means unlimited
	DefaultSampleRate int `yaml:"default_sample_rate"`
}

// SessionConfig controls the idle session reaper
type SessionConfig struct {
	IdleTimeout  int `yaml:"idle_timeout"`  // seconds; 0 disables the reaper
	ReapInterval int `yaml:"reap_interval"` // seconds
}

// PublishConfig controls the Kafka result publisher
type PublishConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	BatchTimeoutMs int      `yaml:"batch_timeout_ms"`
	WriteTimeout   int      `yaml:"write_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs without any external services:
// SQLite file storage and the demo engine.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         8000,
			Address:      "0.0.0.0",
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
			MaxBodyBytes: 10 << 20,
			PingInterval: 30,
			MaxInflight:  4,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			SQLite: SQLiteConfig{Path: "indicvoice.db"},
			Postgres: PostgresConfig{
				MaxConns:        10,
				MaxConnLifetime: 1800,
			},
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				PoolSize:    10,
				DialTimeout: 5,
				KeyPrefix:   "indicvoice",
			},
		},
		Transcription: TranscriptionConfig{
			Engine:        EngineDemo,
			Demo:          DemoConfig{MinLatencyMs: 500, MaxLatencyMs: 1200},
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 10,
		},
		Audio: AudioConfig{
			MaxChunkBytes:     8 << 20,
			DefaultSampleRate: 16000,
		},
		Session: SessionConfig{
			IdleTimeout:  0,
			ReapInterval: 30,
		},
		Publish: PublishConfig{
			Topic:          "transcription-results",
			BatchTimeoutMs: 50,
			WriteTimeout:   10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads environment variables from an env file. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.Postgres.URL = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv(EnvTranscriptionKey); v != "" {
		c.Transcription.APIKey = v
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Publish.Brokers = brokers
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if _, err := c.LanguageTable(); err != nil {
		return fmt.Errorf("languages: %w", err)
	}

	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// LanguageTable builds the configured language table, or the built-in one
// when the languages section is empty.
func (c *Config) LanguageTable() (*language.Table, error) {
	if len(c.Languages) == 0 {
		return language.Default(), nil
	}
	return language.NewTable(c.Languages)
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.ReadTimeout < 0 || h.WriteTimeout < 0 || h.IdleTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if h.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes cannot be negative, got %d", h.MaxBodyBytes)
	}

	if h.PingInterval < 1 {
		return fmt.Errorf("ping_interval must be at least 1 second, got %d", h.PingInterval)
	}

	if h.MaxInflight < 1 {
		return fmt.Errorf("max_inflight must be at least 1, got %d", h.MaxInflight)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	switch s.Driver {
	case DriverSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path cannot be empty")
		}
	case DriverPostgres:
		if s.Postgres.URL == "" {
			return fmt.Errorf("postgres.url cannot be empty (set it or %s)", EnvDatabaseURL)
		}
		if s.Postgres.MaxConns < 1 {
			return fmt.Errorf("postgres.max_conns must be at least 1, got %d", s.Postgres.MaxConns)
		}
	case DriverRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr cannot be empty")
		}
		if s.Redis.DB < 0 {
			return fmt.Errorf("redis.db cannot be negative, got %d", s.Redis.DB)
		}
	default:
		return fmt.Errorf("driver must be one of [sqlite, postgres, redis], got '%s'", s.Driver)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Engine {
	case EngineDemo:
		if t.Demo.MinLatencyMs < 0 {
			return fmt.Errorf("demo.min_latency_ms cannot be negative, got %d", t.Demo.MinLatencyMs)
		}
		if t.Demo.MaxLatencyMs < t.Demo.MinLatencyMs {
			return fmt.Errorf("demo.max_latency_ms (%d) must not be less than demo.min_latency_ms (%d)",
				t.Demo.MaxLatencyMs, t.Demo.MinLatencyMs)
		}
	case EngineHTTP:
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http engine")
		}
		if t.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
		}
		if t.MaxRetries < 0 {
			return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
		}
		if t.MaxConcurrent < 1 {
			return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
		}
	default:
		return fmt.Errorf("engine must be 'demo' or 'http', got '%s'", t.Engine)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.MaxChunkBytes < 0 {
		return fmt.Errorf("max_chunk_bytes cannot be negative, got %d", a.MaxChunkBytes)
	}

	if a.DefaultSampleRate < 1 {
		return fmt.Errorf("default_sample_rate must be positive, got %d", a.DefaultSampleRate)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", s.IdleTimeout)
	}

	if s.IdleTimeout > 0 && s.ReapInterval < 1 {
		return fmt.Errorf("reap_interval must be at least 1 second when idle_timeout is set, got %d", s.ReapInterval)
	}

	return nil
}

// Validate validates publish configuration
func (p *PublishConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if len(p.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty when publishing is enabled (set them or %s)", EnvKafkaBrokers)
	}

	if p.Topic == "" {
		return fmt.Errorf("topic cannot be empty when publishing is enabled")
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

	// Output is stdout, stderr or a file path.
	return nil
}

// GetReadTimeout returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetIdleTimeout returns the idle timeout as a time.Duration
func (h *HTTPConfig) GetIdleTimeout() time.Duration {
	return time.Duration(h.IdleTimeout) * time.Second
}

// GetPingInterval returns the WebSocket ping interval as a time.Duration
func (h *HTTPConfig) GetPingInterval() time.Duration {
	return time.Duration(h.PingInterval) * time.Second
}

// GetMaxConnLifetime returns the pool connection lifetime as a time.Duration
func (p *PostgresConfig) GetMaxConnLifetime() time.Duration {
	return time.Duration(p.MaxConnLifetime) * time.Second
}

// GetDialTimeout returns the Redis dial timeout as a time.Duration
func (r *RedisConfig) GetDialTimeout() time.Duration {
	return time.Duration(r.DialTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetMinLatency returns the demo engine's minimum latency
func (d *DemoConfig) GetMinLatency() time.Duration {
	return time.Duration(d.MinLatencyMs) * time.Millisecond
}

// GetMaxLatency returns the demo engine's maximum latency
func (d *DemoConfig) GetMaxLatency() time.Duration {
	return time.Duration(d.MaxLatencyMs) * time.Millisecond
}

// GetIdleTimeoutDuration returns the session idle timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetReapIntervalDuration returns the reaper interval as a time.Duration
func (s *SessionConfig) GetReapIntervalDuration() time.Duration {
	return time.Duration(s.ReapInterval) * time.Second
}

// GetBatchTimeout returns the Kafka batch timeout as a time.Duration
func (p *PublishConfig) GetBatchTimeout() time.Duration {
	return time.Duration(p.BatchTimeoutMs) * time.Millisecond
}

// GetWriteTimeout returns the Kafka write timeout as a time.Duration
func (p *PublishConfig) GetWriteTimeout() time.Duration {
	return time.Duration(p.WriteTimeout) * time.Second
}
