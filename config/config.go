package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Sampler    SamplerConfig    `yaml:"sampler"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
// Push is disabled when either key is empty.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// TrackerConfig holds the presence state machine policy.
// AutoLogOn is nil until ApplyDefaults, which sets it to true when unset.
type TrackerConfig struct {
	DebounceSeconds float64        `yaml:"debounce_seconds"`
	Debounce        time.Duration  `yaml:"-"`
	Timezone        string         `yaml:"timezone"`
	Location        *time.Location `yaml:"-"`
	AutoLogOn       *bool          `yaml:"auto_log_on"`
}

// SamplerConfig holds the sampling loop configuration.
type SamplerConfig struct {
	Enabled        bool           `yaml:"enabled"`
	SampleRateHz   float64        `yaml:"sample_rate_hz"`
	RetryBackoffMs int            `yaml:"retry_backoff_ms"`
	RetryBackoff   time.Duration  `yaml:"-"`
	Source         EndpointConfig `yaml:"source"`
	Classifier     EndpointConfig `yaml:"classifier"`
}

// EndpointConfig describes an HTTP collaborator of the sampler.
type EndpointConfig struct {
	URL            string            `yaml:"url"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	HTTPProxy      string            `yaml:"http_proxy"`
	Headers        map[string]string `yaml:"headers"`
}

// Timeout returns the request timeout for the endpoint.
func (e EndpointConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// WebSocketConfig tunes the per-subscriber connection pumps.
type WebSocketConfig struct {
	SendBuffer          int `yaml:"send_buffer"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	PongTimeoutSeconds  int `yaml:"pong_timeout_seconds"`
}

// Load reads the configuration from the given path. Values from the
// environment (and a .env file in the working directory, if any) override
// the file; see ApplyEnv.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with ZENFLOW_* environment variables so
// secrets and deployment specifics can stay out of the YAML file.
func (cfg *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("ZENFLOW_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.Server.Port = port
	}
	overrides := map[string]*string{
		"ZENFLOW_DATABASE_DRIVER":   &cfg.Database.Driver,
		"ZENFLOW_DATABASE_DSN":      &cfg.Database.DSN,
		"ZENFLOW_TIMEZONE":          &cfg.Tracker.Timezone,
		"ZENFLOW_VAPID_PUBLIC_KEY":  &cfg.Push.PublicKey,
		"ZENFLOW_VAPID_PRIVATE_KEY": &cfg.Push.PrivateKey,
		"ZENFLOW_VAPID_SUBJECT":     &cfg.Push.Subject,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	return nil
}

// ApplyDefaults fills unset values and derives the duration fields.
func (cfg *Config) ApplyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Tracker.DebounceSeconds <= 0 {
		cfg.Tracker.DebounceSeconds = 5.0
	}
	cfg.Tracker.Debounce = time.Duration(cfg.Tracker.DebounceSeconds * float64(time.Second))

	if cfg.Tracker.Timezone == "" {
		cfg.Tracker.Timezone = "Local"
	}
	loc, err := time.LoadLocation(cfg.Tracker.Timezone)
	if err != nil {
		return err
	}
	cfg.Tracker.Location = loc
	if cfg.Tracker.AutoLogOn == nil {
		autoLogOn := true
		cfg.Tracker.AutoLogOn = &autoLogOn
	}

	if cfg.Sampler.SampleRateHz <= 0 {
		cfg.Sampler.SampleRateHz = 10
	}
	if cfg.Sampler.RetryBackoffMs <= 0 {
		cfg.Sampler.RetryBackoffMs = 100
	}
	cfg.Sampler.RetryBackoff = time.Duration(cfg.Sampler.RetryBackoffMs) * time.Millisecond
	if cfg.Sampler.Source.TimeoutSeconds <= 0 {
		cfg.Sampler.Source.TimeoutSeconds = 5
	}
	if cfg.Sampler.Classifier.TimeoutSeconds <= 0 {
		cfg.Sampler.Classifier.TimeoutSeconds = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "presence_logs.db"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = 16
	}
	if cfg.WebSocket.WriteTimeoutSeconds <= 0 {
		cfg.WebSocket.WriteTimeoutSeconds = 10
	}
	if cfg.WebSocket.PongTimeoutSeconds <= 0 {
		cfg.WebSocket.PongTimeoutSeconds = 60
	}
	return nil
}
