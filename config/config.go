package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPluginID is the identity stamped on every push message and used as the API path segment.
const DefaultPluginID = "whosprinting"

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Plugin     PluginConfig     `yaml:"plugin"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	NATS       NATSConfig       `yaml:"nats"`
	Tag        TagConfig        `yaml:"tag"`
	Client     ClientConfig     `yaml:"client"`
}

// PluginConfig identifies this machine on the push channel.
type PluginConfig struct {
	ID          string `yaml:"id"`
	MachineName string `yaml:"machine_name"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "postgres" or "sqlite"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// NATSConfig enables mirroring push messages onto a NATS subject.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// TagConfig controls how tag scans from the sensor subsystem are handled.
type TagConfig struct {
	RaiseStartOnSwipe bool `yaml:"raise_start_on_swipe"`
	MinLength         int  `yaml:"min_length"`
}

// ClientConfig is read by the CLI when it attaches a session to a server.
type ClientConfig struct {
	BaseURL               string        `yaml:"base_url"`
	TimeoutSeconds        int           `yaml:"timeout_seconds"`
	Timeout               time.Duration `yaml:"-"`
	CaptureTimeoutSeconds int           `yaml:"capture_timeout_seconds"`
	CaptureTimeout        time.Duration `yaml:"-"`
	HistoryLimit          int           `yaml:"history_limit"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
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

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (cfg *Config) ApplyDefaults() {
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
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Plugin.ID == "" {
		cfg.Plugin.ID = DefaultPluginID
	}
	if cfg.Plugin.MachineName == "" {
		cfg.Plugin.MachineName = "printer"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "whosprinting.events"
	}

	if cfg.Tag.MinLength <= 0 {
		cfg.Tag.MinLength = 4
	}

	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "http://localhost:5000"
	}
	if cfg.Client.TimeoutSeconds <= 0 {
		cfg.Client.TimeoutSeconds = 10
	}
	cfg.Client.Timeout = time.Duration(cfg.Client.TimeoutSeconds) * time.Second
	if cfg.Client.CaptureTimeoutSeconds <= 0 {
		cfg.Client.CaptureTimeoutSeconds = 30
	}
	cfg.Client.CaptureTimeout = time.Duration(cfg.Client.CaptureTimeoutSeconds) * time.Second
	if cfg.Client.HistoryLimit <= 0 {
		cfg.Client.HistoryLimit = 50
	}
}

// CacheTTL returns the response cache lifetime.
func (s ServerConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}
