package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings
const (
	EnvAPIKey      = "OUTREACH_API_KEY"
	EnvStoragePath = "OUTREACH_STORAGE_PATH"
	EnvAMQPURL     = "OUTREACH_AMQP_URL"
	EnvRedisAddr   = "OUTREACH_REDIS_ADDR"
	EnvLogLevel    = "OUTREACH_LOG_LEVEL"
	EnvDemoEnabled = "OUTREACH_DEMO_ENABLED"
)

// Config is the main configuration structure
type Config struct {
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Campaign  CampaignConfig  `yaml:"campaign"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Lock      LockConfig      `yaml:"lock"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeyHash     string        `yaml:"api_key_hash"`     // bcrypt hash, preferred over api_key
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
	CORSOrigins    []string      `yaml:"cors_origins"`     // Origins of the browser dashboard
	DemoEnabled    bool          `yaml:"demo_enabled"`     // Expose /api/demo endpoints
}

// AuthEnabled reports whether the API requires a key
func (c APIConfig) AuthEnabled() bool {
	return c.APIKey != "" || c.APIKeyHash != ""
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CampaignConfig contains campaign state machine settings
type CampaignConfig struct {
	RenderWorkers int `yaml:"render_workers"` // Concurrent per-lead renders on start (default: 8)
}

// DispatchConfig contains outbound email processor settings
type DispatchConfig struct {
	Enabled         bool            `yaml:"enabled"`
	Sender          string          `yaml:"sender"` // log, amqp
	Workers         int             `yaml:"workers"`
	RetryInterval   time.Duration   `yaml:"retry_interval"`
	MaxAttempts     int             `yaml:"max_attempts"`
	ProcessInterval time.Duration   `yaml:"process_interval"`
	SendTimeout     time.Duration   `yaml:"send_timeout"`
	AMQP            AMQPConfig      `yaml:"amqp"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains send limits applied by the dispatcher
type RateLimitConfig struct {
	Enabled            bool         `yaml:"enabled"`
	Global             *LimitConfig `yaml:"global"`
	PerCampaign        *LimitConfig `yaml:"per_campaign"`
	PerRecipientDomain *LimitConfig `yaml:"per_recipient_domain"`
}

// LimitConfig contains rate limit values. Zero means unlimited.
type LimitConfig struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`
}

// AMQPConfig contains the broker the amqp sender publishes to
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	Queue      string `yaml:"queue"` // Optional queue to declare and bind
}

// LockConfig contains per-campaign lock settings
type LockConfig struct {
	Backend string        `yaml:"backend"` // memory, redis
	Wait    time.Duration `yaml:"wait"`    // Max wait for a held lock (default: 5s)
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"` // Lock expiry if the holder dies (default: 30s)
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// DashboardConfig contains dashboard read model settings
type DashboardConfig struct {
	ActivityLimit int `yaml:"activity_limit"` // Default feed size (default: 10)
}

// LoadDotEnv loads variables from a .env file into the environment.
// A missing file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides file settings with environment variables
func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvAMQPURL); v != "" {
		c.Dispatch.AMQP.URL = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Lock.Redis.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvDemoEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDemoEnabled, err)
		}
		c.API.DemoEnabled = enabled
	}
	return nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/outreach/outreach.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Campaign.RenderWorkers == 0 {
		c.Campaign.RenderWorkers = 8
	}

	if c.Dispatch.Sender == "" {
		c.Dispatch.Sender = "log"
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 2
	}
	if c.Dispatch.RetryInterval == 0 {
		c.Dispatch.RetryInterval = time.Minute
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.ProcessInterval == 0 {
		c.Dispatch.ProcessInterval = time.Second
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 30 * time.Second
	}
	if c.Dispatch.AMQP.Exchange == "" {
		c.Dispatch.AMQP.Exchange = "outreach.emails"
	}
	if c.Dispatch.AMQP.RoutingKey == "" {
		c.Dispatch.AMQP.RoutingKey = "email.outbound"
	}

	if c.Lock.Backend == "" {
		c.Lock.Backend = "memory"
	}
	if c.Lock.Wait == 0 {
		c.Lock.Wait = 5 * time.Second
	}
	if c.Lock.Redis.Prefix == "" {
		c.Lock.Redis.Prefix = "outreach:campaign-lock:"
	}
	if c.Lock.Redis.TTL == 0 {
		c.Lock.Redis.TTL = 30 * time.Second
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Dashboard.ActivityLimit == 0 {
		c.Dashboard.ActivityLimit = 10
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.API.APIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(c.API.APIKeyHash)); err != nil {
			return fmt.Errorf("invalid api.api_key_hash: %w", err)
		}
	}

	if err := c.validateDispatch(); err != nil {
		return err
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required when lock.backend is redis")
		}
	default:
		return fmt.Errorf("invalid lock.backend: %s (must be memory or redis)", c.Lock.Backend)
	}

	if c.Dashboard.ActivityLimit < 0 || c.Dashboard.ActivityLimit > 100 {
		return fmt.Errorf("dashboard.activity_limit must be between 1 and 100")
	}

	return nil
}

// validateDispatch validates processor configuration
func (c *Config) validateDispatch() error {
	d := c.Dispatch

	switch d.Sender {
	case "log":
	case "amqp":
		if d.AMQP.URL == "" {
			return fmt.Errorf("dispatch.amqp.url is required when dispatch.sender is amqp")
		}
	default:
		return fmt.Errorf("invalid dispatch.sender: %s (must be log or amqp)", d.Sender)
	}

	if d.Workers < 0 {
		return fmt.Errorf("dispatch.workers must not be negative")
	}
	if d.MaxAttempts < 0 {
		return fmt.Errorf("dispatch.max_attempts must not be negative")
	}

	for name, l := range map[string]*LimitConfig{
		"global":               d.RateLimit.Global,
		"per_campaign":         d.RateLimit.PerCampaign,
		"per_recipient_domain": d.RateLimit.PerRecipientDomain,
	} {
		if l != nil && (l.MessagesPerHour < 0 || l.MessagesPerDay < 0) {
			return fmt.Errorf("dispatch.rate_limit.%s must not be negative", name)
		}
	}

	return nil
}
