package config

import (
	"time"

	"github.com/bbva/deeptracy-api/internal/models"
)

// HandlerType selects the post-receive handler run for a provider's Hooks
type HandlerType string

const (
	HandlerTypeNone    HandlerType = ""
	HandlerTypeScan    HandlerType = "scan"
	HandlerTypePublish HandlerType = "publish"
	HandlerTypeLog     HandlerType = "log"
)

// DatabaseDriver selects the project store backend
type DatabaseDriver string

const (
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMemory   DatabaseDriver = "memory"
)

// Config represents the complete application configuration
type Config struct {
	LogLevel  string           `yaml:"log_level"`
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Providers []ProviderConfig `yaml:"providers"`
	Queue     QueueConfig      `yaml:"queue"`
	NATS      NATSConfig       `yaml:"nats"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	MaxRequestSize  int64  `yaml:"max_request_size"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"` // 0 disables webhook rate limiting
}

// DatabaseConfig holds project store settings
type DatabaseConfig struct {
	Driver          DatabaseDriver `yaml:"driver"`
	DSN             string         `yaml:"dsn"`
	MaxConns        int32          `yaml:"max_conns"`
	MinConns        int32          `yaml:"min_conns"`
	MaxConnLifetime string         `yaml:"max_conn_lifetime"`
	MaxConnIdleTime string         `yaml:"max_conn_idle_time"`
	AutoMigrate     bool           `yaml:"auto_migrate"`
}

// ProviderConfig defines settings for a single source-control provider
type ProviderConfig struct {
	Name               string        `yaml:"name"` // bitbucket, github
	SSHAccount         string        `yaml:"ssh_account"`
	Auth               AuthConfig    `yaml:"auth"`
	PostReceiveHandler HandlerConfig `yaml:"post_receive_handler"`
}

// AuthConfig defines authentication settings for webhooks
type AuthConfig struct {
	Type   string `yaml:"type"`   // hmac, bearer or none
	Secret string `yaml:"secret"` // HMAC secret or bearer token
}

// HandlerConfig configures the post-receive handler of a provider
type HandlerConfig struct {
	Type    HandlerType `yaml:"type"`
	Subject string      `yaml:"subject,omitempty"` // publish only; defaults to <nats.subject_prefix>.<provider>
}

// QueueConfig holds hook delivery queue settings
type QueueConfig struct {
	BufferSize     int    `yaml:"buffer_size"`
	Workers        int    `yaml:"workers"`
	MaxRetries     int    `yaml:"max_retries"`
	HandlerTimeout string `yaml:"handler_timeout"`
	DedupTTL       string `yaml:"dedup_ttl"` // empty or 0 disables deduplication
	DedupSize      int    `yaml:"dedup_size"`
}

// NATSConfig holds the connection used by publish handlers
type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ParseDuration converts string duration to time.Duration
func (c *Config) ParseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// Provider returns the configuration block of the given provider
func (c *Config) Provider(p models.Provider) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == string(p) {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// SSHAccount returns the configured ssh account of a provider, or ""
func (c *Config) SSHAccount(p models.Provider) string {
	if pc, ok := c.Provider(p); ok {
		return pc.SSHAccount
	}
	return ""
}

// NeedsNATS reports whether any provider publishes its Hooks to NATS
func (c *Config) NeedsNATS() bool {
	for _, p := range c.Providers {
		if p.PostReceiveHandler.Type == HandlerTypePublish {
			return true
		}
	}
	return false
}
