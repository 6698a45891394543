package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/bbva/deeptracy-api/internal/models"
)

// Load reads and parses the YAML configuration file
func Load(filename string) (*Config, error) {
	cfg, err := readFile(filename)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfig loads the configuration file named by the environment,
// resolves ${FILE:...} secrets and applies environment overrides
func LoadConfig() (*Config, error) {
	env := LoadFromEnv()

	cfg, err := readFile(env.ConfigFile)
	if err != nil {
		return nil, err
	}

	secrets, err := LoadSecretsFromFiles(env.SecretsDir)
	if err != nil {
		return nil, err
	}
	InjectSecretsIntoConfig(cfg, secrets)

	env.apply(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func readFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands ${VAR} references but keeps ${FILE:name} placeholders
// for InjectSecretsIntoConfig
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if strings.HasPrefix(name, "FILE:") {
			return "${" + name + "}"
		}
		return os.Getenv(name)
	})
}

// applyDefaults sets default values for unspecified configuration options
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.MaxRequestSize == 0 {
		c.Server.MaxRequestSize = 10 * 1024 * 1024 // 10MB
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "30s"
	}

	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DatabaseDriverPostgres
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MaxConnLifetime == "" {
		c.Database.MaxConnLifetime = "1h"
	}
	if c.Database.MaxConnIdleTime == "" {
		c.Database.MaxConnIdleTime = "10m"
	}

	// Provider defaults
	for i := range c.Providers {
		if c.Providers[i].Auth.Type == "" {
			c.Providers[i].Auth.Type = "none"
		}
	}

	// Queue defaults
	if c.Queue.BufferSize == 0 {
		c.Queue.BufferSize = 100
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 3
	}
	if c.Queue.HandlerTimeout == "" {
		c.Queue.HandlerTimeout = "2m"
	}
	if c.Queue.DedupSize == 0 {
		c.Queue.DedupSize = 1024
	}

	// NATS defaults
	if c.NATS.Stream == "" {
		c.NATS.Stream = "DEEPTRACY"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "hooks"
	}
}

// Validate checks the configuration for required fields and valid values.
// Every problem found is reported, not only the first one.
func (c *Config) Validate() error {
	var result *multierror.Error

	if len(c.Providers) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one provider must be configured"))
	}

	providerNames := make(map[string]bool)
	for i, p := range c.Providers {
		if p.Name == "" {
			result = multierror.Append(result, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if providerNames[p.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate provider name: %s", p.Name))
		}
		providerNames[p.Name] = true

		if _, err := models.ParseProvider(p.Name); err != nil {
			result = multierror.Append(result, fmt.Errorf("providers[%s]: %w", p.Name, err))
		}
		if err := validateAuthConfig(p.Auth); err != nil {
			result = multierror.Append(result, fmt.Errorf("providers[%s]: %w", p.Name, err))
		}
		if err := validateHandlerConfig(p.PostReceiveHandler); err != nil {
			result = multierror.Append(result, fmt.Errorf("providers[%s]: %w", p.Name, err))
		}
		if p.Name == string(models.ProviderBitbucket) && p.SSHAccount == "" {
			result = multierror.Append(result, fmt.Errorf("providers[%s]: ssh_account is required", p.Name))
		}
	}

	switch c.Database.Driver {
	case DatabaseDriverPostgres:
		if c.Database.DSN == "" {
			result = multierror.Append(result, fmt.Errorf("database.dsn is required for the postgres driver"))
		}
	case DatabaseDriverMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("database.driver must be 'postgres' or 'memory', got: %s", c.Database.Driver))
	}

	if c.NeedsNATS() && c.NATS.URL == "" {
		result = multierror.Append(result, fmt.Errorf("nats.url is required when a provider uses the publish handler"))
	}

	if c.Queue.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("queue.max_retries must not be negative"))
	}

	// Validate duration strings
	durations := map[string]string{
		"server.read_timeout":         c.Server.ReadTimeout,
		"server.write_timeout":        c.Server.WriteTimeout,
		"server.shutdown_timeout":     c.Server.ShutdownTimeout,
		"database.max_conn_lifetime":  c.Database.MaxConnLifetime,
		"database.max_conn_idle_time": c.Database.MaxConnIdleTime,
		"queue.handler_timeout":       c.Queue.HandlerTimeout,
	}
	if c.Queue.DedupTTL != "" {
		durations["queue.dedup_ttl"] = c.Queue.DedupTTL
	}

	for name, value := range durations {
		if _, err := c.ParseDuration(value); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid %s: %w", name, err))
		}
	}

	return result.ErrorOrNil()
}

func validateAuthConfig(auth AuthConfig) error {
	if auth.Type != "hmac" && auth.Type != "bearer" && auth.Type != "none" {
		return fmt.Errorf("invalid auth type '%s', must be 'hmac', 'bearer', or 'none'", auth.Type)
	}

	if (auth.Type == "hmac" || auth.Type == "bearer") && auth.Secret == "" {
		return fmt.Errorf("auth.secret is required when auth type is '%s'", auth.Type)
	}

	return nil
}

func validateHandlerConfig(h HandlerConfig) error {
	validTypes := []HandlerType{HandlerTypeNone, HandlerTypeScan, HandlerTypePublish, HandlerTypeLog}
	for _, valid := range validTypes {
		if h.Type == valid {
			return nil
		}
	}
	names := make([]string, 0, len(validTypes)-1)
	for _, t := range validTypes[1:] {
		names = append(names, string(t))
	}
	return fmt.Errorf("invalid post_receive_handler type '%s', must be one of: %s",
		h.Type, strings.Join(names, ", "))
}
