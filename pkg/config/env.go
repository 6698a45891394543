package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvConfig holds environment variable-based configuration
type EnvConfig struct {
	Port        int
	LogLevel    string
	ConfigFile  string
	SecretsDir  string
	DatabaseDSN string
	NATSURL     string
}

// LoadDotEnv loads variables from a .env file when one exists.
// Variables already present in the environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// LoadFromEnv reads configuration from environment variables
func LoadFromEnv() *EnvConfig {
	env := &EnvConfig{
		Port:        getEnvAsInt("PORT", 0),
		LogLevel:    getEnv("LOG_LEVEL", ""),
		ConfigFile:  getEnv("CONFIG_FILE", "config.yaml"),
		SecretsDir:  getEnv("SECRETS_DIR", "/secrets"),
		DatabaseDSN: getEnv("DATABASE_DSN", ""),
		NATSURL:     getEnv("NATS_URL", ""),
	}

	return env
}

// apply overrides file values with the ones set in the environment
func (e *EnvConfig) apply(cfg *Config) {
	if e.Port != 0 {
		cfg.Server.Port = e.Port
	}
	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
	if e.DatabaseDSN != "" {
		cfg.Database.DSN = e.DatabaseDSN
	}
	if e.NATSURL != "" {
		cfg.NATS.URL = e.NATSURL
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
