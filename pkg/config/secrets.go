package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadSecretsFromFiles reads every regular file of secretsDir into a map keyed
// by file name. A missing directory yields an empty map.
func LoadSecretsFromFiles(secretsDir string) (map[string]string, error) {
	secrets := make(map[string]string)

	if _, err := os.Stat(secretsDir); os.IsNotExist(err) {
		return secrets, nil
	}

	files, err := os.ReadDir(secretsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		secretPath := filepath.Join(secretsDir, file.Name())
		content, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file %s: %w", file.Name(), err)
		}

		secrets[file.Name()] = strings.TrimSpace(string(content))
	}

	return secrets, nil
}

// InjectSecretsIntoConfig replaces ${FILE:<secret-name>} placeholders with secret values
func InjectSecretsIntoConfig(cfg *Config, secrets map[string]string) {
	// Inject secrets into provider webhook auth
	for i := range cfg.Providers {
		cfg.Providers[i].Auth.Secret = resolveSecret(cfg.Providers[i].Auth.Secret, secrets)
	}

	// Connection strings may embed credentials
	cfg.Database.DSN = resolveSecret(cfg.Database.DSN, secrets)
	cfg.NATS.URL = resolveSecret(cfg.NATS.URL, secrets)
}

// resolveSecret replaces ${FILE:<secret-name>} with the secret value.
// Plain values and unknown secret names are returned unchanged.
func resolveSecret(value string, secrets map[string]string) string {
	prefix := "${FILE:"
	suffix := "}"

	if strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix) {
		secretName := strings.TrimSuffix(strings.TrimPrefix(value, prefix), suffix)
		if secretValue, ok := secrets[secretName]; ok {
			return secretValue
		}
	}

	return value
}
