package parsers

import (
	"fmt"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/config"
)

// Registry holds the provider parsers in detection order
type Registry struct {
	parsers []models.HookParser
}

// NewRegistry creates the registry of supported providers. Bitbucket is
// checked before GitHub because Bitbucket payloads may also carry
// repository.url.
func NewRegistry(cfg *config.Config) *Registry {
	return NewRegistryWithParsers(
		NewBitbucketParser(cfg.SSHAccount(models.ProviderBitbucket)),
		NewGitHubParser(cfg.SSHAccount(models.ProviderGitHub)),
	)
}

// NewRegistryWithParsers creates a registry evaluating parsers in the given order
func NewRegistryWithParsers(parsers ...models.HookParser) *Registry {
	return &Registry{parsers: parsers}
}

// Detect returns the first parser recognising the payload, or nil
func (r *Registry) Detect(payload []byte) models.HookParser {
	for _, parser := range r.parsers {
		if parser.Detect(payload) {
			return parser
		}
	}
	return nil
}

// GetParser returns the parser of the given provider
func (r *Registry) GetParser(provider models.Provider) (models.HookParser, error) {
	for _, parser := range r.parsers {
		if parser.Provider() == provider {
			return parser, nil
		}
	}
	return nil, fmt.Errorf("no parser found for provider: %s", provider)
}

// ListProviders returns the registered providers in detection order
func (r *Registry) ListProviders() []models.Provider {
	providers := make([]models.Provider, 0, len(r.parsers))
	for _, parser := range r.parsers {
		providers = append(providers, parser.Provider())
	}
	return providers
}
