package auth

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/config"
)

// Authenticator verifies webhook requests against the auth settings of the
// provider that sent them
type Authenticator struct {
	providers map[models.Provider]config.AuthConfig
	logger    *logrus.Logger
}

// NewAuthenticator creates a new Authenticator from the provider configuration
func NewAuthenticator(cfg *config.Config, logger *logrus.Logger) *Authenticator {
	providers := make(map[models.Provider]config.AuthConfig, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providers[models.Provider(pc.Name)] = pc.Auth
	}

	return &Authenticator{
		providers: providers,
		logger:    logger,
	}
}

// Authenticate checks a request whose body was detected as provider's.
// Providers without configuration are not authenticated; their Hooks have no
// handler to reach.
func (a *Authenticator) Authenticate(provider models.Provider, header http.Header, body []byte) error {
	authCfg, ok := a.providers[provider]
	if !ok {
		return nil
	}

	var err error
	switch authCfg.Type {
	case "hmac":
		err = VerifyHMAC(header, body, authCfg.Secret)
	case "bearer":
		err = VerifyBearerToken(header, authCfg.Secret)
	case "none", "":
		return nil
	default:
		err = fmt.Errorf("unsupported auth type: %s", authCfg.Type)
	}

	if err != nil {
		return fmt.Errorf("%s webhook: %w", provider, err)
	}

	a.logger.WithFields(logrus.Fields{
		"provider":  provider,
		"auth_type": authCfg.Type,
	}).Debug("Webhook authenticated")
	return nil
}
