// Package handlers implements the post-receive handlers a provider's Hooks
// are routed to.
package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/config"
	"github.com/bbva/deeptracy-api/pkg/store"
)

// Handler processes a single Hook
type Handler interface {
	Name() string
	Handle(ctx context.Context, hook *models.Hook) error
}

// HandlerFunc adapts a function into a named Handler
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, hook *models.Hook) error
}

// Func wraps fn as a Handler called name
func Func(name string, fn func(ctx context.Context, hook *models.Hook) error) *HandlerFunc {
	return &HandlerFunc{name: name, fn: fn}
}

func (h *HandlerFunc) Name() string { return h.name }

func (h *HandlerFunc) Handle(ctx context.Context, hook *models.Hook) error {
	return h.fn(ctx, hook)
}

// Registry maps each provider to its post-receive handler
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.Provider]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.Provider]Handler)}
}

// Register sets the handler of a provider, replacing any previous one
func (r *Registry) Register(provider models.Provider, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[provider] = h
}

// Lookup returns the handler registered for a provider
func (r *Registry) Lookup(provider models.Provider) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[provider]
	return h, ok
}

// Dependencies are the collaborators handlers may need
type Dependencies struct {
	Store     store.Store
	Publisher Publisher
	Logger    *logrus.Logger
}

// NewRegistryFromConfig builds the handler of every provider that configures
// a post_receive_handler. Providers without one get no entry.
func NewRegistryFromConfig(cfg *config.Config, deps Dependencies) (*Registry, error) {
	registry := NewRegistry()

	for _, pc := range cfg.Providers {
		provider, err := models.ParseProvider(pc.Name)
		if err != nil {
			return nil, err
		}

		var h Handler
		switch pc.PostReceiveHandler.Type {
		case config.HandlerTypeNone:
			continue
		case config.HandlerTypeScan:
			if deps.Store == nil {
				return nil, fmt.Errorf("provider %s: scan handler requires a store", provider)
			}
			h = NewScanHandler(deps.Store, deps.Logger)
		case config.HandlerTypePublish:
			if deps.Publisher == nil {
				return nil, fmt.Errorf("provider %s: publish handler requires a NATS connection", provider)
			}
			subject := pc.PostReceiveHandler.Subject
			if subject == "" {
				subject = fmt.Sprintf("%s.%s", cfg.NATS.SubjectPrefix, provider)
			}
			h = NewPublishHandler(deps.Publisher, subject, deps.Logger)
		case config.HandlerTypeLog:
			h = NewLogHandler(deps.Logger)
		default:
			return nil, fmt.Errorf("provider %s: unknown handler type %q", provider, pc.PostReceiveHandler.Type)
		}

		registry.Register(provider, h)
	}

	return registry, nil
}
