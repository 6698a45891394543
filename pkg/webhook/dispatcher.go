package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/handlers"
	"github.com/bbva/deeptracy-api/pkg/metrics"
	"github.com/bbva/deeptracy-api/pkg/webhook/parsers"
)

// Detector finds the parser of a payload's provider
type Detector interface {
	Detect(payload []byte) models.HookParser
}

// Result summarises the handling of one webhook delivery
type Result struct {
	Provider models.Provider
	Hooks    []*models.Hook
	Routed   int
	Dropped  int
}

// Recognized reports whether any provider claimed the payload
func (r Result) Recognized() bool {
	return r.Provider != ""
}

// Dispatcher turns raw webhook payloads into Hooks and routes them to the
// post-receive handler of their provider
type Dispatcher struct {
	detector Detector
	handlers *handlers.Registry
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(detector Detector, registry *handlers.Registry, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		detector: detector,
		handlers: registry,
		logger:   logger,
	}
}

// Detect returns the parser of the payload's provider, or nil when no
// provider recognises it
func (d *Dispatcher) Detect(payload []byte) models.HookParser {
	parser := d.detector.Detect(payload)
	if parser == nil {
		metrics.RecordUnrecognized()
		d.logger.Debug("Payload from unrecognized provider ignored")
	}
	return parser
}

// Parse extracts the Hooks of a payload. An unrecognized payload yields
// no Hooks and no error; a recognized but malformed one yields a
// *parsers.PayloadError and no Hooks.
func (d *Dispatcher) Parse(payload []byte) ([]*models.Hook, error) {
	_, hooks, err := d.parse(payload)
	return hooks, err
}

// ParseWith extracts the Hooks of a payload already detected as parser's
func (d *Dispatcher) ParseWith(parser models.HookParser, payload []byte) ([]*models.Hook, error) {
	provider := parser.Provider()
	hooks, err := parser.Parse(payload)
	if err != nil {
		if errors.Is(err, parsers.ErrMalformedPayload) {
			metrics.RecordMalformed(string(provider))
		}
		return nil, err
	}

	metrics.RecordHooksParsed(string(provider), len(hooks))
	return hooks, nil
}

func (d *Dispatcher) parse(payload []byte) (models.Provider, []*models.Hook, error) {
	parser := d.Detect(payload)
	if parser == nil {
		return "", []*models.Hook{}, nil
	}

	hooks, err := d.ParseWith(parser, payload)
	return parser.Provider(), hooks, err
}

// Handle parses a payload and routes each Hook synchronously, in order.
// Routing stops at the first handler error.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) (Result, error) {
	provider, hooks, err := d.parse(payload)
	if err != nil {
		return Result{Provider: provider}, err
	}

	result := Result{Provider: provider, Hooks: hooks}
	for _, hook := range hooks {
		routed, err := d.route(ctx, hook)
		if err != nil {
			return result, err
		}
		if routed {
			result.Routed++
		} else {
			result.Dropped++
		}
	}
	return result, nil
}

// Route invokes the handler of the Hook's provider. A provider without a
// handler drops the Hook without error.
func (d *Dispatcher) Route(ctx context.Context, hook *models.Hook) error {
	_, err := d.route(ctx, hook)
	return err
}

// HasHandler reports whether Hooks of the provider would reach a handler
func (d *Dispatcher) HasHandler(provider models.Provider) bool {
	_, ok := d.handlers.Lookup(provider)
	return ok
}

func (d *Dispatcher) route(ctx context.Context, hook *models.Hook) (bool, error) {
	handler, ok := d.handlers.Lookup(hook.Provider)
	if !ok {
		metrics.RecordHookDropped(string(hook.Provider), "no_handler")
		d.logger.WithFields(logrus.Fields{
			"provider": hook.Provider,
			"branch":   hook.BranchName,
		}).Warn("No post-receive handler configured, hook dropped")
		return false, nil
	}

	start := time.Now()
	err := handler.Handle(ctx, hook)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordHandlerDuration(string(hook.Provider), handler.Name(), status, time.Since(start).Seconds())

	if err != nil {
		return false, fmt.Errorf("%s handler for %s: %w", handler.Name(), hook.Key(), err)
	}
	return true, nil
}
