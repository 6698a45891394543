package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/pkg/logging"
)

// Manager handles graceful shutdown coordination
type Manager struct {
	logger         *logrus.Logger
	handlers       []namedHandler
	timeout        time.Duration
	mu             sync.Mutex
	isShuttingDown bool
}

// ShutdownHandler is a function that performs cleanup during shutdown
type ShutdownHandler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   ShutdownHandler
}

// NewManager creates a new shutdown manager
func NewManager(timeout time.Duration, logger *logrus.Logger) *Manager {
	return &Manager{
		logger:  logger,
		timeout: timeout,
	}
}

// RegisterHandler adds a shutdown handler. Handlers run one after another in
// registration order, so register the HTTP server before the workers it
// feeds and the workers before the stores they use.
func (m *Manager) RegisterHandler(name string, handler ShutdownHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, namedHandler{name: name, fn: handler})
}

// Wait blocks until SIGTERM/SIGINT is received or ctx is done, then runs
// the shutdown handlers
func (m *Manager) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logging.LogShutdownInitiated(m.logger, sig.String())
	case <-ctx.Done():
		logging.LogShutdownInitiated(m.logger, context.Cause(ctx).Error())
	}

	return m.Shutdown()
}

// Shutdown executes all registered shutdown handlers within the timeout.
// Every handler runs even if an earlier one fails; the failures are
// returned together.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.isShuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.isShuttingDown = true
	handlers := append([]namedHandler(nil), m.handlers...)
	m.mu.Unlock()

	m.logger.Info("Starting graceful shutdown")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var result *multierror.Error
	for _, h := range handlers {
		if err := m.run(ctx, h); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", h.name, err))
		}
	}

	duration := time.Since(start)
	if err := result.ErrorOrNil(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"duration": duration.Seconds(),
			"errors":   result.Len(),
		}).Warn("Shutdown completed with errors")
		return err
	}

	logging.LogShutdownComplete(m.logger, duration.Seconds())
	return nil
}

func (m *Manager) run(ctx context.Context, h namedHandler) error {
	m.logger.WithField("handler", h.name).Info("Executing shutdown handler")
	start := time.Now()

	err := h.fn(ctx)

	duration := time.Since(start)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"handler":  h.name,
			"duration": duration.Seconds(),
			"error":    err.Error(),
		}).Error("Shutdown handler failed")
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"handler":  h.name,
		"duration": duration.Seconds(),
	}).Info("Shutdown handler completed")
	return nil
}

// IsShuttingDown returns true if shutdown has been initiated
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isShuttingDown
}
