package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/api"
	"github.com/bbva/deeptracy-api/pkg/auth"
	"github.com/bbva/deeptracy-api/pkg/config"
	"github.com/bbva/deeptracy-api/pkg/logging"
	"github.com/bbva/deeptracy-api/pkg/metrics"
	"github.com/bbva/deeptracy-api/pkg/queue"
	"github.com/bbva/deeptracy-api/pkg/webhook/parsers"
)

// WebhookPath is where providers deliver push webhooks
const WebhookPath = "/api/1/webhook"

const githubEventHeader = "X-GitHub-Event"

type contextKey string

const requestIDKey contextKey = "request_id"

// Enqueuer accepts Hooks for asynchronous routing
type Enqueuer interface {
	Enqueue(ctx context.Context, d *queue.Delivery) error
}

// ReadinessCheck reports whether a dependency can serve requests
type ReadinessCheck func(ctx context.Context) error

// Options wires the collaborators of the HTTP server. Only Dispatcher and
// Queue are required.
type Options struct {
	Dispatcher    *Dispatcher
	Queue         Enqueuer
	Authenticator *auth.Authenticator
	RateLimiter   *auth.RateLimiter
	Dedup         *queue.DeliveryCache
	Projects      *api.ProjectHandler
	Checks        map[string]ReadinessCheck
}

// Server represents the HTTP server for webhooks and the project API
type Server struct {
	config     *config.Config
	opts       Options
	router     *mux.Router
	httpServer *http.Server
	logger     *logrus.Logger
	ready      atomic.Bool
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts Options, logger *logrus.Logger) *Server {
	s := &Server{
		config: cfg,
		opts:   opts,
		router: mux.NewRouter(),
		logger: logger,
	}

	s.setupRoutes()

	readTimeout, _ := cfg.ParseDuration(cfg.Server.ReadTimeout)
	writeTimeout, _ := cfg.ParseDuration(cfg.Server.WriteTimeout)

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.router,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return s
}

// setupRoutes configures HTTP routes and middleware
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.requestSizeLimitMiddleware)

	s.router.HandleFunc(WebhookPath, s.handleWebhook).Methods(http.MethodPost)
	s.router.HandleFunc(WebhookPath+"/", s.handleWebhook).Methods(http.MethodPost)

	if s.opts.Projects != nil {
		s.opts.Projects.Register(s.router)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReadiness).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.WithFields(logrus.Fields{
		"port": s.config.Server.Port,
	}).Info("Starting HTTP server")

	s.ready.Store(true)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.ready.Store(false)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// SetReady sets the readiness status
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// webhookResponse is the body acknowledging a webhook delivery
type webhookResponse struct {
	Status string `json:"status"`
	Hooks  int    `json:"hooks"`
}

// handleWebhook authenticates and parses a delivery, then queues its Hooks
// for the post-receive handlers
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)

	if s.opts.RateLimiter != nil {
		if err := s.opts.RateLimiter.Allow(auth.ClientIP(r)); err != nil {
			metrics.RecordRateLimited()
			logger.WithError(err).Warn("Webhook rate limited")
			api.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		api.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	parser := s.opts.Dispatcher.Detect(body)
	if parser == nil {
		writeJSONResponse(w, http.StatusOK, webhookResponse{Status: "accepted"})
		return
	}
	provider := parser.Provider()
	logger = logger.WithField("provider", provider)

	// ping, pull_request and other GitHub events also carry repository.url
	if event := r.Header.Get(githubEventHeader); provider == models.ProviderGitHub && event != "" && event != "push" {
		logger.WithField("event", event).Debug("Ignoring non-push GitHub event")
		writeJSONResponse(w, http.StatusOK, webhookResponse{Status: "accepted"})
		return
	}

	if s.opts.Authenticator != nil {
		if err := s.opts.Authenticator.Authenticate(provider, r.Header, body); err != nil {
			logger.WithError(err).Warn("Webhook authentication failed")
			api.WriteError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
	}

	hooks, err := s.opts.Dispatcher.ParseWith(parser, body)
	if err != nil {
		logger.WithError(err).Warn("Rejected webhook payload")
		var payloadErr *parsers.PayloadError
		if errors.As(err, &payloadErr) {
			api.WriteError(w, http.StatusBadRequest, payloadErr.Error())
			return
		}
		api.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	accepted, err := s.enqueue(r.Context(), hooks, requestID(r))
	if err != nil {
		logger.WithError(err).WithField("accepted", accepted).Error("Failed to queue hooks")
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			api.WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		api.WriteError(w, http.StatusInternalServerError, "failed to queue hooks")
		return
	}

	logger.WithFields(logrus.Fields{
		"hooks":    len(hooks),
		"accepted": accepted,
	}).Info("Webhook accepted")

	writeJSONResponse(w, http.StatusOK, webhookResponse{Status: "accepted", Hooks: accepted})
}

// enqueue queues each Hook, skipping redeliveries when deduplication is on
func (s *Server) enqueue(ctx context.Context, hooks []*models.Hook, reqID string) (int, error) {
	accepted := 0
	for _, hook := range hooks {
		if s.opts.Dedup != nil && s.opts.Dedup.IsDuplicate(hook) {
			metrics.RecordHookDropped(string(hook.Provider), "duplicate")
			continue
		}

		if err := s.opts.Queue.Enqueue(ctx, &queue.Delivery{Hook: hook, RequestID: reqID}); err != nil {
			return accepted, err
		}
		if s.opts.Dedup != nil {
			s.opts.Dedup.MarkDelivered(hook)
		}
		accepted++
	}
	return accepted, nil
}

// handleHealth returns the health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReadiness reports ready once the server is started and every
// dependency check passes
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"checks": failed,
		})
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestIDMiddleware tags every request with an X-Request-ID
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// loggingMiddleware logs all HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, route, rw.statusCode)

		s.requestLogger(r).WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"status_code": rw.statusCode,
			"duration_ms": duration.Milliseconds(),
		}).Info("HTTP request")
	})
}

// requestSizeLimitMiddleware enforces maximum request size
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Server.MaxRequestSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxRequestSize)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	return logging.LogWithRequestID(s.logger, requestID(r))
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
