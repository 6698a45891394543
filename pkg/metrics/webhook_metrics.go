package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HooksParsed tracks Hooks extracted from webhook payloads
	HooksParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_hooks_parsed_total",
			Help: "Total number of Hooks extracted from webhook payloads",
		},
		[]string{"provider"},
	)

	// WebhookUnrecognized tracks payloads no provider detector matched
	WebhookUnrecognized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_unrecognized_total",
			Help: "Total number of webhook payloads from an unrecognized provider",
		},
	)

	// WebhookMalformed tracks payloads rejected by a provider parser
	WebhookMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_malformed_total",
			Help: "Total number of webhook payloads missing required fields",
		},
		[]string{"provider"},
	)

	// HookDropped tracks Hooks that were never handed to a handler
	HookDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hook_dropped_total",
			Help: "Total number of Hooks dropped before reaching a handler",
		},
		[]string{"provider", "reason"},
	)

	// HandlerDuration tracks post-receive handler execution time in seconds
	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hook_handler_duration_seconds",
			Help:    "Duration of post-receive handler runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "handler", "status"},
	)

	// HandlerRetries tracks handler attempts that were retried
	HandlerRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hook_handler_retries_total",
			Help: "Total number of retried post-receive handler attempts",
		},
		[]string{"provider", "handler"},
	)

	// QueueDepth tracks Hooks waiting for a worker
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hook_queue_depth",
			Help: "Number of Hooks waiting in the delivery queue",
		},
	)

	// HTTPRequests tracks served HTTP requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	// WebhookRateLimited tracks webhook requests refused by the rate limiter
	WebhookRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_rate_limited_total",
			Help: "Total number of webhook requests rejected by rate limiting",
		},
	)
)

// RecordHooksParsed records the Hooks extracted from one delivery
func RecordHooksParsed(provider string, count int) {
	HooksParsed.WithLabelValues(provider).Add(float64(count))
}

// RecordUnrecognized records a payload no provider claimed
func RecordUnrecognized() {
	WebhookUnrecognized.Inc()
}

// RecordMalformed records a payload rejected by its provider parser
func RecordMalformed(provider string) {
	WebhookMalformed.WithLabelValues(provider).Inc()
}

// RecordHookDropped records a Hook dropped for the given reason
func RecordHookDropped(provider, reason string) {
	HookDropped.WithLabelValues(provider, reason).Inc()
}

// RecordHandlerDuration records one handler run
func RecordHandlerDuration(provider, handler, status string, duration float64) {
	HandlerDuration.WithLabelValues(provider, handler, status).Observe(duration)
}

// RecordHandlerRetry records a retried handler attempt
func RecordHandlerRetry(provider, handler string) {
	HandlerRetries.WithLabelValues(provider, handler).Inc()
}

// SetQueueDepth records the current delivery queue depth
func SetQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// RecordHTTPRequest records a served HTTP request
func RecordHTTPRequest(method, route string, statusCode int) {
	HTTPRequests.WithLabelValues(method, route, fmt.Sprintf("%d", statusCode)).Inc()
}

// RecordRateLimited records a webhook request refused by rate limiting
func RecordRateLimited() {
	WebhookRateLimited.Inc()
}
