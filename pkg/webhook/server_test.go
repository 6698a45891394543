package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/api"
	"github.com/bbva/deeptracy-api/pkg/auth"
	"github.com/bbva/deeptracy-api/pkg/config"
	"github.com/bbva/deeptracy-api/pkg/handlers"
	"github.com/bbva/deeptracy-api/pkg/logging"
	"github.com/bbva/deeptracy-api/pkg/queue"
	"github.com/bbva/deeptracy-api/pkg/store/memory"
)

func testServerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			ReadTimeout:    "10s",
			WriteTimeout:   "10s",
			MaxRequestSize: 1 << 20,
		},
	}
}

func newTestServer(t *testing.T, opts Options) (*Server, *queue.HookQueue) {
	t.Helper()
	q := queue.NewHookQueue(10, logging.NewNopLogger())
	if opts.Dispatcher == nil {
		opts.Dispatcher = newTestDispatcher(handlers.NewRegistry())
	}
	if opts.Queue == nil {
		opts.Queue = q
	}
	return NewServer(testServerConfig(), opts, logging.NewNopLogger()), q
}

func postWebhook(s *Server, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, WebhookPath+"/", strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeWebhookResponse(t *testing.T, rec *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleWebhook_Accepted(t *testing.T) {
	s, q := newTestServer(t, Options{})

	rec := postWebhook(s, bitbucketPayload, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	resp := decodeWebhookResponse(t, rec)
	if resp.Status != "accepted" || resp.Hooks != 2 {
		t.Errorf("response = %+v, want accepted with 2 hooks", resp)
	}
	if q.Depth() != 2 {
		t.Fatalf("queue depth = %d, want 2", q.Depth())
	}

	d, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if d.Hook.BranchName != "master" {
		t.Errorf("first hook branch = %q, want master", d.Hook.BranchName)
	}
	if d.RequestID == "" {
		t.Error("delivery has no request id")
	}
	if got := rec.Header().Get("X-Request-ID"); got != d.RequestID {
		t.Errorf("X-Request-ID = %q, want %q", got, d.RequestID)
	}
}

func TestHandleWebhook_WithoutTrailingSlash(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(bitbucketPayload))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleWebhook_Unrecognized(t *testing.T) {
	s, q := newTestServer(t, Options{})

	rec := postWebhook(s, `{"foo": "bar"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if resp := decodeWebhookResponse(t, rec); resp.Hooks != 0 {
		t.Errorf("hooks = %d, want 0", resp.Hooks)
	}
	if q.Depth() != 0 {
		t.Errorf("queue depth = %d, want 0", q.Depth())
	}
}

func TestHandleWebhook_Malformed(t *testing.T) {
	s, q := newTestServer(t, Options{})

	payload := `{"actor": {"links": {"self": {"href": "https://bitbucket.org/o"}}}, "commits": []}`
	rec := postWebhook(s, payload, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var body api.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if !strings.Contains(body.Error.Msg, "malformed bitbucket payload") {
		t.Errorf("error msg = %q, want a malformed bitbucket payload message", body.Error.Msg)
	}
	if q.Depth() != 0 {
		t.Errorf("queue depth = %d, want 0", q.Depth())
	}
}

func TestHandleWebhook_GitHubEvents(t *testing.T) {
	ping := `{"zen": "Keep it simple.", "hook_id": 1, "repository": {"name": "r", "url": "https://github.com/o/r"}}`
	push := `{"ref": "refs/heads/main", "before": "b0", "after": "a1",
		"repository": {"name": "r", "url": "https://github.com/o/r", "ssh_url": "git@github.com:o/r.git", "owner": {"name": "o"}},
		"commits": [{"id": "a1"}]}`

	tests := []struct {
		name       string
		event      string
		payload    string
		wantStatus int
		wantHooks  int
	}{
		{name: "ping", event: "ping", payload: ping, wantStatus: http.StatusOK},
		{name: "pull request", event: "pull_request", payload: ping, wantStatus: http.StatusOK},
		{name: "push", event: "push", payload: push, wantStatus: http.StatusOK, wantHooks: 1},
		{name: "push without event header", payload: push, wantStatus: http.StatusOK, wantHooks: 1},
		{name: "ping without event header", payload: ping, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, q := newTestServer(t, Options{})
			header := http.Header{}
			if tt.event != "" {
				header.Set("X-GitHub-Event", tt.event)
			}

			rec := postWebhook(s, tt.payload, header)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Code == http.StatusOK {
				if resp := decodeWebhookResponse(t, rec); resp.Hooks != tt.wantHooks {
					t.Errorf("hooks = %d, want %d", resp.Hooks, tt.wantHooks)
				}
			}
			if q.Depth() != tt.wantHooks {
				t.Errorf("queue depth = %d, want %d", q.Depth(), tt.wantHooks)
			}
		})
	}
}

func TestHandleWebhook_Authentication(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "bitbucket", Auth: config.AuthConfig{Type: "bearer", Secret: "s3cret"}},
		},
	}
	authenticator := auth.NewAuthenticator(cfg, logging.NewNopLogger())

	tests := []struct {
		name       string
		header     http.Header
		wantStatus int
	}{
		{
			name:       "missing token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong token",
			header:     http.Header{"Authorization": []string{"Bearer nope"}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			header:     http.Header{"Authorization": []string{"Bearer s3cret"}},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, Options{Authenticator: authenticator})
			rec := postWebhook(s, bitbucketPayload, tt.header)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandleWebhook_HMAC(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "bitbucket", Auth: config.AuthConfig{Type: "hmac", Secret: "key"}},
		},
	}
	s, _ := newTestServer(t, Options{Authenticator: auth.NewAuthenticator(cfg, logging.NewNopLogger())})

	header := http.Header{}
	header.Set("X-Hub-Signature-256", auth.SignHMAC([]byte(bitbucketPayload), "key"))

	rec := postWebhook(s, bitbucketPayload, header)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHandleWebhook_QueueFull(t *testing.T) {
	q := queue.NewHookQueue(1, logging.NewNopLogger())
	s, _ := newTestServer(t, Options{Queue: q})

	rec := postWebhook(s, bitbucketPayload, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if q.Depth() != 1 {
		t.Errorf("queue depth = %d, want 1", q.Depth())
	}
}

func TestHandleWebhook_QueueClosed(t *testing.T) {
	q := queue.NewHookQueue(10, logging.NewNopLogger())
	q.Close()
	s, _ := newTestServer(t, Options{Queue: q})

	rec := postWebhook(s, bitbucketPayload, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleWebhook_Duplicates(t *testing.T) {
	dedup := queue.NewDeliveryCache(100, time.Minute, logging.NewNopLogger())
	s, q := newTestServer(t, Options{Dedup: dedup})

	first := decodeWebhookResponse(t, postWebhook(s, bitbucketPayload, nil))
	second := decodeWebhookResponse(t, postWebhook(s, bitbucketPayload, nil))

	if first.Hooks != 2 {
		t.Errorf("first delivery hooks = %d, want 2", first.Hooks)
	}
	if second.Hooks != 0 {
		t.Errorf("redelivery hooks = %d, want 0", second.Hooks)
	}
	if q.Depth() != 2 {
		t.Errorf("queue depth = %d, want 2", q.Depth())
	}
}

func TestHandleWebhook_RedeliveryAfterQueueFull(t *testing.T) {
	q := queue.NewHookQueue(1, logging.NewNopLogger())
	dedup := queue.NewDeliveryCache(100, time.Minute, logging.NewNopLogger())
	s, _ := newTestServer(t, Options{Queue: q, Dedup: dedup})

	if rec := postWebhook(s, bitbucketPayload, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("first delivery status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	d, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if d.Hook.BranchName != "master" {
		t.Fatalf("queued branch = %q, want master", d.Hook.BranchName)
	}

	rec := postWebhook(s, bitbucketPayload, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if resp := decodeWebhookResponse(t, rec); resp.Hooks != 1 {
		t.Errorf("redelivery hooks = %d, want 1", resp.Hooks)
	}

	d, err = q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if d.Hook.BranchName != "dev" {
		t.Errorf("redelivered branch = %q, want dev", d.Hook.BranchName)
	}
}

func TestHandleWebhook_RateLimited(t *testing.T) {
	s, _ := newTestServer(t, Options{RateLimiter: auth.NewRateLimiter(1)})

	if rec := postWebhook(s, bitbucketPayload, nil); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := postWebhook(s, bitbucketPayload, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestHandleWebhook_TooLarge(t *testing.T) {
	cfg := testServerConfig()
	cfg.Server.MaxRequestSize = 16
	s := NewServer(cfg, Options{
		Dispatcher: newTestDispatcher(handlers.NewRegistry()),
		Queue:      queue.NewHookQueue(10, logging.NewNopLogger()),
	}, logging.NewNopLogger())

	rec := postWebhook(s, bitbucketPayload, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, WebhookPath+"/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestServer_ProjectRoutes(t *testing.T) {
	store := memory.New()
	s, _ := newTestServer(t, Options{Projects: api.NewProjectHandler(store, logging.NewNopLogger())})

	req := httptest.NewRequest(http.MethodPost, "/api/1/project/", strings.NewReader(`{"repo": "git@github.com:o/r.git"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if _, err := store.GetProjectByRepo(context.Background(), "git@github.com:o/r.git"); err != nil {
		t.Errorf("project not stored: %v", err)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	var storeErr error
	s, _ := newTestServer(t, Options{
		Checks: map[string]ReadinessCheck{
			"store": func(context.Context) error { return storeErr },
		},
	})

	get := func(path string) int {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	if code := get("/health"); code != http.StatusOK {
		t.Errorf("/health = %d, want %d", code, http.StatusOK)
	}
	if code := get("/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before start = %d, want %d", code, http.StatusServiceUnavailable)
	}

	s.SetReady(true)
	if code := get("/ready"); code != http.StatusOK {
		t.Errorf("/ready = %d, want %d", code, http.StatusOK)
	}

	storeErr = errors.New("connection refused")
	if code := get("/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready with failing store = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	postWebhook(s, bitbucketPayload, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "hooks_parsed_total") {
		t.Error("/metrics does not expose hooks_parsed_total")
	}
}

func TestHandleWebhook_RoutedByWorkers(t *testing.T) {
	rec := &recorder{}
	registry := handlers.NewRegistry()
	registry.Register(models.ProviderBitbucket, rec.handler())
	dispatcher := newTestDispatcher(registry)

	q := queue.NewHookQueue(10, logging.NewNopLogger())
	pool := queue.NewWorkerPool(q, 1, time.Second, func(ctx context.Context, d *queue.Delivery) error {
		return dispatcher.Route(ctx, d.Hook)
	}, logging.NewNopLogger())
	pool.Start()

	s, _ := newTestServer(t, Options{Dispatcher: dispatcher, Queue: q})
	if resp := postWebhook(s, bitbucketPayload, nil); resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusOK)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if len(rec.hooks) != 2 {
		t.Fatalf("handler received %d hooks, want 2", len(rec.hooks))
	}
	if rec.hooks[0].BranchName != "master" || rec.hooks[1].BranchName != "dev" {
		t.Errorf("handler received branches %q, %q", rec.hooks[0].BranchName, rec.hooks[1].BranchName)
	}
}

var _ Enqueuer = (*queue.HookQueue)(nil)
