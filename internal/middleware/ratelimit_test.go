package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/model"
	"github.com/hitoshi/musicroom/internal/ratelimit"
)

// --- GeneralLimiter (API全般) のテスト ---

func requestAs(subject int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/pages", nil)
	return req.WithContext(ContextWithIdentity(req.Context(), &model.Identity{UserID: subject}))
}

func TestGeneralLimiter_AllowsBurstThenRejects(t *testing.T) {
	gl := NewGeneralLimiter(GeneralLimiterConfig{Rate: 1, Burst: 3, CleanupInterval: time.Minute})
	defer gl.Stop()

	handlerCallCount := 0
	handler := gl.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(1))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(1))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if resp.Header.Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", resp.Header.Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q", body.Code)
	}
	if handlerCallCount != 3 {
		t.Errorf("handler call count = %d, want 3", handlerCallCount)
	}
}

func TestGeneralLimiter_AuditsRejection(t *testing.T) {
	gl := NewGeneralLimiter(GeneralLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Minute})
	defer gl.Stop()

	var buf bytes.Buffer
	collector := &mockCollector{}
	auditLogger := audit.NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), collector)
	handler := gl.Middleware(auditLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), requestAs(9))
	if buf.Len() != 0 {
		t.Fatalf("allowed request should not be audited: %s", buf.String())
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(9))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Result().StatusCode)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse audit log: %v\nraw: %s", err, buf.String())
	}
	if entry["event_type"] != "rate_limit_exceeded" {
		t.Errorf("event_type = %v", entry["event_type"])
	}
	if entry["user_identifier"] != "9" {
		t.Errorf("user_identifier = %v, want 9", entry["user_identifier"])
	}
	if details, _ := entry["details"].(map[string]any); details["endpoint"] != GeneralEndpoint {
		t.Errorf("details = %v", entry["details"])
	}
	if len(collector.events) != 1 || collector.events[0] != "rate_limit_exceeded" {
		t.Errorf("recorded events = %v", collector.events)
	}
}

func TestGeneralLimiter_IsolatesSubjects(t *testing.T) {
	gl := NewGeneralLimiter(GeneralLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Minute})
	defer gl.Stop()

	handler := gl.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(1))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(2))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("second subject should not be limited, status = %d", w.Result().StatusCode)
	}
	if gl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", gl.Count())
	}
}

func TestGeneralLimiter_NoIdentity_Returns401(t *testing.T) {
	gl := NewGeneralLimiter(GeneralLimiterConfigPerMinute(120))
	defer gl.Stop()

	handler := gl.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pages", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGeneralLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	gl := NewGeneralLimiter(GeneralLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour})
	defer gl.Stop()

	gl.limiterFor("idle")
	gl.cleanup(time.Now().Add(3 * time.Hour))

	if gl.Count() != 0 {
		t.Errorf("Count() = %d after cleanup, want 0", gl.Count())
	}
}

func TestGeneralLimiterConfigPerMinute(t *testing.T) {
	cfg := GeneralLimiterConfigPerMinute(120)
	if float64(cfg.Rate) != 2 || cfg.Burst != 120 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg := GeneralLimiterConfigPerMinute(0); cfg.Burst != 120 {
		t.Errorf("non-positive value should fall back to 120, got %+v", cfg)
	}
}

// --- NewEndpointRateLimitMiddleware (スライディングウィンドウ) のテスト ---

func newEndpointHandler(t *testing.T, store ratelimit.Store, collector *mockCollector, buf *bytes.Buffer) (http.Handler, *int) {
	t.Helper()
	limiter := ratelimit.New(store, ratelimit.DefaultConfig())
	auditLogger := audit.NewLogger(slog.New(slog.NewJSONHandler(buf, nil)), nil)

	calls := 0
	handler := NewEndpointRateLimitMiddleware(limiter, "login", auditLogger, collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	return handler, &calls
}

func loginRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("X-Forwarded-For", ip)
	return req
}

func TestEndpointRateLimit_SixthAttemptRejected(t *testing.T) {
	var buf bytes.Buffer
	handler, calls := newEndpointHandler(t, ratelimit.NewMemoryStore(), &mockCollector{}, &buf)

	for i := 1; i <= 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("203.0.113.5"))
		if w.Result().StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401 from handler", i, w.Result().StatusCode)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("203.0.113.5"))

	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("6th attempt status = %d, want 429", w.Result().StatusCode)
	}
	if got := w.Result().Header.Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if *calls != 5 {
		t.Errorf("handler calls = %d, want 5", *calls)
	}
	if !strings.Contains(buf.String(), `"event_type":"rate_limit_exceeded"`) {
		t.Errorf("rate limit violation should be audited: %s", buf.String())
	}

	other := httptest.NewRecorder()
	handler.ServeHTTP(other, loginRequest("198.51.100.1"))
	if other.Result().StatusCode == http.StatusTooManyRequests {
		t.Error("a different client IP should not be limited")
	}
}

// failingStore は常に失敗するStore。
type failingStore struct{}

func (failingStore) Hit(context.Context, string, string, time.Time, time.Duration, int) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestEndpointRateLimit_StoreFailureFailsOpen(t *testing.T) {
	var buf bytes.Buffer
	collector := &mockCollector{}
	handler, calls := newEndpointHandler(t, failingStore{}, collector, &buf)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("203.0.113.5"))

	if *calls != 1 {
		t.Errorf("handler should be called when the store fails")
	}
	if collector.storeErrors != 1 {
		t.Errorf("storeErrors = %d, want 1", collector.storeErrors)
	}
}
