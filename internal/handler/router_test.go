package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/musicroom/internal/auth"
	"github.com/hitoshi/musicroom/internal/model"
	"github.com/hitoshi/musicroom/internal/ratelimit"
)

const validToken = "valid-token"

// stubAuthenticator はvalidTokenだけを受け付ける。
type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(r *http.Request) (*model.Identity, error) {
	if auth.BearerToken(r) != validToken {
		return nil, model.NewUnauthenticatedError("Not authenticated")
	}
	return &model.Identity{UserID: 1, Email: "user@example.com"}, nil
}

func (stubAuthenticator) ValidateSignature(token string) error {
	if token != validToken {
		return errors.New("bad signature")
	}
	return nil
}

type stubHealth struct {
	err error
}

func (s stubHealth) PingContext(context.Context) error {
	return s.err
}

func newTestRouter(t *testing.T, mutate func(*RouterDeps)) http.Handler {
	t.Helper()
	deps := &RouterDeps{
		Authenticator:     stubAuthenticator{},
		TokenValidator:    stubAuthenticator{},
		EndpointLimiter:   ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.DefaultConfig()),
		Audit:             discardAudit(),
		HealthChecker:     stubHealth{},
		CORSAllowedOrigin: "http://localhost:3000",
		AuthService:       &mockAuthService{},
		LegacyDirectory:   &mockLegacyDirectory{},
		PageService:       &mockPageService{},
		ResourceService:   &mockResourceService{},
		MaxUploadBytes:    1 << 20,
	}
	if mutate != nil {
		mutate(deps)
	}
	return NewRouter(deps)
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+validToken)
	req.Header.Set("X-CSRF-Token", "1")
	return req
}

func TestRouter_HealthHasSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Referrer-Policy"} {
		if w.Header().Get(h) == "" {
			t.Errorf("header %s missing", h)
		}
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should only be sent in production")
	}
}

func TestRouter_HealthUnreachableDatabase(t *testing.T) {
	router := newTestRouter(t, func(d *RouterDeps) { d.HealthChecker = stubHealth{err: errors.New("down")} })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRouter_ReadsRequireIdentity(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pages", nil))
	assertErrorResponse(t, w, http.StatusUnauthorized, model.ErrCodeUnauthenticated)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authed(httptest.NewRequest(http.MethodGet, "/api/pages", nil)))
	if w.Code != http.StatusOK {
		t.Errorf("authenticated read status = %d", w.Code)
	}
}

func TestRouter_MutationsRequireCSRFHeader(t *testing.T) {
	router := newTestRouter(t, nil)

	req := jsonRequest(http.MethodPost, "/api/pages", `{"name":"Solar","type":"song"}`)
	req.Header.Set("Authorization", "Bearer "+validToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assertErrorResponse(t, w, http.StatusForbidden, model.ErrCodeCSRFFailed)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authed(jsonRequest(http.MethodPost, "/api/pages", `{"name":"Solar","type":"song"}`)))
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201 (%s)", w.Code, w.Body.String())
	}
}

func TestRouter_LoginRateLimitedAfterFiveAttempts(t *testing.T) {
	router := newTestRouter(t, nil)

	for i := 1; i <= 6; i++ {
		req := jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"wrong"}`)
		req.Header.Set("X-Forwarded-For", "203.0.113.50")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if i <= 5 {
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("attempt %d status = %d, want 401", i, w.Code)
			}
			continue
		}
		assertErrorResponse(t, w, http.StatusTooManyRequests, model.ErrCodeRateLimited)
		if w.Header().Get("Retry-After") != "60" {
			t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
		}
	}
}

func TestRouter_LoginCookieHardenedInProduction(t *testing.T) {
	svc := &mockAuthService{loginFn: func(context.Context, string, string) (*auth.LoginResult, error) {
		return &auth.LoginResult{User: &model.User{ID: 1}, AccessToken: "tok"}, nil
	}}
	router := newTestRouter(t, func(d *RouterDeps) {
		d.Production = true
		d.AuthService = svc
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"x"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	cookie := w.Header().Get("Set-Cookie")
	for _, attr := range []string{"HttpOnly", "Secure", "SameSite=Lax"} {
		if !strings.Contains(cookie, attr) {
			t.Errorf("Set-Cookie %q missing %s", cookie, attr)
		}
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS should be sent in production")
	}
}

func TestRouter_DelegatedSchemeHasNoLocalAuth(t *testing.T) {
	router := newTestRouter(t, func(d *RouterDeps) { d.AuthService = nil })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/api/auth/login", `{}`))
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, login should not be routed", w.Code)
	}
}

func TestRouter_ResourceRoutes(t *testing.T) {
	var reordered, fileChecked bool
	var fetchedID int64
	svc := &mockResourceService{
		reorderResourcesFn: func(context.Context, map[int64]int) ([]model.Resource, error) {
			reordered = true
			return []model.Resource{}, nil
		},
		getResourceFn: func(_ context.Context, id int64) (*model.Resource, error) {
			fetchedID = id
			return &model.Resource{ID: id}, nil
		},
		fileRegisteredFn: func(_ context.Context, p string) (bool, error) {
			fileChecked = p == "song/1/a.png"
			return false, nil
		},
	}
	router := newTestRouter(t, func(d *RouterDeps) { d.ResourceService = svc })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authed(jsonRequest(http.MethodPut, "/api/resources/reorder", `{"1":0}`)))
	if w.Code != http.StatusOK || !reordered {
		t.Errorf("reorder status = %d, called = %v", w.Code, reordered)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authed(httptest.NewRequest(http.MethodGet, "/api/resources/42", nil)))
	if w.Code != http.StatusOK || fetchedID != 42 {
		t.Errorf("get status = %d, id = %d", w.Code, fetchedID)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authed(httptest.NewRequest(http.MethodGet, "/api/resources/file/song/1/a.png", nil)))
	if w.Code != http.StatusForbidden || !fileChecked {
		t.Errorf("file status = %d, checked = %v", w.Code, fileChecked)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/pages", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	w := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token") {
		t.Errorf("allow headers = %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
}
