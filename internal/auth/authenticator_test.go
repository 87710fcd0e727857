package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/model"
)

func newTestAuthenticator(t *testing.T, users ...*model.User) (*Authenticator, *bytes.Buffer) {
	t.Helper()
	v, err := NewLocalVerifier(testSecret, "HS256", usersWith(users...))
	if err != nil {
		t.Fatalf("NewLocalVerifier: %v", err)
	}
	var buf bytes.Buffer
	return NewAuthenticator(v, audit.NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), nil)), &buf
}

func assertAPIError(t *testing.T, err error, code, message string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code || apiErr.Message != message {
		t.Errorf("got %s %q, want %s %q", apiErr.Code, apiErr.Message, code, message)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer abc":   "abc",
		"BEARER  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := BearerToken(req); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestTokenFromRequest_HeaderTakesPrecedenceOverCookie(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	req.AddCookie(&http.Cookie{Name: LocalCookieName, Value: "from-cookie"})
	if got := a.TokenFromRequest(req); got != "from-header" {
		t.Errorf("TokenFromRequest() = %q, want from-header", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: LocalCookieName, Value: "from-cookie"})
	if got := a.TokenFromRequest(req); got != "from-cookie" {
		t.Errorf("TokenFromRequest() = %q, want from-cookie", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: DelegatedCookieName, Value: "other"})
	if got := a.TokenFromRequest(req); got != "" {
		t.Errorf("TokenFromRequest() = %q, want empty", got)
	}
}

func TestAuthenticate_Success(t *testing.T) {
	alice := &model.User{ID: 1, Email: "alice@example.com"}
	a, _ := newTestAuthenticator(t, alice)

	token := signToken(t, jwt.SigningMethodHS256, testSecret, claimsFor("1", time.Now().Add(time.Hour)))
	req := httptest.NewRequest("GET", "/api/pages", nil)
	req.AddCookie(&http.Cookie{Name: LocalCookieName, Value: token})

	identity, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.UserID != 1 {
		t.Errorf("UserID = %d", identity.UserID)
	}
}

func TestAuthenticate_GenericMessagesAndLoggedReason(t *testing.T) {
	a, buf := newTestAuthenticator(t, &model.User{ID: 1})

	expired := signToken(t, jwt.SigningMethodHS256, testSecret, claimsFor("1", time.Now().Add(-time.Hour)))
	unknownUser := signToken(t, jwt.SigningMethodHS256, testSecret, claimsFor("2", time.Now().Add(time.Hour)))

	tests := []struct {
		name       string
		token      string
		wantCode   string
		wantMsg    string
		wantReason string
	}{
		{name: "トークンなし", token: "", wantCode: model.ErrCodeUnauthenticated, wantMsg: "Not authenticated", wantReason: "no bearer token"},
		{name: "不正なトークン", token: "garbage", wantCode: model.ErrCodeUnauthenticated, wantMsg: "Invalid token", wantReason: "invalid signature or format"},
		{name: "期限切れ", token: expired, wantCode: model.ErrCodeTokenExpired, wantMsg: "Token expired", wantReason: "token expired"},
		{name: "ユーザーなし", token: unknownUser, wantCode: model.ErrCodeUnauthenticated, wantMsg: "Not authenticated", wantReason: "user not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			req := httptest.NewRequest("GET", "/api/pages", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			identity, err := a.Authenticate(req)
			if identity != nil {
				t.Errorf("identity = %+v, want nil", identity)
			}
			assertAPIError(t, err, tt.wantCode, tt.wantMsg)

			out := buf.String()
			if !strings.Contains(out, `"reason":"`+tt.wantReason+`"`) {
				t.Errorf("log should contain reason %q: %s", tt.wantReason, out)
			}
			if tt.token != "" && strings.Contains(out, tt.token) {
				t.Errorf("log leaked the token: %s", out)
			}
		})
	}
}

func TestAuthenticate_StoreErrorPassesThrough(t *testing.T) {
	storeErr := errors.New("db down")
	v, _ := NewLocalVerifier(testSecret, "HS256", &mockUserFinder{
		findByIDFn: func(context.Context, int64) (*model.User, error) { return nil, storeErr },
	})
	a := NewAuthenticator(v, audit.NewLogger(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), nil))

	token := signToken(t, jwt.SigningMethodHS256, testSecret, claimsFor("1", time.Now().Add(time.Hour)))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, err := a.Authenticate(req)
	if !errors.Is(err, storeErr) {
		t.Errorf("Authenticate() error = %v, want store error", err)
	}
}
