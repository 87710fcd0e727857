package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/auth"
	"github.com/hitoshi/musicroom/internal/legacy"
	"github.com/hitoshi/musicroom/internal/middleware"
	"github.com/hitoshi/musicroom/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	TokenTTL() time.Duration
}

// LegacyDirectory は旧ユーザーディレクトリの照合インターフェース。legacy.Directoryが実装する。
type LegacyDirectory interface {
	Verify(ctx context.Context, username, password string) (*model.LegacyAccount, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieName   string
	CookieDomain string
	CookieSecure bool
	Development  bool
}

// AuthHandler は登録・ログイン・ログアウトと旧アカウント照合のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	legacy  LegacyDirectory
	audit   *audit.Logger
	config  AuthHandlerConfig
	errors  errorWriter
}

// NewAuthHandler はAuthHandlerを生成する。serviceとlegacyはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, legacyDir LegacyDirectory, auditLogger *audit.Logger, config AuthHandlerConfig) *AuthHandler {
	if config.CookieName == "" {
		config.CookieName = auth.LocalCookieName
	}
	return &AuthHandler{
		service: service,
		legacy:  legacyDir,
		audit:   auditLogger,
		config:  config,
		errors:  errorWriter{development: config.Development},
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type legacyLookupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type meResponse struct {
	ID      int64  `json:"id,omitempty"`
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email"`
}

type legacyLookupResponse struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Register はユーザーを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.audit.FailedRegistration(r, auth.NormalizeEmail(req.Email), apiErr.Message)
		}
		h.errors.write(w, r, err)
		return
	}

	h.audit.SuccessfulRegistration(r, strconv.FormatInt(user.ID, 10))
	writeJSON(w, http.StatusCreated, userResponse{ID: user.ID, Email: user.Email, CreatedAt: user.CreatedAt})
}

// Login はメールアドレスとパスワードでログインし、アクセストークンを返す。
// トークンはCookieにも設定する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidCredentials {
			h.audit.FailedLogin(r, auth.NormalizeEmail(req.Email), "invalid credentials")
		}
		h.errors.write(w, r, err)
		return
	}

	h.audit.SuccessfulLogin(r, strconv.FormatInt(result.User.ID, 10))
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    result.AccessToken,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.service.TokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: result.AccessToken, TokenType: "bearer"})
}

// Logout はトークンのCookieを失効させる。トークン自体はステートレスなので無効化しない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

// Me は認証済み主体を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.errors.write(w, r, model.NewUnauthenticatedError("Not authenticated"))
		return
	}
	if identity.IsLocal() {
		writeJSON(w, http.StatusOK, meResponse{ID: identity.UserID, Email: identity.Email})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Subject: identity.ExternalSubject, Email: identity.Email})
}

// LegacyLookup は旧ディレクトリのユーザー名とパスワードを照合し、移行先のメールアドレスを返す。
// POST /api/auth/migrate/lookup
func (h *AuthHandler) LegacyLookup(w http.ResponseWriter, r *http.Request) {
	if h.legacy == nil {
		h.errors.write(w, r, model.NewServiceUnavailableError("Legacy user directory is not configured"))
		return
	}

	var req legacyLookupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		h.errors.write(w, r, model.NewValidationError("username and password are required"))
		return
	}

	account, err := h.legacy.Verify(r.Context(), username, req.Password)
	if err != nil {
		if errors.Is(err, legacy.ErrNotConfigured) {
			err = model.NewServiceUnavailableError("Legacy user directory is not configured")
		}
		h.errors.write(w, r, err)
		return
	}
	if account == nil {
		h.audit.FailedLogin(r, username, "legacy credentials rejected")
		h.errors.write(w, r, model.NewUnauthenticatedError("Invalid username or password"))
		return
	}

	h.audit.SuccessfulLogin(r, "legacy:"+strconv.FormatInt(account.ID, 10))
	writeJSON(w, http.StatusOK, legacyLookupResponse{Email: account.Email, Username: account.Username})
}
