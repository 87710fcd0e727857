package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/model"
)

// Authenticator はリクエストからベアラートークンを取り出し、Verifierで主体を解決する。
type Authenticator struct {
	verifier Verifier
	audit    *audit.Logger
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(verifier Verifier, auditLogger *audit.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, audit: auditLogger}
}

// Verifier は使用中のVerifierを返す。
func (a *Authenticator) Verifier() Verifier {
	return a.verifier
}

// BearerToken はAuthorizationヘッダーのBearerトークンを返す。スキーム名の大文字小文字は問わない。
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}

// TokenFromRequest はAuthorizationヘッダー、次にVerifierのCookieの順でトークンを探す。
func (a *Authenticator) TokenFromRequest(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	if c, err := r.Cookie(a.verifier.CookieName()); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate はリクエストの主体を解決する。
// 失敗時はクライアント向けの汎用APIErrorを返し、具体的な理由は監査ログにのみ記録する。
func (a *Authenticator) Authenticate(r *http.Request) (*model.Identity, error) {
	token := a.TokenFromRequest(r)
	if token == "" {
		a.audit.AuthenticationFailure(r, ErrNoToken.Error())
		return nil, model.NewUnauthenticatedError("Not authenticated")
	}

	identity, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		a.audit.AuthenticationFailure(r, failureReason(err))
		switch {
		case errors.Is(err, ErrTokenExpired):
			return nil, model.NewTokenExpiredError()
		case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMissingSubject):
			return nil, model.NewUnauthenticatedError("Invalid token")
		case errors.Is(err, ErrUserNotFound):
			return nil, model.NewUnauthenticatedError("Not authenticated")
		default:
			return nil, err
		}
	}
	return identity, nil
}

// failureReason はログに残す失敗理由を返す。トークン本体は含めない。
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "token expired"
	case errors.Is(err, ErrMissingSubject):
		return "missing subject"
	case errors.Is(err, ErrUserNotFound):
		return "user not found"
	case errors.Is(err, ErrInvalidToken):
		return "invalid signature or format"
	default:
		return "user lookup failed"
	}
}
