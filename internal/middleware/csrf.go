package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/musicroom/internal/auth"
	"github.com/hitoshi/musicroom/internal/model"
)

// csrfHeaderName は状態変更リクエストに必須のカスタムヘッダー。
// クロスオリジンのフォーム送信では付与できない。
const csrfHeaderName = "X-CSRF-Token"

// DefaultCSRFExemptPaths はセッションを持たない公開エンドポイント。
var DefaultCSRFExemptPaths = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/migrate/lookup",
}

// TokenValidator はベアラートークンの署名と有効期限を検証する。auth.Verifierが実装する。
type TokenValidator interface {
	ValidateSignature(token string) error
}

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	Validator   TokenValidator
	ExemptPaths []string
}

// NewCSRFMiddleware はカスタムヘッダー方式のCSRF対策ミドルウェアを返す。
// 安全なメソッド（GET, HEAD, OPTIONS）と除外パスはそのまま通す。
// それ以外はX-CSRF-Tokenヘッダーと署名が有効なAuthorization: Bearerトークンの両方を要求する。
// ヘッダーの値そのものは検証しない。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	exempt := make(map[string]struct{}, len(config.ExemptPaths))
	for _, p := range config.ExemptPaths {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get(csrfHeaderName) == "" {
				rejectCSRF(w, r, "missing header token")
				return
			}

			token := auth.BearerToken(r)
			if token == "" {
				rejectCSRF(w, r, "missing bearer token")
				return
			}
			if err := config.Validator.ValidateSignature(token); err != nil {
				rejectCSRF(w, r, "invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rejectCSRF(w http.ResponseWriter, r *http.Request, reason string) {
	slog.Warn("CSRF validation failed",
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	WriteAPIError(w, model.NewCSRFError())
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
