// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/musicroom/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// identityContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
	identityContextKey = contextKey("identity")

	// identitySlotContextKey は外側のミドルウェアが主体を受け取るための格納先のキー。
	identitySlotContextKey = contextKey("identity_slot")
)

// identitySlot はログ出力など、認証より外側のミドルウェアへ主体を渡すための入れ物。
type identitySlot struct {
	identity *model.Identity
}

// IdentityAuthenticator はリクエストの主体を解決する。auth.Authenticatorが実装する。
type IdentityAuthenticator interface {
	Authenticate(r *http.Request) (*model.Identity, error)
}

// NewRequireIdentityMiddleware はベアラートークンから主体を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 解決できない場合は401を返し、後続のハンドラーは呼ばない。
func NewRequireIdentityMiddleware(authenticator IdentityAuthenticator, development bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := authenticator.Authenticate(r)
			if err != nil {
				WriteServiceError(w, r, err, development)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから認証済み主体を取得する。
// RequireIdentityミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	return identity, ok && identity != nil
}

// ContextWithIdentity はコンテキストに認証済み主体を注入する。
// 外側に格納先が用意されていれば、そこにも記録する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	if slot, ok := ctx.Value(identitySlotContextKey).(*identitySlot); ok {
		slot.identity = identity
	}
	return context.WithValue(ctx, identityContextKey, identity)
}

// withIdentitySlot は主体の格納先をコンテキストに用意する。
func withIdentitySlot(ctx context.Context) (context.Context, *identitySlot) {
	slot := &identitySlot{}
	return context.WithValue(ctx, identitySlotContextKey, slot), slot
}
