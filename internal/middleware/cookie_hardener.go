package middleware

import (
	"net/http"
	"strings"
)

// NewCookieHardenerMiddleware はレスポンスのSet-Cookieヘッダーを書き換え、
// HttpOnlyとSameSite（既定Lax）を、secureがtrueの場合はSecureも必ず付与する。
// 既に指定されている属性とその他の属性は変更しない。ヘッダーの順序は保つ。
func NewCookieHardenerMiddleware(secure bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cw := &cookieHardeningWriter{ResponseWriter: w, secure: secure}
			next.ServeHTTP(cw, r)
			// 何も書かずに返ったハンドラーのCookieも、net/httpが送る前に書き換える
			if !cw.wroteHeader {
				cw.WriteHeader(http.StatusOK)
			}
		})
	}
}

// cookieHardeningWriter はヘッダー送信の直前にSet-Cookieを書き換える。
type cookieHardeningWriter struct {
	http.ResponseWriter
	secure      bool
	wroteHeader bool
}

func (cw *cookieHardeningWriter) WriteHeader(code int) {
	if !cw.wroteHeader {
		cw.wroteHeader = true
		hardenSetCookies(cw.Header(), cw.secure)
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *cookieHardeningWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.ResponseWriter.Write(b)
}

// FlushError はhttp.ResponseControllerのFlushから呼ばれる。
// ヘッダー未送信なら先にSet-Cookieを書き換えてから元のWriterをフラッシュする。
func (cw *cookieHardeningWriter) FlushError() error {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return http.NewResponseController(cw.ResponseWriter).Flush()
}

// Flush はhttp.Flusherとして直接呼ばれた場合のFlushError。
func (cw *cookieHardeningWriter) Flush() {
	_ = cw.FlushError()
}

// Unwrap はhttp.ResponseControllerから元のResponseWriterに到達するために使われる。
func (cw *cookieHardeningWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

func hardenSetCookies(h http.Header, secure bool) {
	cookies := h.Values("Set-Cookie")
	if len(cookies) == 0 {
		return
	}
	hardened := make([]string, len(cookies))
	for i, c := range cookies {
		hardened[i] = HardenCookie(c, secure)
	}
	h["Set-Cookie"] = hardened
}

// HardenCookie は1つのSet-Cookie値に不足している属性を追記する。
func HardenCookie(cookie string, secure bool) string {
	parts := strings.Split(cookie, ";")

	var hasHTTPOnly, hasSecure, hasSameSite bool
	for _, attr := range parts[1:] {
		name, _, _ := strings.Cut(strings.TrimSpace(attr), "=")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "httponly":
			hasHTTPOnly = true
		case "secure":
			hasSecure = true
		case "samesite":
			hasSameSite = true
		}
	}

	out := strings.TrimRight(strings.TrimSpace(cookie), "; ")
	if !hasHTTPOnly {
		out += "; HttpOnly"
	}
	if secure && !hasSecure {
		out += "; Secure"
	}
	if !hasSameSite {
		out += "; SameSite=Lax"
	}
	return out
}
