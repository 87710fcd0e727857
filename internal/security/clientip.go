package security

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClientIP はクライアントIPを特定できない場合の値。
const UnknownClientIP = "unknown"

// ClientIP はリクエスト元のIPアドレスを返す。
// X-Forwarded-Forの先頭、X-Real-IP、RemoteAddrの順に参照する。
// プロキシヘッダーはクライアントが偽装できるため、信頼できるリバースプロキシの背後での利用を前提とする。
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}

	return UnknownClientIP
}
