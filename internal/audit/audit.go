// Package audit はセキュリティイベントの構造化ログ出力を提供する。
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"sort"

	"github.com/hitoshi/musicroom/internal/security"
)

// EventType はセキュリティイベントの種別。
type EventType string

const (
	EventFailedLogin            EventType = "failed_login"
	EventSuccessfulLogin        EventType = "successful_login"
	EventFailedRegistration     EventType = "failed_registration"
	EventSuccessfulRegistration EventType = "successful_registration"
	EventRateLimitExceeded      EventType = "rate_limit_exceeded"
	EventAuthenticationFailure  EventType = "authentication_failure"
	EventAuthorizationFailure   EventType = "authorization_failure"
	EventSuspiciousActivity     EventType = "suspicious_activity"
)

// RedactedValue は秘匿情報を置き換える値。
const RedactedValue = "[REDACTED]"

var sensitiveKey = regexp.MustCompile(`(?i)password|token|secret|key|credential`)

// ClientInfo はイベント発生元のリクエスト情報。
type ClientInfo struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
	Referer   string
}

// ClientInfoFromRequest はリクエストからClientInfoを組み立てる。
func ClientInfoFromRequest(r *http.Request) ClientInfo {
	return ClientInfo{
		IP:        security.ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Referer:   r.Referer(),
	}
}

// EventRecorder はイベント種別ごとの件数を記録する。metrics.Collectorが実装する。
type EventRecorder interface {
	RecordSecurityEvent(eventType string)
}

// Logger はセキュリティイベントを1件1レコードで出力する。
// 詳細のキーが秘匿情報を示す場合は値を必ず伏せる。
type Logger struct {
	logger   *slog.Logger
	recorder EventRecorder
}

// NewLogger はLoggerを生成する。recorderはnilでもよい。
func NewLogger(logger *slog.Logger, recorder EventRecorder) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		logger:   logger.With(slog.String("component", "security")),
		recorder: recorder,
	}
}

// Log はセキュリティイベントを出力する。
// details内のキーがpassword/token/secret/key/credentialを含む場合、値は[REDACTED]になる。
func (l *Logger) Log(ctx context.Context, event EventType, level slog.Level, client ClientInfo, userIdentifier string, details map[string]any) {
	attrs := []any{
		slog.String("event_type", string(event)),
		slog.Group("client",
			slog.String("ip", client.IP),
			slog.String("user_agent", client.UserAgent),
			slog.String("method", client.Method),
			slog.String("path", client.Path),
			slog.String("referer", client.Referer),
		),
	}
	if userIdentifier != "" {
		attrs = append(attrs, slog.String("user_identifier", userIdentifier))
	}
	if len(details) > 0 {
		attrs = append(attrs, slog.Group("details", redact(details)...))
	}

	l.logger.Log(ctx, level, "security_event", attrs...)

	if l.recorder != nil {
		l.recorder.RecordSecurityEvent(string(event))
	}
}

// FailedLogin はログイン失敗を記録する。
func (l *Logger) FailedLogin(r *http.Request, email, reason string) {
	l.Log(r.Context(), EventFailedLogin, slog.LevelWarn, ClientInfoFromRequest(r), email,
		map[string]any{"reason": reason})
}

// SuccessfulLogin はログイン成功を記録する。
func (l *Logger) SuccessfulLogin(r *http.Request, userIdentifier string) {
	l.Log(r.Context(), EventSuccessfulLogin, slog.LevelInfo, ClientInfoFromRequest(r), userIdentifier, nil)
}

// FailedRegistration は登録失敗を記録する。
func (l *Logger) FailedRegistration(r *http.Request, email, reason string) {
	l.Log(r.Context(), EventFailedRegistration, slog.LevelWarn, ClientInfoFromRequest(r), email,
		map[string]any{"reason": reason})
}

// SuccessfulRegistration は登録成功を記録する。
func (l *Logger) SuccessfulRegistration(r *http.Request, userIdentifier string) {
	l.Log(r.Context(), EventSuccessfulRegistration, slog.LevelInfo, ClientInfoFromRequest(r), userIdentifier, nil)
}

// RateLimitExceeded はレート制限超過を記録する。
func (l *Logger) RateLimitExceeded(r *http.Request, endpoint string) {
	l.RateLimitExceededFor(r, "", endpoint)
}

// RateLimitExceededFor は認証済み主体のレート制限超過を記録する。
func (l *Logger) RateLimitExceededFor(r *http.Request, userIdentifier, endpoint string) {
	l.Log(r.Context(), EventRateLimitExceeded, slog.LevelWarn, ClientInfoFromRequest(r), userIdentifier,
		map[string]any{"endpoint": endpoint})
}

// AuthenticationFailure は認証失敗を記録する。
func (l *Logger) AuthenticationFailure(r *http.Request, reason string) {
	l.Log(r.Context(), EventAuthenticationFailure, slog.LevelWarn, ClientInfoFromRequest(r), "",
		map[string]any{"reason": reason})
}

// AuthorizationFailure は認可失敗を記録する。
func (l *Logger) AuthorizationFailure(r *http.Request, userIdentifier, resource string) {
	l.Log(r.Context(), EventAuthorizationFailure, slog.LevelWarn, ClientInfoFromRequest(r), userIdentifier,
		map[string]any{"resource": resource})
}

// SuspiciousActivity は不審な操作を記録する。ERRORレベルで出力する。
func (l *Logger) SuspiciousActivity(r *http.Request, userIdentifier, description string, details map[string]any) {
	merged := make(map[string]any, len(details)+1)
	for k, v := range details {
		merged[k] = v
	}
	merged["description"] = description
	l.Log(r.Context(), EventSuspiciousActivity, slog.LevelError, ClientInfoFromRequest(r), userIdentifier, merged)
}

// redact は詳細をキー順に並べたslog属性に変換し、秘匿キーの値を伏せる。
// 入れ子のmapはグループにして同じ規則で再帰的に伏せる。
func redact(details map[string]any) []any {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		if sensitiveKey.MatchString(k) {
			attrs = append(attrs, slog.String(k, RedactedValue))
			continue
		}
		if nested, ok := details[k].(map[string]any); ok {
			attrs = append(attrs, slog.Group(k, redact(nested)...))
			continue
		}
		attrs = append(attrs, slog.Any(k, details[k]))
	}
	return attrs
}
