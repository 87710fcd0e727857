package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/metrics"
	"github.com/hitoshi/musicroom/internal/model"
	"github.com/hitoshi/musicroom/internal/ratelimit"
	"github.com/hitoshi/musicroom/internal/security"
)

// GeneralLimiterConfig は認証済みAPI全般のレート制限の設定を保持する。
type GeneralLimiterConfig struct {
	Rate            rate.Limit    // 主体ごとのレート（req/sec）
	Burst           int           // バーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// GeneralLimiterConfigPerMinute は1分あたりのリクエスト数から設定を組み立てる。
func GeneralLimiterConfigPerMinute(perMinute int) GeneralLimiterConfig {
	if perMinute <= 0 {
		perMinute = 120
	}
	return GeneralLimiterConfig{
		Rate:            rate.Limit(float64(perMinute) / 60.0),
		Burst:           perMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// subjectLimiter は主体ごとのレートリミッターとアクセス時刻を保持する。
type subjectLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// GeneralLimiter は認証済み主体ごとのトークンバケットを管理する。
type GeneralLimiter struct {
	config GeneralLimiterConfig

	mu       sync.Mutex
	limiters map[string]*subjectLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewGeneralLimiter は新しいGeneralLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewGeneralLimiter(config GeneralLimiterConfig) *GeneralLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	gl := &GeneralLimiter{
		config:   config,
		limiters: make(map[string]*subjectLimiter),
		stopCh:   make(chan struct{}),
	}

	go gl.cleanupLoop()

	return gl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (gl *GeneralLimiter) Stop() {
	gl.stopOnce.Do(func() { close(gl.stopCh) })
}

// GeneralEndpoint は汎用レート制限の超過を監査ログに記録するときのエンドポイント名。
const GeneralEndpoint = "general"

// Middleware はAPI全般のレート制限ミドルウェアを返す。
// RequireIdentityミドルウェアの後に配置する。超過は監査ログにrate_limit_exceededとして残す。
func (gl *GeneralLimiter) Middleware(auditLogger *audit.Logger) func(next http.Handler) http.Handler {
	if auditLogger == nil {
		auditLogger = audit.NewLogger(nil, nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteAPIError(w, model.NewUnauthenticatedError("Not authenticated"))
				return
			}

			if !gl.limiterFor(identity.Subject()).Allow() {
				auditLogger.RateLimitExceededFor(r, identity.Subject(), GeneralEndpoint)
				writeRateLimited(w, retryAfterForRate(gl.config.Rate))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Count は現在管理されているリミッターのエントリ数を返す。
func (gl *GeneralLimiter) Count() int {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	return len(gl.limiters)
}

func (gl *GeneralLimiter) limiterFor(subject string) *rate.Limiter {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	if sl, ok := gl.limiters[subject]; ok {
		sl.lastAccess = time.Now()
		return sl.limiter
	}

	limiter := rate.NewLimiter(gl.config.Rate, gl.config.Burst)
	gl.limiters[subject] = &subjectLimiter{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (gl *GeneralLimiter) cleanupLoop() {
	ticker := time.NewTicker(gl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gl.cleanup(time.Now())
		case <-gl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (gl *GeneralLimiter) cleanup(now time.Time) {
	ttl := gl.config.CleanupInterval * 2

	gl.mu.Lock()
	defer gl.mu.Unlock()
	for subject, sl := range gl.limiters {
		if now.Sub(sl.lastAccess) > ttl {
			delete(gl.limiters, subject)
		}
	}
}

// retryAfterForRate は1トークンが補充されるまでの秒数を返す。
func retryAfterForRate(r rate.Limit) time.Duration {
	sec := int(math.Ceil(1.0 / float64(r)))
	if sec < 1 {
		sec = 1
	}
	return time.Duration(sec) * time.Second
}

// writeRateLimited はRetry-Afterヘッダー付きの429レスポンスを書き込む。
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	sec := int(math.Ceil(retryAfter.Seconds()))
	if sec < 1 {
		sec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(sec))
	WriteAPIError(w, model.NewRateLimitedError())
}

// NewEndpointRateLimitMiddleware はクライアントIPとエンドポイント名ごとの
// スライディングウィンドウ制限を行うミドルウェアを返す。
// ストアが失敗した場合はリクエストを通し、エラーを記録する。
func NewEndpointRateLimitMiddleware(limiter *ratelimit.Limiter, endpoint string, auditLogger *audit.Logger, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := security.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), ip, endpoint)
			if err != nil {
				slog.Error("rate limiter unavailable",
					slog.String("endpoint", endpoint),
					slog.String("error", err.Error()),
				)
				collector.RecordRateLimitStoreError()
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				auditLogger.RateLimitExceeded(r, endpoint)
				writeRateLimited(w, limiter.RetryAfter())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
