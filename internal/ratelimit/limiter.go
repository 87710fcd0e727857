// Package ratelimit は (クライアントIP, エンドポイント) 単位のスライディングウィンドウ制限を提供する。
//
// 状態はStoreに置く。単一プロセスではMemoryStore、複数インスタンスで
// 状態を共有する場合はRedisStoreを使う。
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// デフォルト値。RATE_LIMIT_WINDOW / RATE_LIMIT_MAX_REQUESTS で上書きされる。
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 5
)

// Store はスライディングウィンドウの状態を保持する。
// Hitはウィンドウ外の記録を破棄したうえで件数を数え、
// maxRequests未満であればnowを記録してtrueを返す。上限に達していれば記録せずfalseを返す。
type Store interface {
	Hit(ctx context.Context, clientIP, endpoint string, now time.Time, window time.Duration, maxRequests int) (bool, error)
}

// Config はLimiterの設定。
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultConfig は60秒に5回の設定を返す。
func DefaultConfig() Config {
	return Config{Window: DefaultWindow, MaxRequests: DefaultMaxRequests}
}

// Limiter はエンドポイント単位でリクエストの可否を判定する。
type Limiter struct {
	store  Store
	config Config
	now    func() time.Time
}

// Option はLimiterの生成オプション。
type Option func(*Limiter)

// WithClock は現在時刻の取得関数を差し替える。テストで時刻を進めるために使う。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New はLimiterを生成する。不正な設定値はデフォルトに置き換える。
func New(store Store, config Config, opts ...Option) *Limiter {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultMaxRequests
	}
	l := &Limiter{
		store:  store,
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow はclientIPからendpointへのリクエストを許可するかを返す。
// ストアの失敗はエラーとして返し、許可するかどうかは呼び出し側が決める。
func (l *Limiter) Allow(ctx context.Context, clientIP, endpoint string) (bool, error) {
	allowed, err := l.store.Hit(ctx, clientIP, endpoint, l.now(), l.config.Window, l.config.MaxRequests)
	if err != nil {
		return false, fmt.Errorf("rate limit store: %w", err)
	}
	return allowed, nil
}

// RetryAfter は拒否時にクライアントへ返す待機時間。ウィンドウ長と同じ。
func (l *Limiter) RetryAfter() time.Duration {
	return l.config.Window
}
