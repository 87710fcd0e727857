package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return slog.New(newJSONHandler(w))
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// SetupWithSentry はJSON出力に加えてERRORレベル以上をSentryへ送るロガーを
// グローバルロガーとして設定する。dsnが空の場合はSetupDefaultと同じ。
func SetupWithSentry(w io.Writer, dsn string, environment string) error {
	if w == nil {
		w = os.Stdout
	}
	if dsn == "" {
		SetupDefault(w)
		return nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	handler := slogmulti.Fanout(
		newJSONHandler(w),
		slogsentry.Option{Level: slog.LevelError}.NewSentryHandler(),
	)
	slog.SetDefault(slog.New(handler))
	return nil
}

// Flush は送信待ちのSentryイベントを最大timeoutまで待って送信する。
// Sentry未初期化の場合は何もしない。
func Flush(timeout time.Duration) {
	if sentry.CurrentHub().Client() == nil {
		return
	}
	sentry.Flush(timeout)
}

func newJSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
}
