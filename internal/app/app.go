package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/auth"
	"github.com/hitoshi/musicroom/internal/cleanup"
	"github.com/hitoshi/musicroom/internal/config"
	"github.com/hitoshi/musicroom/internal/content"
	"github.com/hitoshi/musicroom/internal/database"
	"github.com/hitoshi/musicroom/internal/handler"
	"github.com/hitoshi/musicroom/internal/legacy"
	"github.com/hitoshi/musicroom/internal/logger"
	"github.com/hitoshi/musicroom/internal/metrics"
	"github.com/hitoshi/musicroom/internal/middleware"
	"github.com/hitoshi/musicroom/internal/ratelimit"
	"github.com/hitoshi/musicroom/internal/repository"
	"github.com/hitoshi/musicroom/internal/security"
	"github.com/hitoshi/musicroom/internal/storage"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// SENTRY_DSNが設定されていればERRORレベル以上をSentryにも送る。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. Sentryへの送信を追加
	if err := logger.SetupWithSentry(w, cfg.SentryDSN, cfg.Environment); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer logger.Flush(2 * time.Second)

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("auth_scheme", cfg.AuthScheme),
		slog.String("environment", cfg.Environment),
	)

	switch cmd {
	case CommandMigrate:
		action, err := ParseMigrateAction(args)
		if err != nil {
			return err
		}
		return runMigrate(cfg, action)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスと監査ログ
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	auditLogger := audit.NewLogger(slog.Default(), collector)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	pageRepo := repository.NewPostgresPageRepo(db)
	resourceRepo := repository.NewPostgresResourceRepo(db)

	// 4. 認証
	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	verifier, err := newVerifier(cfg, userRepo)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(verifier, auditLogger)

	legacyDir, err := legacy.Open(ctx, cfg.LegacyDatabaseURL, hasher)
	if err != nil {
		return fmt.Errorf("failed to open legacy directory: %w", err)
	}
	defer legacyDir.Close()

	// 5. レート制限
	store, closeStore, err := newRateLimitStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	endpointLimiter := ratelimit.New(store, ratelimit.Config{
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMaxRequests,
	})
	generalLimiter := middleware.NewGeneralLimiter(middleware.GeneralLimiterConfigPerMinute(cfg.RateLimitGeneral))
	defer generalLimiter.Stop()

	// 6. アップロードの保存先とコンテンツサービス
	files, err := storage.NewLocalStorage(cfg.ResourcesDir)
	if err != nil {
		return fmt.Errorf("failed to open resources directory: %w", err)
	}
	defer files.Close()

	limits := security.SizeLimits{
		Photo:    cfg.UploadMaxPhoto,
		Video:    cfg.UploadMaxVideo,
		Document: cfg.UploadMaxDocument,
		Default:  cfg.UploadMaxDefault,
	}
	contentService := content.NewService(
		pageRepo, resourceRepo,
		security.NewValidator(security.NewContentSanitizer()),
		security.NewFileValidator(limits),
		files, collector,
	)

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Authenticator:     authenticator,
		TokenValidator:    verifier,
		EndpointLimiter:   endpointLimiter,
		GeneralLimiter:    generalLimiter,
		Audit:             auditLogger,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Production:        cfg.IsProduction(),

		LegacyDirectory: legacyDir,
		AuthConfig: handler.AuthHandlerConfig{
			CookieName:   auth.LocalCookieName,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.IsProduction(),
		},

		PageService:     contentService,
		ResourceService: contentService,
		Files:           files,
		MaxUploadBytes:  limits.Max(),
	}
	if cfg.AuthScheme == config.AuthSchemeLocal {
		issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.AccessTokenTTL)
		if err != nil {
			return fmt.Errorf("failed to create token issuer: %w", err)
		}
		policy := security.PasswordPolicy{
			MinLength:     cfg.PasswordMinLength,
			MaxLength:     cfg.PasswordMaxLength,
			RequireUpper:  cfg.PasswordRequireUpper,
			RequireLower:  cfg.PasswordRequireLower,
			RequireDigit:  cfg.PasswordRequireDigit,
			RequireSymbol: cfg.PasswordRequireSymbol,
		}
		deps.AuthService = auth.NewService(userRepo, hasher, policy, issuer)
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newVerifier は設定された認証方式のVerifierを生成する。1プロセスで使う方式は1つだけ。
func newVerifier(cfg *config.Config, users auth.UserFinder) (auth.Verifier, error) {
	if cfg.AuthScheme == config.AuthSchemeDelegated {
		v, err := auth.NewDelegatedVerifier(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.DelegatedAudience, cfg.DelegatedCookie)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	v, err := auth.NewLocalVerifier(cfg.JWTSecret, cfg.JWTAlgorithm, users)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// newRateLimitStore はREDIS_URLが設定されていればRedis、なければメモリのストアを返す。
// メモリストアの場合は再訪しないクライアントの記録を消す掃除をバックグラウンドで動かす。
func newRateLimitStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, func(), error) {
	if cfg.RedisURL != "" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("rate limit store: redis")
		return ratelimit.NewRedisStore(client), func() { client.Close() }, nil
	}

	store := ratelimit.NewMemoryStore()
	sweepCtx, cancel := context.WithCancel(ctx)
	go store.RunSweeper(sweepCtx, cfg.RateLimitWindow, cfg.RateLimitWindow)
	slog.Info("rate limit store: memory")
	return store, cancel, nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		slog.Info("database migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCleanup は参照されていないアップロードファイルを削除して終了する。
// cronなど外部スケジューラからの定期実行を想定している。
func runCleanup(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	files, err := storage.NewLocalStorage(cfg.ResourcesDir)
	if err != nil {
		return fmt.Errorf("failed to open resources directory: %w", err)
	}
	defer files.Close()

	return cleanup.NewOrphanFileJob(db, files, slog.Default()).Run(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードを伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
