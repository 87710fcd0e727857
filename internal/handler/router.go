package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/musicroom/internal/audit"
	"github.com/hitoshi/musicroom/internal/metrics"
	"github.com/hitoshi/musicroom/internal/middleware"
	"github.com/hitoshi/musicroom/internal/ratelimit"
)

// レート制限のエンドポイント名
const (
	EndpointRegister = "register"
	EndpointLogin    = "login"
	EndpointMigrate  = "migrate"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Authenticator     middleware.IdentityAuthenticator
	TokenValidator    middleware.TokenValidator
	EndpointLimiter   *ratelimit.Limiter
	GeneralLimiter    *middleware.GeneralLimiter
	Audit             *audit.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	Production        bool

	// 認証。AuthServiceがnilの場合（委譲方式）は登録・ログインを公開しない。
	AuthService     AuthServiceInterface
	LegacyDirectory LegacyDirectory
	AuthConfig      AuthHandlerConfig

	// ページ・リソース
	PageService     PageServiceInterface
	ResourceService ResourceServiceInterface
	Files           FileOpener
	MaxUploadBytes  int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CookieHardener → CORS → CSRF
//
// 認証が必要なルートには RequireIdentity → GeneralLimiter を追加し、
// 登録・ログイン・旧アカウント照合にはエンドポイント別のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	development := !deps.Production
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.AuthConfig.Development = development

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(development))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Production))
	r.Use(middleware.NewCookieHardenerMiddleware(deps.Production))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
		Validator:   deps.TokenValidator,
		ExemptPaths: middleware.DefaultCSRFExemptPaths,
	}))

	authHandler := NewAuthHandler(deps.AuthService, deps.LegacyDirectory, deps.Audit, deps.AuthConfig)
	pageHandler := NewPageHandler(deps.PageService, development)
	resourceHandler := NewResourceHandler(deps.ResourceService, deps.Files, deps.Audit, deps.MaxUploadBytes, development)

	rateLimited := func(endpoint string) func(http.Handler) http.Handler {
		return middleware.NewEndpointRateLimitMiddleware(deps.EndpointLimiter, endpoint, deps.Audit, collector)
	}
	requireIdentity := middleware.NewRequireIdentityMiddleware(deps.Authenticator, development)

	// --- 認証不要のルート ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		if deps.AuthService != nil {
			r.With(rateLimited(EndpointRegister)).Post("/register", authHandler.Register)
			r.With(rateLimited(EndpointLogin)).Post("/login", authHandler.Login)
		}
		r.With(rateLimited(EndpointMigrate)).Post("/migrate/lookup", authHandler.LegacyLookup)
		r.Post("/logout", authHandler.Logout)
		r.With(requireIdentity).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RequireIdentity → GeneralLimiter
	r.Group(func(r chi.Router) {
		r.Use(requireIdentity)
		if deps.GeneralLimiter != nil {
			r.Use(deps.GeneralLimiter.Middleware(deps.Audit))
		}

		r.Route("/api/pages", func(r chi.Router) {
			r.Get("/", pageHandler.ListPages)
			r.Post("/", pageHandler.CreatePage)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", pageHandler.GetPage)
				r.Put("/", pageHandler.UpdatePage)
				r.Delete("/", pageHandler.DeletePage)
			})
		})

		r.Route("/api/resources", func(r chi.Router) {
			r.Get("/", resourceHandler.ListResources)
			r.Post("/", resourceHandler.CreateResource)
			r.Put("/reorder", resourceHandler.ReorderResources)
			r.Post("/upload/{page_id}", resourceHandler.Upload)
			r.Get("/file/*", resourceHandler.ServeFile)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", resourceHandler.GetResource)
				r.Put("/", resourceHandler.UpdateResource)
				r.Delete("/", resourceHandler.DeleteResource)
			})
		})
	})

	return r
}
