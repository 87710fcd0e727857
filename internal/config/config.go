package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 認証方式
const (
	AuthSchemeLocal     = "local"
	AuthSchemeDelegated = "delegated"
)

// 実行環境
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	LegacyDatabaseURL string

	// Token
	JWTSecret         string
	JWTAlgorithm      string
	AccessTokenTTL    time.Duration
	AuthScheme        string
	DelegatedAudience string
	DelegatedCookie   string

	// Environment
	Environment string

	// Rate Limit
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	RateLimitGeneral     int
	RedisURL             string

	// Upload
	UploadMaxPhoto    int64
	UploadMaxVideo    int64
	UploadMaxDocument int64
	UploadMaxDefault  int64
	ResourcesDir      string

	// Password
	PasswordMinLength     int
	PasswordMaxLength     int
	PasswordRequireUpper  bool
	PasswordRequireLower  bool
	PasswordRequireDigit  bool
	PasswordRequireSymbol bool
	BcryptCost            int

	// Server
	ServerPort string

	// Cookie
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Sentry
	SentryDSN string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LegacyDatabaseURL = getEnvString("LEGACY_DATABASE_URL", "")
	cfg.JWTAlgorithm = getEnvString("JWT_ALGORITHM", "HS256")
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 7*24*time.Hour)
	cfg.AuthScheme = strings.ToLower(getEnvString("AUTH_SCHEME", AuthSchemeLocal))
	cfg.DelegatedAudience = getEnvString("DELEGATED_AUDIENCE", "authenticated")
	cfg.DelegatedCookie = getEnvString("DELEGATED_COOKIE_NAME", "sb-access-token")
	cfg.Environment = strings.ToLower(getEnvString("ENVIRONMENT", EnvironmentDevelopment))
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second)
	cfg.RateLimitMaxRequests = getEnvInt("RATE_LIMIT_MAX_REQUESTS", 5)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.UploadMaxPhoto = getEnvInt64("UPLOAD_MAX_PHOTO", 50<<20)
	cfg.UploadMaxVideo = getEnvInt64("UPLOAD_MAX_VIDEO", 500<<20)
	cfg.UploadMaxDocument = getEnvInt64("UPLOAD_MAX_DOCUMENT", 50<<20)
	cfg.UploadMaxDefault = getEnvInt64("UPLOAD_MAX_DEFAULT", 100<<20)
	cfg.ResourcesDir = getEnvString("RESOURCES_DIR", "./data/resources")
	cfg.PasswordMinLength = getEnvInt("PASSWORD_MIN_LENGTH", 12)
	cfg.PasswordMaxLength = getEnvInt("PASSWORD_MAX_LENGTH", 72)
	cfg.PasswordRequireUpper = getEnvBool("PASSWORD_REQUIRE_UPPER", true)
	cfg.PasswordRequireLower = getEnvBool("PASSWORD_REQUIRE_LOWER", true)
	cfg.PasswordRequireDigit = getEnvBool("PASSWORD_REQUIRE_DIGIT", true)
	cfg.PasswordRequireSymbol = getEnvBool("PASSWORD_REQUIRE_SYMBOL", false)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.SentryDSN = getEnvString("SENTRY_DSN", "")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction は本番モード（Secure Cookie、HSTS、汎用エラーメッセージ）かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// validate は列挙値と範囲を検証する。
func (c *Config) validate() error {
	var problems []string

	switch c.AuthScheme {
	case AuthSchemeLocal, AuthSchemeDelegated:
	default:
		problems = append(problems, fmt.Sprintf("AUTH_SCHEME must be %q or %q, got %q", AuthSchemeLocal, AuthSchemeDelegated, c.AuthScheme))
	}

	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		problems = append(problems, fmt.Sprintf("JWT_ALGORITHM must be HS256, HS384 or HS512, got %q", c.JWTAlgorithm))
	}

	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentProduction:
	default:
		problems = append(problems, fmt.Sprintf("ENVIRONMENT must be %q or %q, got %q", EnvironmentDevelopment, EnvironmentProduction, c.Environment))
	}

	if c.RateLimitWindow <= 0 || c.RateLimitMaxRequests <= 0 {
		problems = append(problems, "RATE_LIMIT_WINDOW and RATE_LIMIT_MAX_REQUESTS must be positive")
	}

	if c.PasswordMinLength < 1 || c.PasswordMaxLength < c.PasswordMinLength {
		problems = append(problems, "PASSWORD_MIN_LENGTH must be positive and not exceed PASSWORD_MAX_LENGTH")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
