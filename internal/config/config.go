package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity Provider
	IDPAPIKey   string
	IDPBaseURL  string
	IDPTokenURL string

	// 外部プロバイダー（Google）ログイン
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Marketplace API
	MarketAPIBaseURL string
	MarketAPITimeout time.Duration

	// Session
	SessionMaxAge int           // ブラウザセッションの有効期間（秒）
	TokenLeeway   time.Duration // IDトークンを期限切れ前に更新する猶予

	// Rate Limit
	RateLimitGeneral int // ダッシュボードAPI req/min/session
	RateLimitAuth    int // 認証エンドポイント req/min/IP

	// Advisory
	AdvisoryFeeds    []string // 運行情報フィードURL（カンマ区切り）
	AdvisoryInterval time.Duration
	AdvisoryTimeout  time.Duration
	AdvisoryMaxSize  int64

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IDPAPIKey = os.Getenv("IDP_API_KEY")
	if cfg.IDPAPIKey == "" {
		missing = append(missing, "IDP_API_KEY")
	}

	cfg.MarketAPIBaseURL = os.Getenv("MARKET_API_BASE_URL")
	if cfg.MarketAPIBaseURL == "" {
		missing = append(missing, "MARKET_API_BASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IDPBaseURL = getEnvString("IDP_BASE_URL", "https://identitytoolkit.googleapis.com")
	cfg.IDPTokenURL = getEnvString("IDP_TOKEN_URL", "https://securetoken.googleapis.com")
	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", "")
	cfg.MarketAPITimeout = getEnvDuration("MARKET_API_TIMEOUT", 15*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800) // 7日
	cfg.TokenLeeway = getEnvDuration("TOKEN_LEEWAY", 30*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.AdvisoryFeeds = getEnvStringSlice("ADVISORY_FEEDS")
	cfg.AdvisoryInterval = getEnvDuration("ADVISORY_INTERVAL", 15*time.Minute)
	cfg.AdvisoryTimeout = getEnvDuration("ADVISORY_TIMEOUT", 10*time.Second)
	cfg.AdvisoryMaxSize = getEnvInt64("ADVISORY_MAX_SIZE", 2097152)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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
