package config

import (
	"fmt"
	"log/slog"
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

	// Review API
	ReviewAPIURL     string
	ReviewAPITimeout time.Duration
	VerifyImageURLs  bool

	// Social login (OIDC)。IssuerURLが空の場合は無効。
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	// Session
	SessionSecret string
	SessionMaxAge int
	ClientIdleTTL time.Duration
	ResolveWait   time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral  int
	RateLimitMutation int

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// SocialLoginEnabled はOIDCによるソーシャルログインが設定されているかを返す。
func (c *Config) SocialLoginEnabled() bool {
	return c.OIDCIssuerURL != ""
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

	cfg.ReviewAPIURL = os.Getenv("REVIEW_API_URL")
	if cfg.ReviewAPIURL == "" {
		missing = append(missing, "REVIEW_API_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// OIDCはIssuerURLを設定した場合のみ、残りの項目を必須とする
	cfg.OIDCIssuerURL = os.Getenv("OIDC_ISSUER_URL")
	cfg.OIDCClientID = os.Getenv("OIDC_CLIENT_ID")
	cfg.OIDCClientSecret = os.Getenv("OIDC_CLIENT_SECRET")
	cfg.OIDCRedirectURL = getEnvString("OIDC_REDIRECT_URL", strings.TrimRight(cfg.BaseURL, "/")+"/auth/social/callback")
	if cfg.OIDCIssuerURL != "" {
		if cfg.OIDCClientID == "" {
			missing = append(missing, "OIDC_CLIENT_ID")
		}
		if cfg.OIDCClientSecret == "" {
			missing = append(missing, "OIDC_CLIENT_SECRET")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("OIDC_ISSUER_URL is set but required variables are missing: %v", missing)
		}
	}

	// Optional fields with defaults
	cfg.ReviewAPITimeout = getEnvDuration("REVIEW_API_TIMEOUT", 10*time.Second)
	cfg.VerifyImageURLs = getEnvBool("VERIFY_IMAGE_URLS", false)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.ClientIdleTTL = getEnvDuration("CLIENT_IDLE_TTL", 30*time.Minute)
	cfg.ResolveWait = getEnvDuration("RESOLVE_WAIT", 2*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	return cfg, nil
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

// getEnvLogLevel はdebug, info, warn, errorのいずれかを解釈する。
func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
