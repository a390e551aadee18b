// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Keyring
	// SessionSecrets は署名鍵のリング。末尾の要素が現行の署名鍵で、
	// それ以前の要素はローテーション猶予期間中の検証専用鍵。
	SessionSecrets []string

	// Cookie transport
	// CookieSecret はCookie値の外側署名（トランスポート署名）に使う。
	CookieSecret   string
	CookieSameSite http.SameSite
	CookieSecure   bool
	CookieDomain   string

	// Token lifetimes
	SessionExpiresIn time.Duration
	RefreshExpiresIn time.Duration

	// Password hashing
	Argon2Memory    uint32 // KiB
	Argon2Time      uint32
	HashParallelism int

	// Rate Limit
	RateLimitLogin int // 認証エンドポイントの req/min/IP

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または鍵リングが空の場合はエラーを返す。
// この失敗は起動時の致命的エラーであり、プロセスは開始してはならない。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	secrets := os.Getenv("SESSION_SECRETS")
	if secrets == "" {
		missing = append(missing, "SESSION_SECRETS")
	}

	cfg.CookieSecret = os.Getenv("COOKIE_SECRET")
	if cfg.CookieSecret == "" {
		missing = append(missing, "COOKIE_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SessionSecrets = splitSecrets(secrets)
	if len(cfg.SessionSecrets) == 0 {
		return nil, fmt.Errorf("SESSION_SECRETS must contain at least one non-empty secret")
	}

	// Optional fields with defaults
	cfg.SessionExpiresIn = getEnvDuration("SESSION_EXPIRES_IN", 15*time.Minute)
	cfg.RefreshExpiresIn = getEnvDuration("REFRESH_EXPIRES_IN", 168*time.Hour)
	cfg.Argon2Memory = uint32(getEnvInt("ARGON2_MEMORY_KB", 19456))
	cfg.Argon2Time = uint32(getEnvInt("ARGON2_TIME", 2))
	cfg.HashParallelism = getEnvInt("HASH_PARALLELISM", runtime.NumCPU())
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", false)
	cfg.CookieSameSite = parseSameSite(getEnvString("COOKIE_SAME_SITE", "lax"))

	return cfg, nil
}

// splitSecrets はカンマ区切りの鍵リストを分解する。空要素は無視する。
func splitSecrets(raw string) []string {
	var secrets []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}

// parseSameSite はSameSite属性の文字列表現を変換する。
// 不明な値はLaxにフォールバックする。
func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
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
