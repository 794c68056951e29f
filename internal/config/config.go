package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストア種別
const (
	BoardStorePostgres = "postgres"
	BoardStoreMemory   = "memory"

	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"

	ThumbnailStoreNone  = "none"
	ThumbnailStoreMinIO = "minio"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string
	BoardStore  string

	// Identity Provider
	IDPProjectID  string
	IDPIssuer     string
	IDPCertsURL   string
	IDPAPIKey     string
	IDPAuthDomain string

	// OAuth（任意）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionBackend string
	SessionMaxAge  int
	RedisURL       string

	// Thumbnail
	ThumbnailStore   string
	MinIOEndpoint    string
	MinIOAccessKey   string
	MinIOSecretKey   string
	MinIOBucket      string
	MinIOUseSSL      bool
	ThumbnailMaxSize int64

	// Rate Limit（req/min）
	RateLimitGeneral     int
	RateLimitBoardCreate int

	// Worker
	TrashRetentionDays int
	CleanupInterval    time.Duration

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// GoogleOAuthEnabled はサーバーサイドのGoogle OAuthフローが設定されているかを返す。
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// NeedsDatabase はPostgreSQL接続が必要な構成かどうかを返す。
func (c *Config) NeedsDatabase() bool {
	return c.BoardStore == BoardStorePostgres || c.SessionBackend == SessionBackendPostgres
}

// LoadDotEnv はカレントディレクトリの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.BoardStore = getEnvString("BOARD_STORE", BoardStorePostgres)
	if cfg.BoardStore != BoardStorePostgres && cfg.BoardStore != BoardStoreMemory {
		return nil, fmt.Errorf("unsupported BOARD_STORE: %q", cfg.BoardStore)
	}
	cfg.SessionBackend = getEnvString("SESSION_BACKEND", SessionBackendPostgres)
	if cfg.SessionBackend != SessionBackendPostgres && cfg.SessionBackend != SessionBackendRedis {
		return nil, fmt.Errorf("unsupported SESSION_BACKEND: %q", cfg.SessionBackend)
	}
	cfg.ThumbnailStore = getEnvString("THUMBNAIL_STORE", ThumbnailStoreNone)
	if cfg.ThumbnailStore != ThumbnailStoreNone && cfg.ThumbnailStore != ThumbnailStoreMinIO {
		return nil, fmt.Errorf("unsupported THUMBNAIL_STORE: %q", cfg.ThumbnailStore)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.NeedsDatabase() {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IDPProjectID = os.Getenv("IDP_PROJECT_ID")
	if cfg.IDPProjectID == "" {
		missing = append(missing, "IDP_PROJECT_ID")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" && cfg.SessionBackend == SessionBackendRedis {
		missing = append(missing, "REDIS_URL")
	}

	cfg.MinIOEndpoint = os.Getenv("MINIO_ENDPOINT")
	if cfg.MinIOEndpoint == "" && cfg.ThumbnailStore == ThumbnailStoreMinIO {
		missing = append(missing, "MINIO_ENDPOINT")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IDPIssuer = getEnvString("IDP_ISSUER", "https://securetoken.google.com/"+cfg.IDPProjectID)
	cfg.IDPCertsURL = getEnvString("IDP_CERTS_URL", "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com")
	cfg.IDPAPIKey = getEnvString("IDP_API_KEY", "")
	cfg.IDPAuthDomain = getEnvString("IDP_AUTH_DOMAIN", cfg.IDPProjectID+".firebaseapp.com")
	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", strings.TrimRight(cfg.BaseURL, "/")+"/auth/google/callback")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.MinIOAccessKey = getEnvString("MINIO_ACCESS_KEY", "minioadmin")
	cfg.MinIOSecretKey = getEnvString("MINIO_SECRET_KEY", "minioadmin")
	cfg.MinIOBucket = getEnvString("MINIO_BUCKET", "board-thumbnails")
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.ThumbnailMaxSize = getEnvInt64("THUMBNAIL_MAX_SIZE", 2097152)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBoardCreate = getEnvInt("RATE_LIMIT_BOARD_CREATE", 20)
	cfg.TrashRetentionDays = getEnvInt("TRASH_RETENTION_DAYS", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

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

// getEnvLogLevel は debug|info|warn|error をslog.Levelに変換する。
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
