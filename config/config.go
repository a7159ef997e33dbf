package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ServerAddr    string
	AllowedOrigin []string
	EnvFile       string
	WatchEnvFile  bool
	// 日志配置
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	// 数据库配置
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	// Redis配置
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	MinioPublicURL string // Base URL used when building profile_picture_url
	// 认证配置
	JWTSecret         string
	SessionTTL        time.Duration // Lifetime of a "remember me" session cookie
	CookieSecure      bool
	RateLimitAttempts int
	RateLimitWindow   time.Duration
	// 密码重置
	ResetQRTimeout    time.Duration
	ResetCodeTimeout  time.Duration
	ResetCodeAttempts int
	ResetBaseURL      string // Prefix of the link embedded in the reset QR code
	// 上传限制
	MaxPictureBytes int64
	// 作曲工作室
	StudioGenerateDelay time.Duration
	StudioTickInterval  time.Duration
	StudioIdleTimeout   time.Duration
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "2m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	envFile := getEnv("MUSICFLOW_ENV_FILE", ".env")
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("No %s file found, relying on existing environment variables and defaults.", envFile)
	}
	return fromEnv(envFile)
}

// Reload re-reads the env file, overriding values that were loaded earlier.
// Used by the config watcher; variables set by the process environment are
// overwritten as well, which is what an operator editing .env expects.
func Reload(envFile string) (*Config, error) {
	if err := godotenv.Overload(envFile); err != nil {
		return nil, err
	}
	return fromEnv(envFile), nil
}

func fromEnv(envFile string) *Config {
	return &Config{
		ServerAddr:    getEnv("SERVER_ADDR", ":8080"),
		AllowedOrigin: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		EnvFile:       envFile,
		WatchEnvFile:  getEnvBool("WATCH_ENV_FILE", true),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", "logs/musicflow.log"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "musicflow"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "musicflow"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioPublicURL: getEnv("MINIO_PUBLIC_URL", "/media"),

		JWTSecret:         getEnv("JWT_SECRET", "musicflow-dev-secret"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 14*24*time.Hour),
		CookieSecure:      getEnvBool("COOKIE_SECURE", false),
		RateLimitAttempts: getEnvInt("RATE_LIMIT_ATTEMPTS", 10),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),

		ResetQRTimeout:    getEnvDuration("RESET_QR_TIMEOUT", 120*time.Second),
		ResetCodeTimeout:  getEnvDuration("RESET_CODE_TIMEOUT", 120*time.Second),
		ResetCodeAttempts: getEnvInt("RESET_CODE_ATTEMPTS", 5),
		ResetBaseURL:      getEnv("RESET_BASE_URL", "http://localhost:8080"),

		MaxPictureBytes: int64(getEnvInt("MAX_PICTURE_BYTES", 5*1024*1024)),

		StudioGenerateDelay: getEnvDuration("STUDIO_GENERATE_DELAY", 1200*time.Millisecond),
		StudioTickInterval:  getEnvDuration("STUDIO_TICK_INTERVAL", 100*time.Millisecond),
		StudioIdleTimeout:   getEnvDuration("STUDIO_IDLE_TIMEOUT", 30*time.Minute),
	}
}
