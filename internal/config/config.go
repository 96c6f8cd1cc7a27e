package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	AuthMode    string   `mapstructure:"AUTH_MODE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	DispatchRadiusKm     float64       `mapstructure:"DISPATCH_RADIUS_KM"`
	DispatchTopN         int           `mapstructure:"DISPATCH_TOP_N"`
	EmergencyPhone       string        `mapstructure:"EMERGENCY_PHONE"`
	CallRingTimeout      time.Duration `mapstructure:"CALL_RING_TIMEOUT"`
	IdempotencyTTL       time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	IdempotencyCacheSize int           `mapstructure:"IDEMPOTENCY_CACHE_SIZE"`
	QueueTimezone        string        `mapstructure:"QUEUE_TIMEZONE"`

	GeminiAPIKey  string `mapstructure:"GEMINI_API_KEY"`
	GeminiBaseURL string `mapstructure:"GEMINI_BASE_URL"`
	GeminiModel   string `mapstructure:"GEMINI_MODEL"`

	PlacesAPIKey   string        `mapstructure:"PLACES_API_KEY"`
	PlacesBaseURL  string        `mapstructure:"PLACES_BASE_URL"`
	PlacesCacheTTL time.Duration `mapstructure:"PLACES_CACHE_TTL"`

	UploadBackend          string `mapstructure:"UPLOAD_BACKEND"`
	CloudinaryCloudName    string `mapstructure:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryUploadPreset string `mapstructure:"CLOUDINARY_UPLOAD_PRESET"`
	MinioEndpoint          string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey         string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey         string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket            string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL            bool   `mapstructure:"MINIO_USE_SSL"`
	MinioPublicBase        string `mapstructure:"MINIO_PUBLIC_BASE"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"CORS_ORIGINS", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
	"MIGRATIONS_DIR", "DISPATCH_RADIUS_KM", "DISPATCH_TOP_N", "EMERGENCY_PHONE",
	"CALL_RING_TIMEOUT", "IDEMPOTENCY_TTL", "IDEMPOTENCY_CACHE_SIZE", "QUEUE_TIMEZONE",
	"GEMINI_API_KEY", "GEMINI_BASE_URL", "GEMINI_MODEL",
	"PLACES_API_KEY", "PLACES_BASE_URL", "PLACES_CACHE_TTL",
	"UPLOAD_BACKEND", "CLOUDINARY_CLOUD_NAME", "CLOUDINARY_UPLOAD_PRESET",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"MINIO_PUBLIC_BASE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:8081")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("DISPATCH_RADIUS_KM", 50)
	v.SetDefault("DISPATCH_TOP_N", 3)
	v.SetDefault("EMERGENCY_PHONE", "108")
	v.SetDefault("CALL_RING_TIMEOUT", "45s")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("IDEMPOTENCY_CACHE_SIZE", 10000)
	v.SetDefault("QUEUE_TIMEZONE", "UTC")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("PLACES_BASE_URL", "https://maps.googleapis.com/maps/api")
	v.SetDefault("PLACES_CACHE_TTL", "10m")
	v.SetDefault("UPLOAD_BACKEND", "memory")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. An explicit AUTH_MODE
// wins; otherwise development environments run without token checks and
// everything else expects ID tokens from AUTH_ISSUER.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
	}
	if c.IsProduction() && mode == "development" {
		return fmt.Errorf("AUTH_MODE=development is not allowed in production")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	if c.DispatchRadiusKm <= 0 {
		return fmt.Errorf("DISPATCH_RADIUS_KM must be positive, got %v", c.DispatchRadiusKm)
	}
	if c.DispatchTopN <= 0 {
		return fmt.Errorf("DISPATCH_TOP_N must be positive, got %d", c.DispatchTopN)
	}

	switch c.UploadBackend {
	case "memory":
	case "cloudinary":
		if c.CloudinaryCloudName == "" || c.CloudinaryUploadPreset == "" {
			return fmt.Errorf("CLOUDINARY_CLOUD_NAME and CLOUDINARY_UPLOAD_PRESET are required for UPLOAD_BACKEND=cloudinary")
		}
	case "minio":
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required for UPLOAD_BACKEND=minio")
		}
	default:
		return fmt.Errorf("UPLOAD_BACKEND must be \"memory\", \"cloudinary\", or \"minio\", got %q", c.UploadBackend)
	}

	if _, err := time.LoadLocation(c.QueueTimezone); err != nil {
		return fmt.Errorf("QUEUE_TIMEZONE: %w", err)
	}

	return nil
}
