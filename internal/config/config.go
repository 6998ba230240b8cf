// Package config loads runtime configuration from defaults, an optional YAML
// file, an optional .env file and the process environment (in that order of
// increasing precedence).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	S3        S3Config        `yaml:"s3"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	PII       PIIConfig       `yaml:"pii"`
	Contact   ContactConfig   `yaml:"contact"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	// PublicURL is used as the default redirect target for auth emails.
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	// AuditLog appends a JSON line per mutating request when set.
	AuditLog string `yaml:"audit_log" env:"SERVER_AUDIT_LOG"`
	// MaxUploadBytes caps multipart request bodies.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"SERVER_MAX_UPLOAD_BYTES"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// StoreConfig selects the persistence backend: memory, postgres or supabase.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool   `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url" env:"SUPABASE_URL"`
	AnonKey    string `yaml:"anon_key" env:"SUPABASE_ANON_KEY"`
	ServiceKey string `yaml:"service_key" env:"SUPABASE_SERVICE_KEY"`
	// JWTSecret verifies access tokens locally (HS256).
	JWTSecret  string `yaml:"jwt_secret" env:"SUPABASE_JWT_SECRET"`
	Resilience bool   `yaml:"resilience" env:"SUPABASE_RESILIENCE"`
}

// UploadsConfig controls image storage. Backend is supabase or s3.
type UploadsConfig struct {
	Backend          string `yaml:"backend" env:"UPLOADS_BACKEND"`
	Bucket           string `yaml:"bucket" env:"UPLOADS_BUCKET"`
	MaxImageBytes    int64  `yaml:"max_image_bytes" env:"UPLOADS_MAX_IMAGE_BYTES"`
	MaxRationCard    int64  `yaml:"max_ration_card_bytes" env:"UPLOADS_MAX_RATION_CARD_BYTES"`
	MaxImagesPerItem int    `yaml:"max_images_per_item" env:"UPLOADS_MAX_IMAGES"`
	CacheControl     string `yaml:"cache_control" env:"UPLOADS_CACHE_CONTROL"`
	Attempts         int    `yaml:"attempts" env:"UPLOADS_ATTEMPTS"`
}

type S3Config struct {
	Region         string `yaml:"region" env:"S3_REGION"`
	Endpoint       string `yaml:"endpoint" env:"S3_ENDPOINT"`
	PublicBaseURL  string `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL"`
	ForcePathStyle bool   `yaml:"force_path_style" env:"S3_FORCE_PATH_STYLE"`
}

type AuthConfig struct {
	// Optional paths reachable without a token even when a route asks for one.
	SkipPaths     string `yaml:"skip_paths" env:"AUTH_SKIP_PATHS"`
	OAuthProvider string `yaml:"oauth_provider" env:"AUTH_OAUTH_PROVIDER"`
}

type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

type RateLimitConfig struct {
	RequestsPerSecond int           `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	IdleTTL           time.Duration `yaml:"idle_ttl" env:"RATE_LIMIT_IDLE_TTL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
}

type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	Spec    string `yaml:"spec" env:"SCHEDULER_SPEC"`
	// PendingTTL declines matches left pending longer than this. Zero disables.
	PendingTTL time.Duration `yaml:"pending_ttl" env:"SCHEDULER_PENDING_TTL"`
}

type PIIConfig struct {
	Key string `yaml:"key" env:"PII_ENCRYPTION_KEY"`
}

type ContactConfig struct {
	AdminEmail string `yaml:"admin_email" env:"CONTACT_ADMIN_EMAIL"`
	Function   string `yaml:"function" env:"CONTACT_FUNCTION"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  64 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout", FilePrefix: "clothbridge"},
		Store:   StoreConfig{Driver: "memory"},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Supabase: SupabaseConfig{Resilience: true},
		Uploads: UploadsConfig{
			Backend:          "supabase",
			Bucket:           "sample",
			MaxImageBytes:    10 << 20,
			MaxRationCard:    2 << 20,
			MaxImagesPerItem: 10,
			CacheControl:     "3600",
			Attempts:         3,
		},
		S3:        S3Config{Region: "us-east-1"},
		Auth:      AuthConfig{OAuthProvider: "google"},
		CORS:      CORSConfig{AllowedOrigins: "*"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40, IdleTTL: 10 * time.Minute},
		Redis:     RedisConfig{Channel: "clothbridge:events"},
		Scheduler: SchedulerConfig{Enabled: true, Spec: "@every 5m"},
		Contact:   ContactConfig{AdminEmail: "admin@example.com", Function: "send-email"},
	}
}

// Load reads configuration. CONFIG_FILE points at an optional YAML file and
// ENV_FILE at an optional dotenv file (default .env).
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile applies defaults, then path (if set), then the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("store driver postgres requires DATABASE_URL")
		}
	case "supabase":
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return errors.New("store driver supabase requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Uploads.Backend {
	case "supabase", "s3":
	default:
		return fmt.Errorf("unknown uploads backend %q", c.Uploads.Backend)
	}
	if c.Uploads.Attempts <= 0 {
		return errors.New("uploads attempts must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// AllowedOrigins splits the CORS origin list.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORS.AllowedOrigins)
}

// AuthSkipPaths splits the auth skip list.
func (c *Config) AuthSkipPaths() []string {
	return splitList(c.Auth.SkipPaths)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
