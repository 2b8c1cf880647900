package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// WebSocket configuration
	WebSocket WebSocketConfig

	// Logging configuration
	Logging LoggingConfig

	// Application metadata
	App AppConfig

	// Notification delivery and liveness
	Notification NotificationConfig

	// Push notification provider
	Push PushConfig

	// Schema migrations
	Migrations MigrationsConfig

	// Cross-origin REST access
	CORS CORSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	UpgradeRPS        float64 // Stricter limit for the websocket handshake
	UpgradeBurst      int
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

// NotificationConfig holds dispatcher and reaper settings
type NotificationConfig struct {
	ReaperInterval    time.Duration
	ConnectionTimeout time.Duration
	CatchUpLimit      int
	PersistTimeout    time.Duration // 0 disables the deadline
}

// PushConfig holds push provider settings. An empty CredentialsFile logs
// pushes instead of sending them.
type PushConfig struct {
	CredentialsFile string
	TopicPrefix     string
	Timeout         time.Duration
	MaxRetries      uint64
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// CORSConfig holds the browser origins allowed to call the REST API.
// Entries include the scheme, e.g. "https://app.example.com".
type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         int
}

// MigrationsConfig holds golang-migrate settings
type MigrationsConfig struct {
	Path    string
	OnStart bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := FromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv builds the configuration from the process environment without
// validating it.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", ":8080"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getIntOrDefault("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationOrDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			Issuer:         getEnvOrDefault("JWT_ISSUER", "salon-notifications"),
			AccessTokenTTL: getDurationOrDefault("JWT_ACCESS_TOKEN_TTL", 12*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getBoolOrDefault("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getFloatOrDefault("RATE_LIMIT_RPS", 10),
			BurstSize:         getIntOrDefault("RATE_LIMIT_BURST", 20),
			UpgradeRPS:        getFloatOrDefault("RATE_LIMIT_WS_RPS", 1),
			UpgradeBurst:      getIntOrDefault("RATE_LIMIT_WS_BURST", 5),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:  getStringSliceOrDefault("WS_ALLOWED_ORIGINS", []string{}),
			ReadBufferSize:  getIntOrDefault("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getIntOrDefault("WS_WRITE_BUFFER_SIZE", 1024),
			PingInterval:    getDurationOrDefault("WS_PING_INTERVAL", 54*time.Second),
			PongWait:        getDurationOrDefault("WS_PONG_WAIT", 60*time.Second),
			MaxMessageSize:  int64(getIntOrDefault("WS_MAX_MESSAGE_SIZE", 4096)),
			SendBufferSize:  getIntOrDefault("WS_SEND_BUFFER_SIZE", 256),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Name:        getEnvOrDefault("APP_NAME", "salon-notifications"),
			Version:     getEnvOrDefault("APP_VERSION", "dev"),
			Environment: getEnvOrDefault("APP_ENV", "development"),
		},
		Notification: NotificationConfig{
			ReaperInterval:    getDurationOrDefault("REAPER_INTERVAL", 30*time.Second),
			ConnectionTimeout: getDurationOrDefault("CONNECTION_TIMEOUT", 5*time.Minute),
			CatchUpLimit:      getIntOrDefault("CATCH_UP_LIMIT", 50),
			PersistTimeout:    getDurationOrDefault("NOTIFY_PERSIST_TIMEOUT", 0),
		},
		Push: PushConfig{
			CredentialsFile: os.Getenv("FCM_CREDENTIALS_FILE"),
			TopicPrefix:     getEnvOrDefault("PUSH_TOPIC_PREFIX", "tenant_"),
			Timeout:         getDurationOrDefault("PUSH_TIMEOUT", 10*time.Second),
			MaxRetries:      uint64(getIntOrDefault("PUSH_MAX_RETRIES", 3)),
			InitialBackoff:  getDurationOrDefault("PUSH_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:      getDurationOrDefault("PUSH_MAX_BACKOFF", 5*time.Second),
		},
		Migrations: MigrationsConfig{
			Path:    getEnvOrDefault("MIGRATIONS_PATH", "file://migrations"),
			OnStart: getBoolOrDefault("MIGRATE_ON_START", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", []string{}),
			MaxAge:         getIntOrDefault("CORS_MAX_AGE", 300),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	// Required fields
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}

	// Security validations
	if c.App.Environment == "production" {
		if len(c.JWT.Secret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
		}

		if len(c.WebSocket.AllowedOrigins) == 0 {
			errs = append(errs, "WS_ALLOWED_ORIGINS must be set in production")
		}
	}

	// Logical validations
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, "DB_MAX_IDLE_CONNS cannot be greater than DB_MAX_OPEN_CONNS")
	}

	if c.Notification.ReaperInterval <= 0 {
		errs = append(errs, "REAPER_INTERVAL must be positive")
	}

	if c.Notification.ConnectionTimeout <= 0 {
		errs = append(errs, "CONNECTION_TIMEOUT must be positive")
	}

	if c.Notification.ReaperInterval > c.Notification.ConnectionTimeout {
		errs = append(errs, "REAPER_INTERVAL cannot be greater than CONNECTION_TIMEOUT")
	}

	if c.Notification.CatchUpLimit < 1 || c.Notification.CatchUpLimit > 500 {
		errs = append(errs, "CATCH_UP_LIMIT must be between 1 and 500")
	}

	if c.Notification.PersistTimeout < 0 {
		errs = append(errs, "NOTIFY_PERSIST_TIMEOUT cannot be negative")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, "WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// String returns a redacted string representation of the config (safe for logging)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s, DB: %s, JWT: [REDACTED], RateLimit: %v, Push: %v, Environment: %s}",
		c.Server.Port,
		redactURL(c.Database.URL),
		c.RateLimit.Enabled,
		c.Push.CredentialsFile != "",
		c.App.Environment,
	)
}

// redactURL redacts sensitive parts of a database URL
func redactURL(url string) string {
	if url == "" {
		return ""
	}
	// Very basic redaction - in production you'd want something more robust
	if idx := strings.Index(url, "@"); idx > 0 {
		return "[REDACTED]" + url[idx:]
	}
	return "[REDACTED]"
}
