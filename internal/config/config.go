// Package config handles loading and validating configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store kinds accepted by METER_STORE.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds all configuration for the Meter service.
type Config struct {
	// Server
	Port      string
	LogLevel  string
	DebugMode bool

	AllowedOrigins []string

	// Ledger store
	Store      string // postgres | sqlite
	SQLitePath string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Auth
	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	// Rate limiting (per principal, fixed window)
	RateLimitMax    int64
	RateLimitWindow time.Duration

	// AnalyticsCacheTTL of zero disables result caching.
	AnalyticsCacheTTL time.Duration

	// DefaultPricingFile overrides the embedded default price table.
	DefaultPricingFile string

	// Tracing
	OTELExporter string // none | stdout | otlp
	OTELEndpoint string
}

// Load reads configuration from the environment, after merging a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("METER_PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		DebugMode: getEnv("DEBUG_MODE", "false") == "true" || os.Getenv("DEBUG_MODE") == "1",

		Store:      strings.ToLower(getEnv("METER_STORE", StorePostgres)),
		SQLitePath: getEnv("SQLITE_PATH", "meter.db"),

		DBHost:     getEnv("POSTGRES_HOST", "localhost"),
		DBName:     getEnv("POSTGRES_DB", "meter"),
		DBUser:     getEnv("POSTGRES_USER", "meter"),
		DBPassword: getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: getEnv("JWT_ISSUER", "meter"),

		DefaultPricingFile: os.Getenv("METER_DEFAULT_PRICING_FILE"),

		OTELExporter: strings.ToLower(getEnv("OTEL_EXPORTER", "none")),
		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	origins := strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	var err error
	if cfg.DBPort, err = strconv.Atoi(getEnv("POSTGRES_PORT", "5432")); err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}
	if cfg.RedisPort, err = strconv.Atoi(getEnv("REDIS_PORT", "6379")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	if cfg.RateLimitMax, err = strconv.ParseInt(getEnv("RATE_LIMIT_MAX", "600"), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_MAX: %w", err)
	}
	if cfg.RateLimitWindow, err = time.ParseDuration(getEnv("RATE_LIMIT_WINDOW", "1m")); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}
	if cfg.JWTTTL, err = time.ParseDuration(getEnv("JWT_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	if cfg.AnalyticsCacheTTL, err = time.ParseDuration(getEnv("ANALYTICS_CACHE_TTL", "0s")); err != nil {
		return nil, fmt.Errorf("invalid ANALYTICS_CACHE_TTL: %w", err)
	}

	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	switch c.Store {
	case StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown METER_STORE %q", c.Store)
	}
	switch c.OTELExporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("config: unknown OTEL_EXPORTER %q", c.OTELExporter)
	}
	return nil
}

// DSN returns the PostgreSQL connection string. Credentials are escaped.
func (c *Config) DSN() string {
	return c.dsnURL().String()
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return c.dsnURL().Redacted()
}

func (c *Config) dsnURL() *url.URL {
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
