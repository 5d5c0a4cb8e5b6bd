package config

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
	"github.com/utafrali/storefront/pkg/database"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/tracing"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all configuration for the user service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"USER_HTTP_PORT" envDefault:"8006"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Storage
	StorageDriver      string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	SlowQueryThreshold time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
	Postgres           database.PostgresConfig

	// Profile cache
	ProfileCacheEnabled bool          `env:"PROFILE_CACHE_ENABLED" envDefault:"false"`
	ProfileCacheTTL     time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`
	Redis               database.RedisConfig

	// Kafka
	KafkaEnabled bool `env:"KAFKA_ENABLED" envDefault:"false"`
	Kafka        pkgkafka.ProducerConfig

	// JWT
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	// Refresh credentials
	RefreshHashCost       int    `env:"REFRESH_HASH_COST" envDefault:"10"`
	RefreshCookieSameSite string `env:"REFRESH_COOKIE_SAMESITE" envDefault:"strict"`

	// Login, register and refresh throttling per client IP
	AuthRateLimitRPS   float64 `env:"AUTH_RATE_LIMIT_RPS" envDefault:"5"`
	AuthRateLimitBurst int     `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// Profiling
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	Tracing tracing.Config
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "user-service"
	}
	return cfg, nil
}

// Validate checks cross-field rules after parsing.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.StorageDriver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StoragePostgres, StorageMemory, c.StorageDriver)
	}

	if _, err := c.SameSite(); err != nil {
		return err
	}

	if c.JWTAccessExpiry <= 0 || c.JWTRefreshExpiry <= 0 {
		return errors.New("token expiries must be positive")
	}
	if c.JWTRefreshExpiry <= c.JWTAccessExpiry {
		return errors.New("JWT_REFRESH_TOKEN_EXPIRY must exceed JWT_ACCESS_TOKEN_EXPIRY")
	}

	if c.RefreshHashCost < bcrypt.MinCost || c.RefreshHashCost > bcrypt.MaxCost {
		return fmt.Errorf("REFRESH_HASH_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if !c.IsDevelopment() {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
		if c.StorageDriver == StorageMemory {
			return fmt.Errorf("STORAGE_DRIVER %q is only allowed in development", StorageMemory)
		}
	}

	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// SameSite returns the refresh cookie SameSite mode.
func (c *Config) SameSite() (http.SameSite, error) {
	switch c.RefreshCookieSameSite {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	default:
		return http.SameSiteDefaultMode, fmt.Errorf("REFRESH_COOKIE_SAMESITE must be lax or strict, got %q", c.RefreshCookieSameSite)
	}
}

// SecureCookies reports whether the refresh cookie carries the Secure flag.
// Local development runs over plain HTTP.
func (c *Config) SecureCookies() bool {
	return !c.IsDevelopment()
}
