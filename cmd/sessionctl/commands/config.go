package commands

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/sessionclient"
)

// Config holds sessionctl settings. Every field can be set through a
// SESSIONCTL_ prefixed environment variable and overridden by a flag.
type Config struct {
	APIURL      string        `env:"API_URL" envDefault:"http://localhost:8006"`
	SessionFile string        `env:"SESSION_FILE"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"warn"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"15s"`

	// Password is read when --password is not given.
	Password string `env:"PASSWORD"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	AuditGroup   string   `env:"AUDIT_GROUP" envDefault:"sessionctl"`

	// The breaker opens once BreakerMinRequests calls were made and at least
	// BreakerFailureRatio of them failed.
	BreakerEnabled      bool          `env:"BREAKER_ENABLED" envDefault:"true"`
	BreakerMinRequests  uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"5"`
	BreakerFailureRatio float64       `env:"BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerTimeout      time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`
}

// Validate checks the API URL and the timeout.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api url %q must be absolute", c.APIURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.BreakerEnabled && (c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1) {
		return fmt.Errorf("breaker failure ratio %v must be in (0, 1]", c.BreakerFailureRatio)
	}
	return nil
}

// clientConfig builds the session client settings for the API.
func (c *Config) clientConfig() sessionclient.Config {
	cfg := sessionclient.DefaultConfig(c.APIURL)
	if c.BreakerEnabled {
		cb := httpclient.DefaultCircuitBreakerConfig("sessionctl")
		cb.MinRequests = c.BreakerMinRequests
		cb.FailureRatio = c.BreakerFailureRatio
		if c.BreakerTimeout > 0 {
			cb.Timeout = c.BreakerTimeout
		}
		cfg.CircuitBreaker = &cb
	}
	return cfg
}

// sessionPath returns the configured session file, defaulting to
// ~/.sessionctl/session.json.
func (c *Config) sessionPath() (string, error) {
	if c.SessionFile != "" {
		return c.SessionFile, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(dir, ".sessionctl", "session.json"), nil
}
