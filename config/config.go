/*
Package config loads server configuration from the environment.

PURPOSE:
  One typed Config for the server. Values come from, in order of
  precedence: command-line flags (applied by cmd/server), environment
  variables, a .env file in the working directory, and the defaults
  declared on the struct tags below.

VARIABLES:
  FULFILLMENT_PORT              HTTP port (8080)
  FULFILLMENT_DRIVER            memory | sqlite | postgres (sqlite)
  FULFILLMENT_DB_PATH           SQLite path, ":memory:" allowed (fulfillment.db)
  FULFILLMENT_POSTGRES_DSN      required when the driver is postgres
  FULFILLMENT_CONFIRM_SECRET    HMAC key for confirmation tokens
  FULFILLMENT_CONFIRM_TTL       token lifetime (5m)
  FULFILLMENT_REFERRAL_PERCENT  commission on referred orders (5)
  FULFILLMENT_RESPONSE_WINDOW   how long an offer waits for a response (15m)
  FULFILLMENT_SWEEP_INTERVAL    how often expired offers are released, 0 disables (1m)
  FULFILLMENT_RATE_LIMIT        ulule/limiter rate, e.g. "300-M" (300-M)
  FULFILLMENT_RETRY_MAX_TRIES   attempts for store errors (4)
  FULFILLMENT_ALLOWED_ORIGINS   CORS origins, comma separated

SEE ALSO:
  - cmd/server/main.go: Flag overrides and wiring
*/
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/ulule/limiter/v3"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port        int    `env:"FULFILLMENT_PORT"         envDefault:"8080"`
	Driver      string `env:"FULFILLMENT_DRIVER"       envDefault:"sqlite"`
	DBPath      string `env:"FULFILLMENT_DB_PATH"      envDefault:"fulfillment.db"`
	PostgresDSN string `env:"FULFILLMENT_POSTGRES_DSN"`

	ConfirmSecret string        `env:"FULFILLMENT_CONFIRM_SECRET"`
	ConfirmTTL    time.Duration `env:"FULFILLMENT_CONFIRM_TTL"    envDefault:"5m"`

	ReferralPercent decimal.Decimal `env:"FULFILLMENT_REFERRAL_PERCENT" envDefault:"5"`
	ResponseWindow  time.Duration   `env:"FULFILLMENT_RESPONSE_WINDOW"  envDefault:"15m"`
	SweepInterval   time.Duration   `env:"FULFILLMENT_SWEEP_INTERVAL"   envDefault:"1m"`

	RateLimit      string   `env:"FULFILLMENT_RATE_LIMIT"      envDefault:"300-M"`
	RetryMaxTries  uint     `env:"FULFILLMENT_RETRY_MAX_TRIES" envDefault:"4"`
	AllowedOrigins []string `env:"FULFILLMENT_ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://localhost:8080" envSeparator:","`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.finish()
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.finish()
}

func (c Config) finish() (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	if c.ConfirmSecret == "" {
		secret, err := ephemeralSecret()
		if err != nil {
			return Config{}, err
		}
		log.Println("FULFILLMENT_CONFIRM_SECRET not set, confirmation tokens will not survive a restart")
		c.ConfirmSecret = secret
	}
	return c, nil
}

// Validate checks values that have no safe default.
func (c Config) Validate() error {
	var errs []error
	switch c.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("FULFILLMENT_POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.ReferralPercent.IsNegative() || c.ReferralPercent.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, fmt.Errorf("referral percent %s outside [0, 100]", c.ReferralPercent))
	}
	if c.ResponseWindow <= 0 {
		errs = append(errs, errors.New("response window must be positive"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("sweep interval must not be negative"))
	}
	if c.ConfirmTTL <= 0 {
		errs = append(errs, errors.New("confirmation TTL must be positive"))
	}
	if c.RetryMaxTries == 0 {
		errs = append(errs, errors.New("retry max tries must be at least 1"))
	}
	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			errs = append(errs, fmt.Errorf("rate limit %q: %w", c.RateLimit, err))
		}
	}
	return errors.Join(errs...)
}

func ephemeralSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate confirmation secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
