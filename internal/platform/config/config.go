package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds all configuration for the gateway, read once at startup.
type Config struct {
	GatewayAddr string `env:"GATEWAY_ADDR,default=:8080"`
	BackendURL  string `env:"BACKEND_URL,default=http://localhost:8082"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	Auth      AuthConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig

	LookupTimeout  time.Duration `env:"LOOKUP_TIMEOUT,default=2s"`
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT,default=30s"`
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES,default=1048576"`
}

// AuthConfig selects the verification key source. A JWKS endpoint takes
// precedence over the static modulus and exponent.
type AuthConfig struct {
	RSAModulus   string        `env:"AUTH_RSA_MODULUS"`
	RSAExponent  string        `env:"AUTH_RSA_EXPONENT,default=AQAB"`
	JWKSEndpoint string        `env:"AUTH_JWKS_ENDPOINT"`
	JWKSRefresh  time.Duration `env:"AUTH_JWKS_MIN_REFRESH,default=1m"`
	Issuer       string        `env:"AUTH_ISSUER"`
	Leeway       time.Duration `env:"AUTH_LEEWAY,default=30s"`
}

// UseJWKS reports whether keys come from a JWKS endpoint.
func (a AuthConfig) UseJWKS() bool {
	return a.JWKSEndpoint != ""
}

// DatabaseConfig configures the identity store. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL         string        `env:"DATABASE_URL"`
	MaxConns    int32         `env:"DB_MAX_CONNS,default=10"`
	MinConns    int32         `env:"DB_MIN_CONNS,default=2"`
	MaxConnIdle time.Duration `env:"DB_MAX_CONN_IDLE,default=5m"`
}

// RateLimitConfig holds token bucket parameters for per-IP rate limiting.
type RateLimitConfig struct {
	Rate  float64 `env:"RATE_LIMIT_RATE,default=100"`
	Burst int     `env:"RATE_LIMIT_BURST,default=20"`
}

// Load reads configuration from environment variables, falling back to
// defaults, and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decoding environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values envdecode cannot check by type alone.
func (c Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL %q must be an absolute URL", c.BackendURL))
	}
	if c.Auth.UseJWKS() {
		if u, err := url.Parse(c.Auth.JWKSEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("AUTH_JWKS_ENDPOINT %q must be an absolute URL", c.Auth.JWKSEndpoint))
		}
	} else if c.Auth.RSAModulus == "" {
		errs = append(errs, errors.New("one of AUTH_RSA_MODULUS or AUTH_JWKS_ENDPOINT is required"))
	}
	if c.Auth.Leeway < 0 {
		errs = append(errs, errors.New("AUTH_LEEWAY must not be negative"))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns))
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_RATE must be positive and RATE_LIMIT_BURST at least 1"))
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, errors.New("LOOKUP_TIMEOUT must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
}
