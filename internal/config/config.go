// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const minSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the guard gRPC server listens on (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr is the host:port of the revocation cache.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWTAccessSecret signs access tokens. Must differ from JWTRefreshSecret.
	JWTAccessSecret string `mapstructure:"JWT_ACCESS_SECRET"`
	// JWTRefreshSecret signs refresh tokens.
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	JWTAudience      string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "336h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// SessionLifetime is the TTL of revocation cache entries. Defaults to the refresh TTL.
	SessionLifetime string `mapstructure:"SESSION_LIFETIME"`
	// BcryptCost is the bcrypt cost factor (8–31).
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// StoreTimeout bounds every Postgres and Redis call made on behalf of a request.
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// GuardCacheTimeout bounds the revocation cache lookup done by the auth guard.
	GuardCacheTimeout string `mapstructure:"GUARD_CACHE_TIMEOUT"`

	// TOTPIssuer is the issuer shown by authenticator apps.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`

	CookieSecure   bool   `mapstructure:"COOKIE_SECURE"`
	CookieSameSite string `mapstructure:"COOKIE_SAMESITE"`
	CookieDomain   string `mapstructure:"COOKIE_DOMAIN"`

	// AuthRateLimit is the number of register/login/forgot-password calls allowed per window and IP.
	AuthRateLimit  int    `mapstructure:"AUTH_RATE_LIMIT"`
	AuthRateWindow string `mapstructure:"AUTH_RATE_WINDOW"`

	// OTPReturnToClient when true keeps password reset codes in the dev OTP store, readable at GET /v1/dev/reset-otp.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// NotifyWebhookURL is the mailer endpoint that receives verification tokens and reset codes.
	// Empty logs deliveries instead.
	NotifyWebhookURL string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookKey string `mapstructure:"NOTIFY_WEBHOOK_KEY"`
	// FederationKey is the secret the OAuth proxy sends in X-Federation-Key to
	// POST /v1/users/federated. Empty disables federated login.
	FederationKey string `mapstructure:"FEDERATION_KEY"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// OTelEndpoint is the OTLP gRPC collector address; empty disables OTel export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of brokers for session events. Empty disables the producer.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SessionEventsTopic is the Kafka topic for session lifecycle events.
	SessionEventsTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`

	// Worker-only: Loki URL the session event worker pushes to.
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the session event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", "taskboard-auth")
	v.SetDefault("JWT_AUDIENCE", "taskboard-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "336h") // 14d
	v.SetDefault("SESSION_LIFETIME", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("GUARD_CACHE_TIMEOUT", "250ms")
	v.SetDefault("TOTP_ISSUER", "Taskboard")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_SAMESITE", "none")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("AUTH_RATE_LIMIT", 15)
	v.SetDefault("AUTH_RATE_WINDOW", "3m")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("NOTIFY_WEBHOOK_KEY", "")
	v.SetDefault("FEDERATION_KEY", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "taskboard-session-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "taskboard-session-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if len(cfg.JWTAccessSecret) < minSecretLen {
		return nil, errors.New("config: JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(cfg.JWTRefreshSecret) < minSecretLen {
		return nil, errors.New("config: JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return nil, errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if cfg.OTPReturnToClient && cfg.IsProduction() {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	if cfg.FederationKey != "" && len(cfg.FederationKey) < minSecretLen {
		return nil, errors.New("config: FEDERATION_KEY must be at least 32 characters")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 8 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 8 and 31")
	}
	if cfg.AuthRateLimit <= 0 {
		return nil, errors.New("config: AUTH_RATE_LIMIT must be positive")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 336h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 336*time.Hour)
}

// SessionTTL is the revocation cache TTL. Falls back to RefreshTTL so that an entry
// outlives every refresh token minted for its session.
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.SessionLifetime, c.RefreshTTL())
}

// StoreTimeoutDuration returns StoreTimeout, 3s if unset or invalid.
func (c *Config) StoreTimeoutDuration() time.Duration {
	return parseDuration(c.StoreTimeout, 3*time.Second)
}

// GuardCacheTimeoutDuration returns GuardCacheTimeout, 250ms if unset or invalid.
func (c *Config) GuardCacheTimeoutDuration() time.Duration {
	return parseDuration(c.GuardCacheTimeout, 250*time.Millisecond)
}

// AuthRateWindowDuration returns AuthRateWindow, 3m if unset or invalid.
func (c *Config) AuthRateWindowDuration() time.Duration {
	return parseDuration(c.AuthRateWindow, 3*time.Minute)
}

// SameSite maps CookieSameSite to http.SameSite. Unknown values map to Lax.
func (c *Config) SameSite() http.SameSite {
	switch strings.ToLower(strings.TrimSpace(c.CookieSameSite)) {
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteLaxMode
	}
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if session events are enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
