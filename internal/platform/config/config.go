// Package config loads application configuration from env and an optional
// .env file using Viper.
package config

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds configuration shared by the gateway and core service binaries.
type Config struct {
	// Addr is the address the main HTTP listener binds to.
	Addr string `mapstructure:"HUDDLE_ADDR"`
	// AdminAddr serves /healthz and /metrics separately from user traffic.
	AdminAddr string `mapstructure:"HUDDLE_ADMIN_ADDR"`
	// Environment tags logs and health output (development, production).
	Environment string `mapstructure:"HUDDLE_ENV"`

	// UpstreamURL is the gateway's forwarding target (core service base URL).
	UpstreamURL string `mapstructure:"HUDDLE_UPSTREAM_URL"`

	// TokenPrivateKey is PEM-encoded (RSA, EC, or Ed25519), inline or a file
	// path. Only the auth issuer needs it; verify-only deployments leave it
	// empty and set TokenPublicKey.
	TokenPrivateKey string `mapstructure:"HUDDLE_TOKEN_PRIVATE_KEY"`
	// TokenPublicKey is the PEM-encoded verification key, inline or a file path.
	TokenPublicKey string `mapstructure:"HUDDLE_TOKEN_PUBLIC_KEY"`
	// TokenIssuer is the iss claim on minted access tokens.
	TokenIssuer string `mapstructure:"HUDDLE_TOKEN_ISSUER"`
	// TokenAudience is the aud claim, validated on verify.
	TokenAudience string `mapstructure:"HUDDLE_TOKEN_AUDIENCE"`
	// TokenTTL is the access token lifetime.
	TokenTTL time.Duration `mapstructure:"HUDDLE_TOKEN_TTL"`

	// SessionTTL bounds a session's life in the store; refreshed on rotation.
	SessionTTL time.Duration `mapstructure:"HUDDLE_SESSION_TTL"`
	// RefreshTTL is the refresh credential (and cookie) lifetime.
	RefreshTTL time.Duration `mapstructure:"HUDDLE_REFRESH_TTL"`

	// RedisURL points at the shared session cache (redis:// URL).
	RedisURL string `mapstructure:"HUDDLE_REDIS_URL"`

	// KafkaBrokers is a comma-separated broker list; empty disables the
	// messaging channel and events are dropped with a log line.
	KafkaBrokers string `mapstructure:"HUDDLE_KAFKA_BROKERS"`
	// ActivityTopic receives domain events for the activity/notification consumers.
	ActivityTopic string `mapstructure:"HUDDLE_ACTIVITY_TOPIC"`

	// InternalSecret authorizes service-to-service calls under /internal/.
	InternalSecret string `mapstructure:"HUDDLE_INTERNAL_SECRET"`

	// GoogleClientID pins the audience of federated Google ID tokens.
	GoogleClientID string `mapstructure:"HUDDLE_GOOGLE_CLIENT_ID"`

	// UsersFile points at a JSON fixture seeding the in-memory user store.
	UsersFile string `mapstructure:"HUDDLE_USERS_FILE"`

	// Refresh cookie attributes.
	CookieDomain   string `mapstructure:"HUDDLE_COOKIE_DOMAIN"`
	CookieSameSite string `mapstructure:"HUDDLE_COOKIE_SAMESITE"`
	CookieSecure   bool   `mapstructure:"HUDDLE_COOKIE_SECURE"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Missing .env is ignored (e.g. in CI); env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HUDDLE_ADDR", ":8080")
	v.SetDefault("HUDDLE_ADMIN_ADDR", ":9090")
	v.SetDefault("HUDDLE_ENV", "development")
	v.SetDefault("HUDDLE_UPSTREAM_URL", "http://localhost:8081")
	v.SetDefault("HUDDLE_TOKEN_ISSUER", "huddle-auth")
	v.SetDefault("HUDDLE_TOKEN_AUDIENCE", "huddle-api")
	v.SetDefault("HUDDLE_TOKEN_TTL", "30m")
	v.SetDefault("HUDDLE_SESSION_TTL", (7 * 24 * time.Hour).String())
	v.SetDefault("HUDDLE_REFRESH_TTL", (30 * 24 * time.Hour).String())
	v.SetDefault("HUDDLE_TOKEN_PRIVATE_KEY", "")
	v.SetDefault("HUDDLE_TOKEN_PUBLIC_KEY", "")
	v.SetDefault("HUDDLE_REDIS_URL", "")
	v.SetDefault("HUDDLE_KAFKA_BROKERS", "")
	v.SetDefault("HUDDLE_ACTIVITY_TOPIC", "huddle.activity")
	v.SetDefault("HUDDLE_INTERNAL_SECRET", "")
	v.SetDefault("HUDDLE_GOOGLE_CLIENT_ID", "")
	v.SetDefault("HUDDLE_USERS_FILE", "")
	v.SetDefault("HUDDLE_COOKIE_DOMAIN", "")
	v.SetDefault("HUDDLE_COOKIE_SAMESITE", "lax")
	v.SetDefault("HUDDLE_COOKIE_SECURE", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SameSite maps the configured cookie policy onto http's enum. Unrecognized
// values fall back to Lax.
func (c *Config) SameSite() http.SameSite {
	switch strings.ToLower(c.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c *Config) validate() error {
	if c.TokenTTL <= 0 {
		return errors.New("config: token TTL must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: session TTL must be positive")
	}
	if c.RefreshTTL < c.SessionTTL {
		return errors.New("config: refresh TTL must not be shorter than session TTL")
	}
	return nil
}
