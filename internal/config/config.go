package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment
// variables. Unknown environment variables are ignored (forward
// compatibility); Load fails only when a required value is missing.
type Config struct {
	// Mode selects the runtime mode: "api" or "worker".
	Mode string `env:"CONTROLPLANE_MODE" envDefault:"api"`

	// Server
	Host string `env:"CONTROLPLANE_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"CONTROLPLANE_PORT" envDefault:"8080"`

	// Persistence endpoint. Required: the process exits with code 2 if it
	// cannot be reached at startup, code 1 if it is entirely unset.
	DatabaseURL string `env:"DATABASE_URL"`

	// Cache / rate-limit backend. Optional: empty disables the Redis
	// mirror and falls back to the in-process cache/limiter only.
	RedisURL string `env:"REDIS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations/global"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Session token signing secret. Required: used as an HMAC pepper over
	// opaque session tokens before they are hashed for storage, and to
	// generate reseller API credential material.
	SessionSecret string `env:"SESSION_SECRET"`
	SessionMaxAge string `env:"SESSION_MAX_AGE" envDefault:"24h"`

	// Model provider credentials. Opaque to the control plane: handed
	// verbatim to whatever Provider implementation a deployment plugs in
	// (spec: external model SDKs are a pluggable capability, §1).
	ModelProviderCredentials string `env:"MODEL_PROVIDER_CREDENTIALS"`

	// Environment gates how much error detail is exposed in responses
	// (spec §6): "development" includes full detail, anything else does not.
	Environment string `env:"ENVIRONMENT" envDefault:"production"`

	// Optional enterprise SSO (OIDC). Disabled unless issuer, client id, and
	// client secret are all set, and a Redis backend is configured to hold
	// the authorization-flow state.
	OIDCIssuerURL           string `env:"OIDC_ISSUER_URL"`
	OIDCClientID            string `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret        string `env:"OIDC_CLIENT_SECRET"`
	OIDCCallbackURL         string `env:"OIDC_CALLBACK_URL"`
	OIDCFrontendRedirectURL string `env:"OIDC_FRONTEND_REDIRECT_URL"`
}

// requiredFields lists which fields must be non-empty after Load.
var requiredFields = map[string]func(*Config) string{
	"DATABASE_URL":   func(c *Config) string { return c.DatabaseURL },
	"SESSION_SECRET": func(c *Config) string { return c.SessionSecret },
}

// Load reads configuration from environment variables and validates that
// all required values are present.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}

	for name, get := range requiredFields {
		if get(cfg) == "" {
			return nil, fmt.Errorf("missing required environment variable %s", name)
		}
	}

	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment reports whether error responses should include full detail.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
