package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	MAPStrategy    string        `mapstructure:"MAP_STRATEGY"`
	KtVModel       string        `mapstructure:"KTV_MODEL"`
	TargetsFile    string        `mapstructure:"TARGETS_FILE"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`
	// MLLPAddr enables the HL7 lab-result listener, e.g. ":2575".
	MLLPAddr string `mapstructure:"MLLP_ADDR"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "REQUEST_TIMEOUT", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"MAP_STRATEGY", "KTV_MODEL", "TARGETS_FILE",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE", "MLLP_ADDR",
}

// Load reads configuration from the environment and an optional .env file.
// DATABASE_URL is not required here; commands that touch the database call
// RequireDatabase.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("MAP_STRATEGY", string(derived.DefaultMAPStrategy))
	v.SetDefault("KTV_MODEL", string(derived.DefaultKtVModel))

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// MAP returns the configured mean arterial pressure strategy.
func (c *Config) MAP() derived.MAPStrategy {
	s, err := derived.ParseMAPStrategy(c.MAPStrategy)
	if err != nil {
		return derived.DefaultMAPStrategy
	}
	return s
}

// KtV returns the configured Kt/V model.
func (c *Config) KtV() derived.KtVModel {
	m, err := derived.ParseKtVModel(c.KtVModel)
	if err != nil {
		return derived.DefaultKtVModel
	}
	return m
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier must be configured: an issuer, a JWKS URL, or a signing key.
func (c *Config) Validate() error {
	if _, err := derived.ParseMAPStrategy(c.MAPStrategy); err != nil {
		return fmt.Errorf("MAP_STRATEGY: %w", err)
	}
	if _, err := derived.ParseKtVModel(c.KtVModel); err != nil {
		return fmt.Errorf("KTV_MODEL: %w", err)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q; "+
				"refusing to start without authentication", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY alone is not accepted in production")
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
