package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. IDP_HTTP_PORT.
const EnvPrefix = "IDP"

// ServerConfig holds all configuration for the identity provider.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelEnabled     bool   `mapstructure:"OTEL_ENABLED"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Issuer is used when a client's tenant has no issuer of its own.
	Issuer string `mapstructure:"ISSUER"`
	// Audience is the resource identifier placed in access tokens.
	Audience      string `mapstructure:"AUDIENCE"`
	DefaultTenant string `mapstructure:"DEFAULT_TENANT"`

	CodeTTL       time.Duration `mapstructure:"CODE_TTL"`
	CodeRetention time.Duration `mapstructure:"CODE_RETENTION"`
	IDTokenTTL    time.Duration `mapstructure:"ID_TOKEN_TTL"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	KeyRotation   time.Duration `mapstructure:"KEY_ROTATION"` // 0 disables rotation
	KeyGrace      time.Duration `mapstructure:"KEY_GRACE"`

	// RateLimitRPS throttles /login and /token per client IP; 0 disables.
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	SeedDemoData bool `mapstructure:"SEED_DEMO_DATA"`
	BcryptCost   int  `mapstructure:"BCRYPT_COST"`
}

// Validate rejects configurations the flows cannot run with.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Issuer == "" {
		errs = append(errs, errors.New("ISSUER is required"))
	}
	if c.Audience == "" {
		errs = append(errs, errors.New("AUDIENCE is required"))
	}
	if c.CodeTTL <= 0 {
		errs = append(errs, errors.New("CODE_TTL must be positive"))
	}
	if c.IDTokenTTL <= 0 {
		errs = append(errs, errors.New("ID_TOKEN_TTL must be positive"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	if c.KeyRotation < 0 {
		errs = append(errs, errors.New("KEY_ROTATION must not be negative"))
	}
	return errors.Join(errs...)
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "shadow-idp")
	v.SetDefault("ISSUER", "https://localhost:44300")
	v.SetDefault("AUDIENCE", "api")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CODE_TTL", "60s")
	v.SetDefault("CODE_RETENTION", "10m")
	v.SetDefault("ID_TOKEN_TTL", "5m")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("KEY_ROTATION", "0s")
	v.SetDefault("KEY_GRACE", "24h")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("SEED_DEMO_DATA", true)
	v.SetDefault("BCRYPT_COST", 0)
}

// LoadConfig reads configuration from file, environment variables, and defaults.
// cfgFile, when set, is read instead of searching the default paths.
func LoadConfig(cfgFile string) (*ServerConfig, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/shadow-idp/")
		v.AddConfigPath("$HOME/.shadow-idp")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file means defaults and env vars only.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
