// Package config loads daemon settings.
//
// Precedence, highest first: command-line flags bound by the caller,
// MODERATION_* environment variables, the optional config file, defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"xdao.co/labeler/keys"
	"xdao.co/labeler/store"
)

const EnvPrefix = "MODERATION"

type Config struct {
	Host              string        `mapstructure:"host" yaml:"host"`
	Port              int           `mapstructure:"port" yaml:"port"`
	GRPCListen        string        `mapstructure:"grpc_listen" yaml:"grpc_listen"`
	AuthToken         string        `mapstructure:"auth_token" yaml:"auth_token"`
	DatabaseURL       string        `mapstructure:"database_url" yaml:"database_url"`
	LabelerDID        string        `mapstructure:"labeler_did" yaml:"labeler_did"`
	LabelerSigningKey string        `mapstructure:"labeler_signing_key" yaml:"labeler_signing_key"`
	SigningAlg        string        `mapstructure:"signing_alg" yaml:"signing_alg"`
	LabelValue        string        `mapstructure:"label_value" yaml:"label_value"`
	FeedBuffer        int           `mapstructure:"feed_buffer" yaml:"feed_buffer"`
	BackfillPage      int           `mapstructure:"backfill_page" yaml:"backfill_page"`
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl" yaml:"idempotency_ttl"`
	ArchiveDir        string        `mapstructure:"archive_dir" yaml:"archive_dir"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
}

var defaults = map[string]any{
	"host":                "0.0.0.0",
	"port":                8083,
	"grpc_listen":         "",
	"auth_token":          "",
	"database_url":        "",
	"labeler_did":         "",
	"labeler_signing_key": "",
	"signing_alg":         string(keys.Secp256k1),
	"label_value":         "copyright-violation",
	"feed_buffer":         1024,
	"backfill_page":       1000,
	"rate_limit_rps":      20.0,
	"rate_limit_burst":    40,
	"idempotency_ttl":     10 * time.Minute,
	"archive_dir":         "",
	"log_level":           "info",
	"log_format":          "text",
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (if non-empty) into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. Missing labeler settings are not an error:
// the daemon runs with the labeler disabled.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := keys.ParseAlgorithm(c.SigningAlg); err != nil {
		errs = append(errs, err)
	}
	if c.LabelValue == "" {
		errs = append(errs, errors.New("label_value must not be empty"))
	}
	if c.FeedBuffer <= 0 {
		errs = append(errs, errors.New("feed_buffer must be positive"))
	}
	if c.BackfillPage <= 0 {
		errs = append(errs, errors.New("backfill_page must be positive"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.IdempotencyTTL < 0 {
		errs = append(errs, errors.New("idempotency_ttl must not be negative"))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LabelerEnabled reports whether a store, an issuer and a key are all set.
func (c Config) LabelerEnabled() bool {
	return c.DatabaseURL != "" && c.LabelerDID != "" && c.LabelerSigningKey != ""
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Redacted hides secrets for display.
func (c Config) Redacted() Config {
	if c.LabelerSigningKey != "" {
		c.LabelerSigningKey = "***"
	}
	if c.AuthToken != "" {
		c.AuthToken = "***"
	}
	if c.DatabaseURL != "" {
		c.DatabaseURL = store.Redact(c.DatabaseURL)
	}
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
