// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

// Package config loads service configuration from an optional YAML file,
// command-line flags, and environment overrides, in that order of
// precedence (flags win over file, environment wins over both for the
// secret-bearing values).
package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Environments. The toggle only affects the signing-secret fallback; every
// other behavior is identical across environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DevFallbackSecret is the insecure signing secret used when no secret is
// configured outside production. The value is deliberately recognizable so
// any token signed with it is visibly a development artifact.
const DevFallbackSecret = "dev-secret-change-me"

// ErrMissingAuthSecret is the distinct configuration error for a missing
// signing secret in production. Callers surface it as
// server_missing_auth_secret rather than a generic failure.
var ErrMissingAuthSecret = oops.Code("CONFIG_MISSING_AUTH_SECRET").
	Errorf("auth signing secret is required outside development")

// Config is the full service configuration.
type Config struct {
	Environment string `koanf:"environment"`
	ListenAddr  string `koanf:"listen-addr"`
	MetricsAddr string `koanf:"metrics-addr"`
	DatabaseURL string `koanf:"database-url"`
	LogFormat   string `koanf:"log-format"`

	AuthSecret        string        `koanf:"auth-secret"`
	TokenTTL          time.Duration `koanf:"token-ttl"`
	BootstrapUsername string        `koanf:"bootstrap-username"`
	BootstrapPassword string        `koanf:"bootstrap-password"`

	ProviderURL        string        `koanf:"provider-url"`
	ProviderServiceKey string        `koanf:"provider-service-key"`
	ProviderTimeout    time.Duration `koanf:"provider-timeout"`
}

// Default values for everything an operator may leave unset.
func defaults() Config {
	return Config{
		Environment:       EnvDevelopment,
		ListenAddr:        ":8080",
		MetricsAddr:       "127.0.0.1:9100",
		LogFormat:         "json",
		TokenTTL:          8 * time.Hour,
		BootstrapUsername: "manager",
		BootstrapPassword: "manager123",
		ProviderTimeout:   10 * time.Second,
	}
}

// Load builds the configuration from an optional YAML file and the given
// flag set. Flag names double as file keys (flat, dash-delimited). The
// secret-bearing values additionally honor environment variables so they
// can stay out of files and process listings.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// Defaults go in first so every key exists before the other providers
	// load. posflag only skips flags the user never set when the key is
	// already present; without the seed, unset empty flags would overwrite
	// file values and defaults alike.
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, oops.Code("CONFIG_DEFAULTS_FAILED").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides pulls the secret-bearing values from the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PREPLINE_AUTH_SECRET"); v != "" {
		cfg.AuthSecret = v
	}
	if v := os.Getenv("PREPLINE_BOOTSTRAP_USERNAME"); v != "" {
		cfg.BootstrapUsername = v
	}
	if v := os.Getenv("PREPLINE_BOOTSTRAP_PASSWORD"); v != "" {
		cfg.BootstrapPassword = v
	}
	if v := os.Getenv("PREPLINE_PROVIDER_URL"); v != "" {
		cfg.ProviderURL = v
	}
	if v := os.Getenv("PREPLINE_PROVIDER_SERVICE_KEY"); v != "" {
		cfg.ProviderServiceKey = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return oops.Code("CONFIG_INVALID").
			Errorf("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen-addr is required")
	}
	if c.TokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token-ttl must be positive")
	}
	return nil
}

// IsDevelopment reports whether the dev-only conveniences are enabled.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// ProviderConfigured reports whether an external identity provider has been
// configured.
func (c *Config) ProviderConfigured() bool {
	return strings.TrimSpace(c.ProviderURL) != "" && strings.TrimSpace(c.ProviderServiceKey) != ""
}

// ResolveAuthSecret returns the token signing secret. An operator-supplied
// secret always wins. Without one, development gets the visible fallback
// (logged loudly every time it is handed out); production gets
// ErrMissingAuthSecret.
func (c *Config) ResolveAuthSecret() (string, error) {
	if secret := strings.TrimSpace(c.AuthSecret); secret != "" {
		return secret, nil
	}
	if c.IsDevelopment() {
		slog.Warn("no auth secret configured, using insecure development fallback",
			"fallback", DevFallbackSecret)
		return DevFallbackSecret, nil
	}
	return "", ErrMissingAuthSecret
}
