package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names.
const (
	EnvPrefix     = "INSTALLMATCH_"
	EnvConfigFile = EnvPrefix + "CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if INSTALLMATCH_CONFIG is set
//  3. env (prefix INSTALLMATCH_, "__" separates nested keys)
func Load(_ context.Context) (*Config, error) {
	cfg := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// INSTALLMATCH_STORAGE__POSTGRES_DSN -> storage.postgres_dsn
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		if s == EnvConfigFile {
			return ""
		}
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	resetSuppliedTables(k, cfg)

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resetSuppliedTables drops the default tier levels, urgency rules and quote
// multipliers that the loaded layers supply. A supplied table replaces the
// default one as a whole; otherwise mapstructure would decode it over the
// defaults and leave omitted fields from unrelated entries.
func resetSuppliedTables(k *koanf.Koanf, cfg *Config) {
	if k.Exists("tiers.levels") {
		cfg.Tiers.Levels = nil
	}
	if k.Exists("pricing.rules") {
		cfg.Pricing.Rules = nil
	}
	if k.Exists("pricing.quote.quality") {
		cfg.Pricing.Quote.Quality = nil
	}
	if k.Exists("pricing.quote.complexity") {
		cfg.Pricing.Quote.Complexity = nil
	}
}
