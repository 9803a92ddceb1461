package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if CREDRANK_CONFIG is set
//  3. env (prefix CREDRANK_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("CREDRANK_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: CREDRANK_ADDR, CREDRANK_WORKER_COUNT, ...
	// Underscores are preserved to match the koanf tags on the struct.
	envProvider := env.Provider("CREDRANK_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "credrank_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.MaxCrawlDepth < 0:
		return fmt.Errorf("%w: max_crawl_depth must be >= 0", ErrInvalidConfig)
	case c.MaxJobAttempts < 1:
		return fmt.Errorf("%w: max_job_attempts must be >= 1", ErrInvalidConfig)
	case c.EloOpponents < 1:
		return fmt.Errorf("%w: elo_opponents must be >= 1", ErrInvalidConfig)
	case c.FetchRatePerSec <= 0:
		return fmt.Errorf("%w: fetch_rate_per_sec must be > 0", ErrInvalidConfig)
	}
	if _, err := parseAddrPort(c.Addr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// parseAddrPort accepts ":9080" or "host:9080" and returns the port.
func parseAddrPort(addr string) (string, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 || i == len(addr)-1 {
		return "", errors.New("addr must include a port")
	}
	return addr[i+1:], nil
}
