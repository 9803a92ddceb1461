// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers an optional YAML file and env on top.
// - External errors are wrapped via this package's sentinel kinds.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite file backing the job queue and report store.
	// ":memory:" keeps everything in-process (tests, loadgen).
	DBPath string `koanf:"db_path"`

	// WorkerCount sets the number of job workers pulling from the queue.
	WorkerCount int `koanf:"worker_count"`

	// JobTimeoutMS bounds a single job; expiry forces a retryable failure.
	JobTimeoutMS int `koanf:"job_timeout_ms"`

	// MaxJobAttempts is the redelivery cap before a job is dead-lettered.
	MaxJobAttempts int `koanf:"max_job_attempts"`

	// Crawl settings.
	MaxCrawlDepth    int `koanf:"max_crawl_depth"`
	CrawlConcurrency int `koanf:"crawl_concurrency"` // parallel URLs per candidate

	// Fetcher settings.
	GitHubToken      string  `koanf:"github_token"`
	GitHubAPIBaseURL string  `koanf:"github_api_base_url"`
	FetchRatePerSec  float64 `koanf:"fetch_rate_per_sec"` // token bucket refill per host
	FetchBurst       int     `koanf:"fetch_burst"`
	FetchMaxAttempts int     `koanf:"fetch_max_attempts"`
	FetchTimeoutMS   int     `koanf:"fetch_timeout_ms"`
	FetchCacheSize   int     `koanf:"fetch_cache_size"`

	// LLM settings. Empty API key enables the deterministic offline fallback.
	GeminiAPIKey string `koanf:"gemini_api_key"`
	GeminiModel  string `koanf:"gemini_model"`

	// Ranking settings.
	EloOpponents       int     `koanf:"elo_opponents"`        // sampled opponents per arrival
	EloRescoreEpsilon  float64 `koanf:"elo_rescore_epsilon"`  // score delta below which re-entry is a no-op
	MaxLeaderboardRows int     `koanf:"max_leaderboard_rows"` // caps GET /leaderboard?limit

	// DedupeSize bounds the submission idempotency cache.
	DedupeSize int `koanf:"dedupe_size"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":9080",
		DBPath:             "credrank.db",
		WorkerCount:        runtime.NumCPU() * 4,
		JobTimeoutMS:       120_000,
		MaxJobAttempts:     3,
		MaxCrawlDepth:      2,
		CrawlConcurrency:   4,
		GitHubAPIBaseURL:   "https://api.github.com",
		FetchRatePerSec:    5,
		FetchBurst:         10,
		FetchMaxAttempts:   4,
		FetchTimeoutMS:     10_000,
		FetchCacheSize:     2048,
		GeminiModel:        "gemini-2.5-flash",
		EloOpponents:       5,
		EloRescoreEpsilon:  1.0,
		MaxLeaderboardRows: 100,
		DedupeSize:         100_000,
	}
}
