package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/credrank/internal/loadgen"
	"github.com/okian/credrank/pkg/logger"
)

// Default configuration constants.
const (
	defaultCandidates  = 500
	defaultTopN        = 50
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultWaitTimeout = 5 * time.Minute
	defaultRunTimeout  = 15 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		candidates = flag.Int("candidates", defaultCandidates, "Number of candidates to submit")
		topN       = flag.Int("top", defaultTopN, "Leaderboard entries to fetch per role")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent submission workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		wait       = flag.Duration("wait", defaultWaitTimeout, "How long to wait for pipelines to finish")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	config := &loadgen.Config{
		BaseURL:       *baseURL,
		NumCandidates: *candidates,
		TopN:          *topN,
		Workers:       *workers,
		Timeout:       *timeout,
		WaitTimeout:   *wait,
		Verbose:       *verbose,
	}

	if err := loadgen.Run(ctx, config); err != nil {
		os.Stderr.WriteString("load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
