package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/okian/credrank/internal/adapters/github"
	"github.com/okian/credrank/internal/adapters/http/api"
	"github.com/okian/credrank/internal/adapters/http/swagger"
	app "github.com/okian/credrank/internal/app"
	"github.com/okian/credrank/internal/config"
	"github.com/okian/credrank/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Dev convenience: GITHUB_TOKEN / GEMINI_API_KEY from a local dotfile.
	// Missing .env is fine.
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	fetcher := github.NewClient(
		github.WithToken(cfg.GitHubToken),
		github.WithBaseURL(cfg.GitHubAPIBaseURL),
		github.WithRateLimit(cfg.FetchRatePerSec, cfg.FetchBurst),
		github.WithMaxAttempts(cfg.FetchMaxAttempts),
		github.WithTimeout(time.Duration(cfg.FetchTimeoutMS)*time.Millisecond),
		github.WithCacheSize(cfg.FetchCacheSize),
	)

	svc := app.New(
		app.WithLogger(log),
		app.WithDBPath(cfg.DBPath),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithJobTimeout(time.Duration(cfg.JobTimeoutMS)*time.Millisecond),
		app.WithMaxJobAttempts(cfg.MaxJobAttempts),
		app.WithCrawlDepth(cfg.MaxCrawlDepth),
		app.WithCrawlConcurrency(cfg.CrawlConcurrency),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithEloOpponents(cfg.EloOpponents),
		app.WithEloRescoreEpsilon(cfg.EloRescoreEpsilon),
		app.WithGemini(cfg.GeminiAPIKey, cfg.GeminiModel),
		app.WithFetcher(fetcher),
	)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
}
