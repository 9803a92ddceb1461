// Package loadgen drives a running credrank instance: it submits a batch
// of synthetic candidates, waits for their pipelines to reach a terminal
// state and verifies the leaderboards it reads back.
package loadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/credrank/pkg/logger"
)

// Config holds configuration for one load run.
type Config struct {
	BaseURL       string        // Base URL of the service
	NumCandidates int           // Number of candidates to submit
	TopN          int           // Leaderboard entries to fetch per role
	Workers       int           // Concurrent submission workers
	Timeout       time.Duration // HTTP request timeout
	WaitTimeout   time.Duration // How long to wait for pipelines to finish
	Verbose       bool
}

// Stats holds the counters of one load run.
type Stats struct {
	Submitted   int
	Accepted    int
	Duplicates  int
	Failed      int
	JobsDone    int
	JobsDead    int
	JobsPending int
	Entries     int
	StartTime   time.Time
	Duration    time.Duration
}

// Run executes the complete load test.
func Run(ctx context.Context, config *Config) error {
	log := logger.Get().Named("loadgen")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting credrank load run",
		logger.String("base_url", config.BaseURL),
		logger.Int("candidates", config.NumCandidates),
		logger.Int("workers", config.Workers),
	)

	client := newClient(config.BaseURL, config.Timeout)

	if err := client.checkHealth(ctx); err != nil {
		return fmt.Errorf("service health check: %w", err)
	}

	submissions := generateSubmissions(config.NumCandidates)
	stats.Submitted = len(submissions)

	jobIDs, err := submitAll(ctx, client, config, submissions, stats)
	if err != nil {
		return fmt.Errorf("submission: %w", err)
	}

	log.Info(ctx, "waiting for pipelines",
		logger.Int("jobs", len(jobIDs)),
		logger.Duration("timeout", config.WaitTimeout),
	)
	waitForJobs(ctx, client, config, jobIDs, stats)

	if err := verifyLeaderboards(ctx, client, config, stats); err != nil {
		return fmt.Errorf("leaderboard verification: %w", err)
	}

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "load run finished",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
		logger.Int("jobs_done", stats.JobsDone),
		logger.Int("jobs_dead_lettered", stats.JobsDead),
		logger.Int("jobs_pending", stats.JobsPending),
		logger.Int("leaderboard_entries", stats.Entries),
		logger.Duration("duration", stats.Duration),
	)
	return nil
}

// waitForJobs polls job statuses until every job is terminal or the wait
// budget runs out.
func waitForJobs(ctx context.Context, client *client, config *Config, jobIDs []string, stats *Stats) {
	deadline := time.Now().Add(config.WaitTimeout)
	pending := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		pending[id] = struct{}{}
	}

	for len(pending) > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			stats.JobsPending = len(pending)
			return
		case <-time.After(500 * time.Millisecond):
		}

		for id := range pending {
			job, err := client.getJob(ctx, id)
			if err != nil {
				continue
			}
			switch job.State {
			case "done":
				stats.JobsDone++
				delete(pending, id)
			case "dead_lettered":
				stats.JobsDead++
				delete(pending, id)
			}
		}
	}
	stats.JobsPending = len(pending)
}

// verifyLeaderboards fetches every role pool and checks invariants that
// must hold regardless of scoring outcomes: ranks are dense from 1 and
// ratings never increase down the board.
func verifyLeaderboards(ctx context.Context, client *client, config *Config, stats *Stats) error {
	log := logger.Get().Named("loadgen")

	for _, role := range roles {
		entries, err := client.getLeaderboard(ctx, role, config.TopN)
		if err != nil {
			return fmt.Errorf("role %s: %w", role, err)
		}
		stats.Entries += len(entries)

		for i, e := range entries {
			if e.Rank != i+1 {
				return fmt.Errorf("role %s: rank gap at position %d (got %d)", role, i+1, e.Rank)
			}
			if i > 0 && e.Rating > entries[i-1].Rating {
				return fmt.Errorf("role %s: rating inversion at rank %d", role, e.Rank)
			}
		}

		if config.Verbose {
			log.Info(ctx, "leaderboard verified",
				logger.String("role", role),
				logger.Int("entries", len(entries)),
			)
		}
	}
	return nil
}
