// Package worker implements the pool that drains the job queue: each worker
// polls for claimable jobs, dispatches them by stage and reports the outcome
// back to the queue. The stage chain (crawl, score, rank) is advanced here:
// a completed job enqueues its successor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/pkg/logger"
	"github.com/okian/credrank/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	defaultPollInterval     = 250 * time.Millisecond
	defaultJobTimeout       = 2 * time.Minute
	poolShutdownTimeout     = 30 * time.Second
)

// Queue is what workers need from the job queue.
type Queue interface {
	Claim(ctx context.Context) (*model.Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string, retryable bool) error
	Enqueue(ctx context.Context, candidateID string, stage model.JobStage) (*model.Job, error)
}

// StageRunner executes the work behind one job stage.
type StageRunner interface {
	RunStage(ctx context.Context, job *model.Job) error
}

// FatalError marks a failure that no retry can fix; the job dead-letters
// immediately instead of burning its attempts.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries the non-retryable marker.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Worker is a single queue consumer.
type Worker struct {
	queue  Queue
	runner StageRunner
	name   string

	pollInterval time.Duration
	jobTimeout   time.Duration

	done   chan struct{}
	logger logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(queue Queue, runner StageRunner, opts ...Option) *Worker {
	w := &Worker{
		queue:        queue,
		runner:       runner,
		name:         "worker",
		pollInterval: defaultPollInterval,
		jobTimeout:   defaultJobTimeout,
		done:         make(chan struct{}),
		logger:       logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run polls for jobs until ctx is cancelled, draining claims eagerly: after
// a processed job the next claim happens immediately, the poll interval only
// paces an idle queue.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn(ctx, "claim failed", logger.Error(err))
				metrics.RecordWorkerError()
			}
			return
		}
		if job == nil {
			return
		}
		w.process(ctx, job)
	}
}

// process runs one job under its timeout and reports the outcome.
func (w *Worker) process(ctx context.Context, job *model.Job) {
	start := time.Now()
	defer func() {
		metrics.RecordJobDuration(string(job.Stage), float64(time.Since(start).Milliseconds()))
	}()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	err := w.runner.RunStage(jobCtx, job)
	cancel()

	if err != nil {
		// A timed-out job is retryable: the visibility pattern guarantees
		// someone picks it up again.
		retryable := !IsFatal(err)
		w.logger.Error(ctx, "stage failed",
			logger.String("job_id", job.ID),
			logger.String("candidate_id", job.CandidateID),
			logger.String("stage", string(job.Stage)),
			logger.Bool("retryable", retryable),
			logger.Error(err),
		)
		metrics.RecordWorkerError()
		if ferr := w.queue.Fail(ctx, job.ID, err.Error(), retryable); ferr != nil {
			w.logger.Error(ctx, "fail reporting failed", logger.Error(ferr))
		}
		return
	}

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.Error(ctx, "complete reporting failed", logger.Error(err))
		return
	}
	metrics.RecordJobCompleted(string(job.Stage))

	if next := job.Stage.NextStage(); next != "" {
		if _, err := w.queue.Enqueue(ctx, job.CandidateID, next); err != nil {
			w.logger.Error(ctx, "next stage enqueue failed",
				logger.String("candidate_id", job.CandidateID),
				logger.String("stage", string(next)),
				logger.Error(err),
			)
		}
	}
}

// Pool manages a fixed set of workers.
type Pool struct {
	workers []*Worker
	logger  logger.Logger
}

// NewPool creates workerCount workers over the shared queue and runner.
func NewPool(workerCount int, queue Queue, runner StageRunner, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers: make([]*Worker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewWorker(queue, runner,
			append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown waits for all workers to stop. Workers stop when the Start ctx
// is cancelled; this only waits for in-flight jobs to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker %d shutdown: %w", i, shutdownCtx.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
