package worker

import "time"

// Option applies a configuration option to a Worker.
type Option func(*Worker)

// WithName sets the worker's log name.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithPollInterval sets the idle polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithJobTimeout caps how long one job may run before it counts as a
// retryable failure.
func WithJobTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.jobTimeout = d
		}
	}
}
