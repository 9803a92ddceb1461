// Package queue implements the durable job queue on SQLite using the
// visibility-timeout pattern: claiming a job marks it invisible for a
// timeout; jobs abandoned by a crashed worker become claimable again once
// the timeout lapses. Delivery is at-least-once. Terminal rows (done,
// dead-lettered) are retained for status inspection, never silently dropped.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/credrank/internal/adapters/sqlite"
	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/pkg/logger"
	"github.com/okian/credrank/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultVisibility  = 2 * time.Minute
	defaultMaxAttempts = 3
	defaultBackoffBase = 2 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL,
	stage        TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	reason       TEXT NOT NULL DEFAULT '',
	visible_at   INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_claimable ON jobs (state, visible_at);
CREATE INDEX IF NOT EXISTS idx_jobs_candidate ON jobs (candidate_id);
`

// Queue is the durable job queue handle.
type Queue struct {
	db          *sql.DB
	visibility  time.Duration
	maxAttempts int
	backoffBase time.Duration
	log         logger.Logger
}

// Option applies a configuration option to the Queue.
type Option func(*Queue)

// WithVisibility sets how long a claimed job stays invisible.
func WithVisibility(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithMaxAttempts caps deliveries before a job is dead-lettered.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay before a failed job reappears.
func WithRetryBackoff(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.backoffBase = d
		}
	}
}

// New opens (or creates) the queue database at path.
func New(path string, opts ...Option) (*Queue, error) {
	db, err := sqlite.Open(path, sqlite.WithSchema(schema), sqlite.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	q := &Queue{
		db:          db,
		visibility:  defaultVisibility,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		log:         logger.Named("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Close releases the underlying database.
func (q *Queue) Close() error { return q.db.Close() }

// Enqueue inserts a pending job for the candidate and stage and returns it.
func (q *Queue) Enqueue(ctx context.Context, candidateID string, stage model.JobStage) (*model.Job, error) {
	now := time.Now()
	job := &model.Job{
		ID:          uuid.NewString(),
		CandidateID: candidateID,
		Stage:       stage,
		State:       model.JobPending,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, candidate_id, stage, state, visible_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		job.ID, job.CandidateID, string(job.Stage), string(model.JobPending),
		now.UnixMilli(), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s/%s: %w", candidateID, stage, err)
	}
	metrics.RecordJobEnqueued(string(stage))
	q.updateDepth(ctx)
	return job, nil
}

// Claim atomically picks the oldest claimable job, marks it running and
// invisible for the visibility window, and returns it. Returns nil, nil when
// nothing is claimable.
func (q *Queue) Claim(ctx context.Context) (*model.Job, error) {
	start := time.Now()
	defer func() {
		metrics.RecordClaimLatency(float64(time.Since(start).Milliseconds()))
	}()

	now := time.Now()
	hideUntil := now.Add(q.visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = ?, attempts = attempts + 1, visible_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE state IN (?, ?, ?) AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, candidate_id, stage, state, attempts, reason, created_at, updated_at`,
		string(model.JobRunning), hideUntil, now.UnixMilli(),
		string(model.JobPending), string(model.JobFailed), string(model.JobRunning),
		now.UnixMilli(),
	)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return job, nil
}

// Complete marks a running job done. Completing an already terminal job is a
// no-op so redeliveries stay harmless.
func (q *Queue) Complete(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ?
		WHERE id = ? AND state NOT IN (?, ?)`,
		string(model.JobDone), time.Now().UnixMilli(),
		id, string(model.JobDone), string(model.JobDeadLettered),
	)
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	q.updateDepth(ctx)
	return nil
}

// Fail records a failure. Retryable failures reappear after an exponential
// backoff until the attempt cap, then dead-letter; fatal failures dead-letter
// immediately. The row is kept either way.
func (q *Queue) Fail(ctx context.Context, id, reason string, retryable bool) error {
	job, err := q.Job(ctx, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}

	now := time.Now()
	if !retryable || job.Attempts >= q.maxAttempts {
		_, err = q.db.ExecContext(ctx, `
			UPDATE jobs SET state = ?, reason = ?, updated_at = ?
			WHERE id = ? AND state NOT IN (?, ?)`,
			string(model.JobDeadLettered), reason, now.UnixMilli(),
			id, string(model.JobDone), string(model.JobDeadLettered),
		)
		if err != nil {
			return fmt.Errorf("dead-letter %s: %w", id, err)
		}
		metrics.RecordJobDeadLettered(string(job.Stage))
		q.log.Warn(ctx, "job dead-lettered",
			logger.String("job_id", id),
			logger.String("stage", string(job.Stage)),
			logger.Int("attempts", job.Attempts),
			logger.String("reason", reason))
		q.updateDepth(ctx)
		return nil
	}

	delay := q.backoffBase
	if job.Attempts > 1 {
		delay <<= job.Attempts - 1
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, reason = ?, visible_at = ?, updated_at = ?
		WHERE id = ? AND state NOT IN (?, ?)`,
		string(model.JobFailed), reason, now.Add(delay).UnixMilli(), now.UnixMilli(),
		id, string(model.JobDone), string(model.JobDeadLettered),
	)
	if err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	metrics.RecordJobFailed(string(job.Stage))
	return nil
}

// CancelByCandidate dead-letters every non-terminal job of a candidate with
// the given reason and returns how many rows changed. In-flight work is not
// interrupted here; workers observe the terminal state on completion.
func (q *Queue) CancelByCandidate(ctx context.Context, candidateID, reason string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, reason = ?, updated_at = ?
		WHERE candidate_id = ? AND state NOT IN (?, ?)`,
		string(model.JobDeadLettered), reason, time.Now().UnixMilli(),
		candidateID, string(model.JobDone), string(model.JobDeadLettered),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs for %s: %w", candidateID, err)
	}
	n, _ := res.RowsAffected()
	q.updateDepth(ctx)
	return int(n), nil
}

// Job returns one job by id, terminal rows included.
func (q *Queue) Job(ctx context.Context, id string) (*model.Job, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, candidate_id, stage, state, attempts, reason, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

// JobsByCandidate returns every job row for a candidate, newest first.
func (q *Queue) JobsByCandidate(ctx context.Context, candidateID string) ([]model.Job, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, candidate_id, stage, state, attempts, reason, created_at, updated_at
		FROM jobs WHERE candidate_id = ? ORDER BY created_at DESC`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("load jobs for %s: %w", candidateID, err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// Depth counts jobs still in flight (pending, failed-awaiting-retry, running).
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE state IN (?, ?, ?)`,
		string(model.JobPending), string(model.JobFailed), string(model.JobRunning),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("depth: %w", err)
	}
	return n, nil
}

// DeadLetters returns the retained dead-lettered rows, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]model.Job, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, candidate_id, stage, state, attempts, reason, created_at, updated_at
		FROM jobs WHERE state = ? ORDER BY updated_at DESC LIMIT ?`,
		string(model.JobDeadLettered), limit)
	if err != nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.Depth(ctx); err == nil {
		metrics.UpdateQueueDepth(n)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*model.Job, error) {
	var j model.Job
	var stage, state string
	var created, updated int64
	if err := r.Scan(&j.ID, &j.CandidateID, &stage, &state, &j.Attempts, &j.Reason, &created, &updated); err != nil {
		return nil, err
	}
	j.Stage = model.JobStage(stage)
	j.State = model.JobState(state)
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return &j, nil
}
