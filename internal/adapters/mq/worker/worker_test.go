package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/credrank/internal/adapters/mq/queue"
	"github.com/okian/credrank/internal/adapters/mq/worker"
	"github.com/okian/credrank/internal/adapters/sqlite"
	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// recordingRunner tracks the stages it was asked to run.
type recordingRunner struct {
	mu     sync.Mutex
	stages []model.JobStage
	err    error
	block  time.Duration
}

func (r *recordingRunner) RunStage(ctx context.Context, job *model.Job) error {
	if r.block > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.block):
		}
	}
	r.mu.Lock()
	r.stages = append(r.stages, job.Stage)
	r.mu.Unlock()
	return r.err
}

func (r *recordingRunner) ran() []model.JobStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.JobStage(nil), r.stages...)
}

func newQueue(t *testing.T, opts ...queue.Option) *queue.Queue {
	t.Helper()
	q, err := queue.New(sqlite.MemoryPath, opts...)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestStageChain(t *testing.T) {
	Convey("Given a pool draining a crawl job", t, func() {
		q := newQueue(t)
		runner := &recordingRunner{}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pool := worker.NewPool(2, q, runner, worker.WithPollInterval(20*time.Millisecond))
		pool.Start(ctx)

		job, err := q.Enqueue(ctx, "cand-1", model.StageCrawl)
		So(err, ShouldBeNil)

		Convey("Then the stage chain runs through crawl, score and rank", func() {
			ok := waitFor(5*time.Second, func() bool { return len(runner.ran()) == 3 })
			So(ok, ShouldBeTrue)
			So(runner.ran(), ShouldResemble, []model.JobStage{model.StageCrawl, model.StageScore, model.StageRank})

			got, err := q.Job(ctx, job.ID)
			So(err, ShouldBeNil)
			So(got.State, ShouldEqual, model.JobDone)

			depth := func() bool {
				n, err := q.Depth(ctx)
				return err == nil && n == 0
			}
			So(waitFor(2*time.Second, depth), ShouldBeTrue)
		})

		cancel()
		So(pool.Shutdown(context.Background()), ShouldBeNil)
	})
}

func TestFailureHandling(t *testing.T) {
	Convey("Given a runner that always fails transiently", t, func() {
		q := newQueue(t,
			queue.WithMaxAttempts(2),
			queue.WithRetryBackoff(5*time.Millisecond),
		)
		runner := &recordingRunner{err: errors.New("upstream flaked")}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pool := worker.NewPool(1, q, runner, worker.WithPollInterval(10*time.Millisecond))
		pool.Start(ctx)

		job, _ := q.Enqueue(ctx, "cand-1", model.StageCrawl)

		Convey("Then the job retries and finally dead-letters", func() {
			done := waitFor(5*time.Second, func() bool {
				got, err := q.Job(ctx, job.ID)
				return err == nil && got.State == model.JobDeadLettered
			})
			So(done, ShouldBeTrue)

			got, _ := q.Job(ctx, job.ID)
			So(got.Attempts, ShouldEqual, 2)
			So(got.Reason, ShouldContainSubstring, "upstream flaked")
		})

		cancel()
		So(pool.Shutdown(context.Background()), ShouldBeNil)
	})

	Convey("Given a runner that fails fatally", t, func() {
		q := newQueue(t, queue.WithMaxAttempts(3))
		runner := &recordingRunner{err: worker.Fatal(errors.New("malformed profile"))}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pool := worker.NewPool(1, q, runner, worker.WithPollInterval(10*time.Millisecond))
		pool.Start(ctx)

		job, _ := q.Enqueue(ctx, "cand-1", model.StageCrawl)

		Convey("Then it dead-letters on the first attempt", func() {
			done := waitFor(5*time.Second, func() bool {
				got, err := q.Job(ctx, job.ID)
				return err == nil && got.State == model.JobDeadLettered
			})
			So(done, ShouldBeTrue)

			got, _ := q.Job(ctx, job.ID)
			So(got.Attempts, ShouldEqual, 1)
		})

		cancel()
		So(pool.Shutdown(context.Background()), ShouldBeNil)
	})
}

func TestJobTimeout(t *testing.T) {
	Convey("Given a stage that outruns the job timeout", t, func() {
		q := newQueue(t,
			queue.WithMaxAttempts(1),
			queue.WithRetryBackoff(5*time.Millisecond),
		)
		runner := &recordingRunner{block: time.Second}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pool := worker.NewPool(1, q, runner,
			worker.WithPollInterval(10*time.Millisecond),
			worker.WithJobTimeout(30*time.Millisecond),
		)
		pool.Start(ctx)

		job, _ := q.Enqueue(ctx, "cand-1", model.StageCrawl)

		Convey("Then the job fails instead of hanging the worker", func() {
			done := waitFor(5*time.Second, func() bool {
				got, err := q.Job(ctx, job.ID)
				return err == nil && got.State.Terminal()
			})
			So(done, ShouldBeTrue)

			got, _ := q.Job(ctx, job.ID)
			So(got.State, ShouldEqual, model.JobDeadLettered)
			So(got.Reason, ShouldContainSubstring, "context deadline exceeded")
		})

		cancel()
		So(pool.Shutdown(context.Background()), ShouldBeNil)
	})
}
