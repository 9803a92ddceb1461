package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/credrank/internal/adapters/mq/queue"
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

func newQueue(t *testing.T, opts ...queue.Option) *queue.Queue {
	t.Helper()
	q, err := queue.New(sqlite.MemoryPath, opts...)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueClaim(t *testing.T) {
	ctx := context.Background()

	Convey("Given an enqueued crawl job", t, func() {
		q := newQueue(t)
		job, err := q.Enqueue(ctx, "cand-1", model.StageCrawl)
		So(err, ShouldBeNil)
		So(job.State, ShouldEqual, model.JobPending)

		Convey("When a worker claims it", func() {
			claimed, err := q.Claim(ctx)
			So(err, ShouldBeNil)
			So(claimed, ShouldNotBeNil)

			Convey("Then it is running with one delivery recorded", func() {
				So(claimed.ID, ShouldEqual, job.ID)
				So(claimed.State, ShouldEqual, model.JobRunning)
				So(claimed.Attempts, ShouldEqual, 1)
			})

			Convey("And a second claim finds nothing", func() {
				again, err := q.Claim(ctx)
				So(err, ShouldBeNil)
				So(again, ShouldBeNil)
			})
		})
	})

	Convey("Given an empty queue", t, func() {
		q := newQueue(t)
		job, err := q.Claim(ctx)

		Convey("Then claiming returns nothing without error", func() {
			So(err, ShouldBeNil)
			So(job, ShouldBeNil)
		})
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	Convey("Given a claimed job", t, func() {
		q := newQueue(t)
		job, _ := q.Enqueue(ctx, "cand-1", model.StageCrawl)
		_, _ = q.Claim(ctx)

		Convey("When the worker completes it", func() {
			So(q.Complete(ctx, job.ID), ShouldBeNil)

			Convey("Then the row is retained in the done state", func() {
				got, err := q.Job(ctx, job.ID)
				So(err, ShouldBeNil)
				So(got.State, ShouldEqual, model.JobDone)
			})

			Convey("And completing again is harmless", func() {
				So(q.Complete(ctx, job.ID), ShouldBeNil)
			})

			Convey("And the queue depth drops to zero", func() {
				depth, err := q.Depth(ctx)
				So(err, ShouldBeNil)
				So(depth, ShouldEqual, 0)
			})
		})
	})
}

func TestRetryAndDeadLetter(t *testing.T) {
	ctx := context.Background()

	Convey("Given a job that keeps failing transiently", t, func() {
		q := newQueue(t,
			queue.WithMaxAttempts(3),
			queue.WithRetryBackoff(5*time.Millisecond),
		)
		job, _ := q.Enqueue(ctx, "cand-1", model.StageCrawl)

		fail := func() *model.Job {
			claimed, err := q.Claim(ctx)
			So(err, ShouldBeNil)
			if claimed == nil {
				// Backoff may not have elapsed yet.
				time.Sleep(30 * time.Millisecond)
				claimed, err = q.Claim(ctx)
				So(err, ShouldBeNil)
			}
			So(claimed, ShouldNotBeNil)
			So(q.Fail(ctx, claimed.ID, "upstream flaked", true), ShouldBeNil)
			return claimed
		}

		Convey("When it fails once", func() {
			fail()
			got, _ := q.Job(ctx, job.ID)

			Convey("Then it waits for retry with the reason recorded", func() {
				So(got.State, ShouldEqual, model.JobFailed)
				So(got.Reason, ShouldEqual, "upstream flaked")
				So(got.Attempts, ShouldEqual, 1)
			})
		})

		Convey("When it exhausts all attempts", func() {
			for i := 0; i < 3; i++ {
				fail()
			}
			got, _ := q.Job(ctx, job.ID)

			Convey("Then it is dead-lettered, never silently dropped", func() {
				So(got.State, ShouldEqual, model.JobDeadLettered)
				So(got.Attempts, ShouldEqual, 3)
			})

			Convey("And it shows up in the dead letter listing", func() {
				dead, err := q.DeadLetters(ctx, 10)
				So(err, ShouldBeNil)
				So(dead, ShouldHaveLength, 1)
				So(dead[0].ID, ShouldEqual, job.ID)
			})

			Convey("And it can no longer be claimed", func() {
				claimed, err := q.Claim(ctx)
				So(err, ShouldBeNil)
				So(claimed, ShouldBeNil)
			})
		})
	})

	Convey("Given a fatally failing job", t, func() {
		q := newQueue(t, queue.WithMaxAttempts(3))
		job, _ := q.Enqueue(ctx, "cand-2", model.StageScore)
		claimed, _ := q.Claim(ctx)
		So(q.Fail(ctx, claimed.ID, "malformed profile", false), ShouldBeNil)

		Convey("Then it dead-letters on the first failure", func() {
			got, _ := q.Job(ctx, job.ID)
			So(got.State, ShouldEqual, model.JobDeadLettered)
			So(got.Reason, ShouldEqual, "malformed profile")
		})
	})
}

func TestVisibilityTimeout(t *testing.T) {
	ctx := context.Background()

	Convey("Given a job claimed by a worker that crashed", t, func() {
		q := newQueue(t, queue.WithVisibility(20*time.Millisecond))
		job, _ := q.Enqueue(ctx, "cand-1", model.StageCrawl)
		first, err := q.Claim(ctx)
		So(err, ShouldBeNil)
		So(first, ShouldNotBeNil)

		Convey("When the visibility timeout lapses", func() {
			time.Sleep(40 * time.Millisecond)
			second, err := q.Claim(ctx)

			Convey("Then the job is redelivered with a higher attempt count", func() {
				So(err, ShouldBeNil)
				So(second, ShouldNotBeNil)
				So(second.ID, ShouldEqual, job.ID)
				So(second.Attempts, ShouldEqual, 2)
			})
		})
	})
}

func TestCancelByCandidate(t *testing.T) {
	ctx := context.Background()

	Convey("Given queued and running jobs for two candidates", t, func() {
		q := newQueue(t)
		running, _ := q.Enqueue(ctx, "cand-1", model.StageCrawl)
		claimed, err := q.Claim(ctx)
		So(err, ShouldBeNil)
		So(claimed, ShouldNotBeNil)
		So(claimed.ID, ShouldEqual, running.ID)

		queued, _ := q.Enqueue(ctx, "cand-1", model.StageScore)
		other, _ := q.Enqueue(ctx, "cand-2", model.StageCrawl)

		Convey("When one candidate is cancelled", func() {
			n, err := q.CancelByCandidate(ctx, "cand-1", "cancelled")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)

			Convey("Then its running and queued jobs dead-letter with the reason", func() {
				for _, id := range []string{running.ID, queued.ID} {
					got, err := q.Job(ctx, id)
					So(err, ShouldBeNil)
					So(got.State, ShouldEqual, model.JobDeadLettered)
					So(got.Reason, ShouldEqual, "cancelled")
				}
			})

			Convey("And the other candidate is untouched and claimable", func() {
				got, _ := q.Job(ctx, other.ID)
				So(got.State, ShouldEqual, model.JobPending)

				claimed, err := q.Claim(ctx)
				So(err, ShouldBeNil)
				So(claimed, ShouldNotBeNil)
				So(claimed.CandidateID, ShouldEqual, "cand-2")
			})

			Convey("And cancelling again changes nothing", func() {
				n, err := q.CancelByCandidate(ctx, "cand-1", "cancelled")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
			})
		})
	})
}

func TestStatusLookups(t *testing.T) {
	ctx := context.Background()

	Convey("Given jobs across stages for one candidate", t, func() {
		q := newQueue(t)
		_, _ = q.Enqueue(ctx, "cand-1", model.StageCrawl)
		_, _ = q.Enqueue(ctx, "cand-1", model.StageScore)
		_, _ = q.Enqueue(ctx, "cand-2", model.StageCrawl)

		Convey("Then the candidate view returns only its jobs", func() {
			jobs, err := q.JobsByCandidate(ctx, "cand-1")
			So(err, ShouldBeNil)
			So(jobs, ShouldHaveLength, 2)
		})

		Convey("And an unknown id yields ErrNotFound", func() {
			_, err := q.Job(ctx, "nope")
			So(err, ShouldEqual, queue.ErrNotFound)
		})

		Convey("And depth counts in-flight jobs", func() {
			depth, err := q.Depth(ctx)
			So(err, ShouldBeNil)
			So(depth, ShouldEqual, 3)
		})
	})
}
