package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/credrank/internal/adapters/github"
	"github.com/okian/credrank/internal/adapters/sqlite"
	service "github.com/okian/credrank/internal/app"
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

// fakeFetcher serves canned repository data keyed by owner/repo.
type fakeFetcher struct {
	repos        map[string]*github.Repo
	readmes      map[string]string
	contributors map[string][]github.Contributor
}

func (f *fakeFetcher) key(owner, repo string) string { return owner + "/" + repo }

func (f *fakeFetcher) Repo(_ context.Context, owner, repo string) (*github.Repo, error) {
	r, ok := f.repos[f.key(owner, repo)]
	if !ok {
		return nil, &github.FetchError{Kind: github.KindNotFound, URL: f.key(owner, repo), StatusCode: 404}
	}
	return r, nil
}

func (f *fakeFetcher) Readme(_ context.Context, owner, repo string) (string, error) {
	md, ok := f.readmes[f.key(owner, repo)]
	if !ok {
		return "", &github.FetchError{Kind: github.KindNotFound, URL: f.key(owner, repo), StatusCode: 404}
	}
	return md, nil
}

func (f *fakeFetcher) Contributors(_ context.Context, owner, repo string) ([]github.Contributor, error) {
	cs, ok := f.contributors[f.key(owner, repo)]
	if !ok {
		return nil, &github.FetchError{Kind: github.KindForbidden, URL: f.key(owner, repo), StatusCode: 403}
	}
	return cs, nil
}

func (f *fakeFetcher) Exists(_ context.Context, _ string) error { return nil }

func newFake() *fakeFetcher {
	return &fakeFetcher{
		repos: map[string]*github.Repo{
			"alice/widget": {
				Name:        "widget",
				FullName:    "alice/widget",
				Description: "Terminal dashboard widgets.",
				Stars:       120,
				Forks:       14,
				Language:    "Go",
			},
		},
		readmes: map[string]string{
			"alice/widget": "Widget renders dashboards. See docs for details.",
		},
		contributors: map[string][]github.Contributor{
			"alice/widget": {
				{Login: "alice", Contributions: 80},
				{Login: "bob", Contributions: 20},
			},
		},
	}
}

func startService(t *testing.T) *service.Service {
	t.Helper()
	svc := service.New(
		service.WithDBPath(sqlite.MemoryPath),
		service.WithWorkerCount(2),
		service.WithFetcher(newFake()),
		service.WithJobTimeout(10*time.Second),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("service.Start: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func submit(t *testing.T, svc *service.Service, id string, urls ...string) *model.Job {
	t.Helper()
	p, err := model.NewCandidateProfile(id, urls, model.RoleBackend)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	job, err := svc.Submit(context.Background(), p)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()

	Convey("Given a submitted candidate with a reachable project", t, func() {
		svc := startService(t)
		job := submit(t, svc, "cand-1", "https://github.com/alice/widget")
		So(job.Stage, ShouldEqual, model.StageCrawl)

		Convey("Then the pipeline ranks the candidate", func() {
			ranked := waitFor(10*time.Second, func() bool {
				entries, err := svc.Leaderboard(ctx, model.RoleBackend, 10)
				return err == nil && len(entries) == 1
			})
			So(ranked, ShouldBeTrue)

			entries, err := svc.Leaderboard(ctx, model.RoleBackend, 10)
			So(err, ShouldBeNil)
			So(entries[0].CandidateID, ShouldEqual, "cand-1")
			So(entries[0].Rank, ShouldEqual, 1)
			So(entries[0].Rating, ShouldBeGreaterThan, 1000)
			So(entries[0].TopProjects, ShouldResemble, []string{"https://github.com/alice/widget"})

			Convey("And the crawl job is done", func() {
				got, err := svc.Job(ctx, job.ID)
				So(err, ShouldBeNil)
				So(got.State, ShouldEqual, model.JobDone)
			})

			Convey("And the report carries score, rating and project detail", func() {
				rep, err := svc.Report(ctx, "cand-1")
				So(err, ShouldBeNil)
				So(rep.Score.Unscored, ShouldBeFalse)
				So(rep.Score.Value, ShouldBeGreaterThan, 0)
				So(rep.Ranked, ShouldBeTrue)
				So(rep.Projects, ShouldHaveLength, 1)
				So(rep.Projects[0].Record.FetchStatus, ShouldEqual, model.FetchOk)
			})
		})
	})

	Convey("Given a candidate whose only project is unreachable", t, func() {
		svc := startService(t)
		submit(t, svc, "cand-ghost", "https://github.com/nobody/ghost")

		Convey("Then the candidate ends unscored and outside the pool", func() {
			done := waitFor(10*time.Second, func() bool {
				rep, err := svc.Report(context.Background(), "cand-ghost")
				return err == nil && rep.Score.Unscored && rep.Score.Reason == model.UnscoredReasonInsufficientData
			})
			So(done, ShouldBeTrue)

			entries, err := svc.Leaderboard(ctx, model.RoleBackend, 10)
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})
	})

	Convey("Given a report request before the pipeline finishes", t, func() {
		svc := startService(t)
		submit(t, svc, "cand-early", "https://github.com/alice/widget")

		Convey("Then the score reads as pending, not as zero", func() {
			rep, err := svc.Report(ctx, "cand-early")
			So(err, ShouldBeNil)
			if rep.Score.Unscored {
				So(rep.Score.Reason, ShouldBeIn, []string{"pending", model.UnscoredReasonInsufficientData})
			}
		})
	})

	Convey("Given an unknown candidate", t, func() {
		svc := startService(t)

		Convey("Then the report lookup fails with not found", func() {
			_, err := svc.Report(ctx, "cand-missing")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRestartDurability(t *testing.T) {
	ctx := context.Background()

	Convey("Given a ranked candidate in a file-backed database", t, func() {
		dbPath := filepath.Join(t.TempDir(), "credrank.db")
		newSvc := func() *service.Service {
			return service.New(
				service.WithDBPath(dbPath),
				service.WithWorkerCount(2),
				service.WithFetcher(newFake()),
				service.WithJobTimeout(10*time.Second),
			)
		}

		first := newSvc()
		So(first.Start(ctx), ShouldBeNil)
		submit(t, first, "cand-1", "https://github.com/alice/widget")
		ranked := waitFor(10*time.Second, func() bool {
			entries, err := first.Leaderboard(ctx, model.RoleBackend, 10)
			return err == nil && len(entries) == 1
		})
		So(ranked, ShouldBeTrue)
		first.Stop()

		Convey("When the service restarts on the same database", func() {
			second := newSvc()
			So(second.Start(ctx), ShouldBeNil)
			t.Cleanup(second.Stop)

			Convey("Then the leaderboard still holds the candidate", func() {
				entries, err := second.Leaderboard(ctx, model.RoleBackend, 10)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 1)
				So(entries[0].CandidateID, ShouldEqual, "cand-1")
				So(entries[0].Rank, ShouldEqual, 1)
				So(entries[0].Rating, ShouldBeGreaterThan, 1000)
			})

			Convey("And the report shows the candidate ranked again", func() {
				rep, err := second.Report(ctx, "cand-1")
				So(err, ShouldBeNil)
				So(rep.Ranked, ShouldBeTrue)
				So(rep.Score.Unscored, ShouldBeFalse)
			})
		})
	})
}

// gatedFetcher signals when a crawl reaches it, then blocks until the stage
// context is cancelled.
type gatedFetcher struct {
	entered chan struct{}
}

func (g *gatedFetcher) Repo(ctx context.Context, owner, repo string) (*github.Repo, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, &github.FetchError{Kind: github.KindTransient, URL: owner + "/" + repo, Err: ctx.Err()}
}

func (g *gatedFetcher) Readme(ctx context.Context, owner, repo string) (string, error) {
	return "", &github.FetchError{Kind: github.KindTransient, URL: owner + "/" + repo, Err: ctx.Err()}
}

func (g *gatedFetcher) Contributors(ctx context.Context, owner, repo string) ([]github.Contributor, error) {
	return nil, &github.FetchError{Kind: github.KindTransient, URL: owner + "/" + repo, Err: ctx.Err()}
}

func (g *gatedFetcher) Exists(_ context.Context, _ string) error { return nil }

func TestCancellation(t *testing.T) {
	ctx := context.Background()

	Convey("Given a candidate whose crawl is in flight", t, func() {
		gate := &gatedFetcher{entered: make(chan struct{}, 1)}
		svc := service.New(
			service.WithDBPath(sqlite.MemoryPath),
			service.WithWorkerCount(2),
			service.WithFetcher(gate),
			service.WithJobTimeout(10*time.Second),
		)
		So(svc.Start(ctx), ShouldBeNil)
		t.Cleanup(svc.Stop)

		job := submit(t, svc, "cand-gone", "https://github.com/alice/widget")

		select {
		case <-gate.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("crawl never started")
		}

		Convey("When the candidate is cancelled", func() {
			So(svc.Cancel(ctx, "cand-gone"), ShouldBeNil)

			Convey("Then the job terminates without a pool entry", func() {
				terminal := waitFor(10*time.Second, func() bool {
					got, err := svc.Job(ctx, job.ID)
					return err == nil && got.State == model.JobDeadLettered
				})
				So(terminal, ShouldBeTrue)

				got, err := svc.Job(ctx, job.ID)
				So(err, ShouldBeNil)
				So(got.Reason, ShouldEqual, "cancelled")

				entries, err := svc.Leaderboard(ctx, model.RoleBackend, 10)
				So(err, ShouldBeNil)
				So(entries, ShouldBeEmpty)
			})

			Convey("And cancelling again is a no-op", func() {
				So(svc.Cancel(ctx, "cand-gone"), ShouldBeNil)
			})
		})
	})

	Convey("Given an unknown candidate", t, func() {
		svc := startService(t)

		Convey("Then cancellation fails with not found", func() {
			So(svc.Cancel(ctx, "cand-none"), ShouldNotBeNil)
		})
	})
}

func TestStats(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startService(t)
		submit(t, svc, "cand-1", "https://github.com/alice/widget")

		Convey("Then stats expose pipeline counters", func() {
			done := waitFor(10*time.Second, func() bool {
				stats := svc.GetStats()
				depth, ok := stats["queueDepth"].(int)
				return ok && depth == 0
			})
			So(done, ShouldBeTrue)

			stats := svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["candidates"], ShouldEqual, 1)
		})
	})
}
