package crawl_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/okian/credrank/internal/adapters/github"
	"github.com/okian/credrank/internal/crawl"
	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/internal/extract"
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

func (f *fakeFetcher) Exists(_ context.Context, rawURL string) error {
	return nil
}

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

func newOrchestrator(f crawl.Fetcher, opts ...crawl.Option) *crawl.Orchestrator {
	return crawl.NewOrchestrator(f, extract.NewRegistry(extract.NewLLM()), opts...)
}

func profile(urls ...string) *model.CandidateProfile {
	p, err := model.NewCandidateProfile("cand-1", urls, model.RoleBackend)
	if err != nil {
		panic(err)
	}
	return &p
}

func TestCrawl(t *testing.T) {
	ctx := context.Background()

	Convey("Given a reachable repository", t, func() {
		o := newOrchestrator(newFake())
		records, err := o.Crawl(ctx, profile("https://github.com/alice/widget"))

		So(err, ShouldBeNil)
		So(records, ShouldHaveLength, 1)
		rec := records[0]

		Convey("Then metadata, README and history are captured", func() {
			So(rec.Owner, ShouldEqual, "alice")
			So(rec.Repo, ShouldEqual, "widget")
			So(rec.Stars, ShouldEqual, 120)
			So(rec.HasReadme, ShouldBeTrue)
			So(rec.OwnerContributions, ShouldEqual, 80)
			So(rec.TotalContributions, ShouldEqual, 100)
			So(rec.FetchStatus, ShouldEqual, model.FetchOk)
			So(rec.Originality, ShouldEqual, model.OriginalityOriginal)
		})

		Convey("And the record is finalized with signals and a summary", func() {
			So(rec.Signals, ShouldContainKey, model.SignalOriginality)
			So(rec.Summary, ShouldNotBeEmpty)
			So(rec.FinalizedAt.IsZero(), ShouldBeFalse)
		})
	})

	Convey("Given one reachable and one missing repository", t, func() {
		o := newOrchestrator(newFake())
		records, err := o.Crawl(ctx, profile(
			"https://github.com/alice/widget",
			"https://github.com/alice/ghost",
		))

		So(err, ShouldBeNil)
		So(records, ShouldHaveLength, 2)

		Convey("Then the failure is isolated to its own record", func() {
			So(records[0].FetchStatus, ShouldEqual, model.FetchOk)
			So(records[1].FetchStatus, ShouldEqual, model.FetchFailed)
			So(records[1].FailureKind, ShouldEqual, model.ErrKindNotFound)
			So(records[1].Originality, ShouldEqual, model.OriginalityUnknown)
		})
	})

	Convey("Given a repository with no README", t, func() {
		f := newFake()
		delete(f.readmes, "alice/widget")
		o := newOrchestrator(f)
		records, err := o.Crawl(ctx, profile("https://github.com/alice/widget"))

		So(err, ShouldBeNil)

		Convey("Then the crawl degrades instead of failing", func() {
			So(records[0].FetchStatus, ShouldEqual, model.FetchPartialOk)
			So(records[0].HasReadme, ShouldBeFalse)
			So(records[0].Summary, ShouldNotBeEmpty) // description fallback
		})
	})

	Convey("Given a fork of an upstream repository", t, func() {
		f := newFake()
		f.repos["alice/clone"] = &github.Repo{
			Name: "clone", FullName: "alice/clone", Fork: true, Size: 101,
			Parent: &github.Repo{FullName: "upstream/orig", Size: 100, Description: "The original."},
		}
		f.readmes["alice/clone"] = "Fork of upstream."
		f.contributors["alice/clone"] = []github.Contributor{{Login: "upstream", Contributions: 500}}
		o := newOrchestrator(f)
		records, err := o.Crawl(ctx, profile("https://github.com/alice/clone"))

		So(err, ShouldBeNil)
		rec := records[0]

		Convey("Then lineage and the near-zero diff ratio are recorded", func() {
			So(rec.Originality, ShouldEqual, model.OriginalityForked)
			So(rec.ParentFullName, ShouldEqual, "upstream/orig")
			So(rec.ForkDiffRatio, ShouldAlmostEqual, 0.01)
			So(rec.Signals[model.SignalOriginality].Value, ShouldEqual, 0.05)
		})
	})

	Convey("Given link expansion budget", t, func() {
		f := newFake()
		f.readmes["alice/widget"] = "Widget renders dashboards. Companion tool: https://github.com/alice/helper"
		f.repos["alice/helper"] = &github.Repo{Name: "helper", FullName: "alice/helper", Description: "Helper CLI."}
		f.readmes["alice/helper"] = "Helper CLI. Links back to https://github.com/alice/widget"
		f.contributors["alice/helper"] = []github.Contributor{{Login: "alice", Contributions: 10}}
		o := newOrchestrator(f, crawl.WithMaxDepth(2))
		records, err := o.Crawl(ctx, profile("https://github.com/alice/widget"))

		So(err, ShouldBeNil)

		Convey("Then the linked repository is crawled exactly once", func() {
			So(records, ShouldHaveLength, 2)
			So(records[1].Repo, ShouldEqual, "helper")
			So(records[1].DepthReached, ShouldEqual, 2)
		})
	})

	Convey("Given a zero depth budget", t, func() {
		o := newOrchestrator(newFake(), crawl.WithMaxDepth(0))
		records, err := o.Crawl(ctx, profile("https://github.com/alice/widget"))

		So(err, ShouldBeNil)

		Convey("Then only identity is resolved", func() {
			So(records[0].FetchStatus, ShouldEqual, model.FetchPartialOk)
			So(records[0].Owner, ShouldEqual, "alice")
			So(records[0].Stars, ShouldEqual, 0)
		})
	})

	Convey("Given a cancelled context", t, func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		o := newOrchestrator(newFake())
		_, err := o.Crawl(cancelled, profile("https://github.com/alice/widget"))

		Convey("Then the crawl aborts with the context error", func() {
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given many URLs and bounded concurrency", t, func() {
		f := newFake()
		urls := make([]string, 0, 20)
		for i := 0; i < 20; i++ {
			key := fmt.Sprintf("alice/repo%d", i)
			f.repos[key] = &github.Repo{Name: fmt.Sprintf("repo%d", i), FullName: key, Description: "One of many."}
			f.contributors[key] = []github.Contributor{{Login: "alice", Contributions: 1}}
			urls = append(urls, "https://github.com/"+key)
		}
		o := newOrchestrator(f, crawl.WithConcurrency(3))
		records, err := o.Crawl(ctx, profile(urls...))

		Convey("Then every URL yields a record in submission order", func() {
			So(err, ShouldBeNil)
			So(records, ShouldHaveLength, 20)
			So(records[0].Repo, ShouldEqual, "repo0")
			So(records[19].Repo, ShouldEqual, "repo19")
		})
	})
}
