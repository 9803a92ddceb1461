package extract_test

import (
	"context"
	"strings"
	"testing"

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

func record(mutate func(*model.ProjectRecord)) *model.ProjectRecord {
	rec := &model.ProjectRecord{
		URL:                "https://github.com/alice/widget",
		Owner:              "alice",
		Repo:               "widget",
		Originality:        model.OriginalityOriginal,
		Description:        "A widget library for terminals.",
		Readme:             "Widget renders terminal dashboards. It ships with themes. Install via go get.",
		HasReadme:          true,
		OwnerContributions: 40,
		TotalContributions: 50,
		ForkDiffRatio:      -1,
		FetchStatus:        model.FetchOk,
	}
	if mutate != nil {
		mutate(rec)
	}
	return rec
}

func TestOriginality(t *testing.T) {
	ctx := context.Background()
	ex := extract.NewOriginality(extract.NewLLM())

	Convey("Given an original repository", t, func() {
		out := ex.Evaluate(ctx, record(nil))

		Convey("Then it scores full originality", func() {
			So(out.Unavailable, ShouldBeFalse)
			So(out.Value, ShouldEqual, 1.0)
		})
	})

	Convey("Given a fork with near-zero divergence", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Originality = model.OriginalityForked
			r.ForkDiffRatio = 0.01
			r.Stars = 90_000 // upstream popularity must not rescue it
		})
		out := ex.Evaluate(ctx, rec)

		Convey("Then it gets the strong penalty value", func() {
			So(out.Value, ShouldEqual, 0.05)
		})
	})

	Convey("Given a fork with substantial divergence", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Originality = model.OriginalityForked
			r.ForkDiffRatio = 0.5
		})
		out := ex.Evaluate(ctx, rec)

		Convey("Then the score grows with divergence but stays below original", func() {
			So(out.Value, ShouldBeGreaterThan, 0.05)
			So(out.Value, ShouldBeLessThan, 1.0)
		})
	})

	Convey("Given a fork with no size delta and identical descriptions", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Originality = model.OriginalityForked
			r.ForkDiffRatio = -1
			r.ParentDescription = r.Description
		})
		out := ex.Evaluate(ctx, rec)

		Convey("Then description similarity stands in for the diff ratio", func() {
			So(out.Unavailable, ShouldBeFalse)
			So(out.Value, ShouldEqual, 0.05)
		})
	})

	Convey("Given an inaccessible repository", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Originality = model.OriginalityUnknown
		})
		out := ex.Evaluate(ctx, rec)

		Convey("Then the signal is unavailable, not zero", func() {
			So(out.Unavailable, ShouldBeTrue)
			So(out.Reason, ShouldNotBeEmpty)
		})
	})
}

func TestContribution(t *testing.T) {
	ctx := context.Background()
	ex := extract.NewContribution()

	Convey("Given a repository with recorded commits", t, func() {
		out := ex.Evaluate(ctx, record(nil))

		Convey("Then the authored fraction is owner over total", func() {
			So(out.Unavailable, ShouldBeFalse)
			So(out.Value, ShouldAlmostEqual, 0.8)
		})
	})

	Convey("Given unobtainable commit history", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.OwnerContributions = -1
			r.TotalContributions = -1
		})
		out := ex.Evaluate(ctx, rec)

		Convey("Then the signal degrades to unavailable", func() {
			So(out.Unavailable, ShouldBeTrue)
		})
	})

	Convey("Given an empty repository", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.OwnerContributions = 0
			r.TotalContributions = 0
		})
		out := ex.Evaluate(ctx, rec)

		Convey("Then there is nothing to score", func() {
			So(out.Unavailable, ShouldBeTrue)
		})
	})
}

func TestTrustHeuristic(t *testing.T) {
	ctx := context.Background()
	h := extract.NewTrustHeuristic()

	Convey("Given a plain repository", t, func() {
		flags := h.Flags(ctx, record(nil))

		Convey("Then no flags are raised", func() {
			So(flags, ShouldBeEmpty)
		})
	})

	Convey("Given a bootstrapped template README", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Readme = "This project was bootstrapped with Create React App."
		})
		flags := h.Flags(ctx, rec)

		Convey("Then the boilerplate flag is raised", func() {
			So(flags, ShouldContain, extract.FlagBoilerplate)
		})
	})

	Convey("Given many stars and no forks", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Stars = 5000
			r.Forks = 0
		})
		flags := h.Flags(ctx, rec)

		Convey("Then the star ratio flag is raised", func() {
			So(flags, ShouldContain, extract.FlagStarRatio)
		})
	})

	Convey("Given commits with none authored by the owner", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.OwnerContributions = 0
			r.TotalContributions = 30
		})
		flags := h.Flags(ctx, rec)

		Convey("Then the no-author-commits flag is raised", func() {
			So(flags, ShouldContain, extract.FlagNoAuthorCommits)
		})
	})

	Convey("Given a single-line content dump", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Readme = strings.Repeat("x", 2000)
		})
		flags := h.Flags(ctx, rec)

		Convey("Then the minified flag is raised", func() {
			So(flags, ShouldContain, extract.FlagMinified)
		})
	})
}

func TestSummarizer(t *testing.T) {
	ctx := context.Background()
	s := extract.NewSummarizer(extract.NewLLM())

	Convey("Given a README", t, func() {
		summary, quality := s.Summarize(ctx, record(nil))

		Convey("Then a non-empty summary and a high quality value come back", func() {
			So(summary, ShouldNotBeEmpty)
			So(quality.Unavailable, ShouldBeFalse)
			So(quality.Value, ShouldBeGreaterThan, 0.5)
		})
	})

	Convey("Given only a description", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Readme = ""
			r.HasReadme = false
		})
		summary, quality := s.Summarize(ctx, rec)

		Convey("Then the description backs a lower quality summary", func() {
			So(summary, ShouldNotBeEmpty)
			So(quality.Value, ShouldBeLessThan, 0.5)
		})
	})

	Convey("Given no content at all", t, func() {
		rec := record(func(r *model.ProjectRecord) {
			r.Readme = ""
			r.HasReadme = false
			r.Description = ""
		})
		summary, quality := s.Summarize(ctx, rec)

		Convey("Then a fixed summary is used and quality is unavailable", func() {
			So(summary, ShouldNotBeEmpty)
			So(quality.Unavailable, ShouldBeTrue)
		})
	})
}

func TestLLMOffline(t *testing.T) {
	ctx := context.Background()
	llm := extract.NewLLM()

	Convey("Given the offline capability", t, func() {
		So(llm.Online(), ShouldBeFalse)

		Convey("When summarizing multi-sentence text", func() {
			out, err := llm.Summarize(ctx, "First point. Second point. Third point. Fourth point.", 2)

			Convey("Then only the leading sentences survive", func() {
				So(err, ShouldBeNil)
				So(out, ShouldEqual, "First point. Second point.")
			})
		})

		Convey("When comparing identical texts", func() {
			sim, err := llm.Similarity(ctx, "terminal widget library", "terminal widget library")

			Convey("Then similarity is maximal", func() {
				So(err, ShouldBeNil)
				So(sim, ShouldEqual, 1.0)
			})
		})

		Convey("When comparing unrelated texts", func() {
			sim, err := llm.Similarity(ctx, "terminal widget library", "blockchain consensus node")

			Convey("Then similarity is zero", func() {
				So(err, ShouldBeNil)
				So(sim, ShouldEqual, 0)
			})
		})
	})
}

func TestRegistryApply(t *testing.T) {
	ctx := context.Background()
	reg := extract.NewRegistry(extract.NewLLM())

	Convey("Given a healthy record", t, func() {
		rec := record(nil)
		res := reg.Apply(ctx, rec)

		Convey("Then all three signals are present", func() {
			So(res.Signals, ShouldContainKey, model.SignalOriginality)
			So(res.Signals, ShouldContainKey, model.SignalContribution)
			So(res.Signals, ShouldContainKey, model.SignalSummaryQuality)
		})

		Convey("And a summary is produced", func() {
			So(res.Summary, ShouldNotBeEmpty)
		})

		Convey("And the record is untouched", func() {
			So(rec.Signals, ShouldBeNil)
			So(rec.Summary, ShouldBeEmpty)
		})
	})
}
