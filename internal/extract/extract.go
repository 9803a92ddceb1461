// Package extract implements the signal extractors that turn a crawled
// ProjectRecord into named signals, trust flags and a short summary.
// Extractors are read-only on the record; the crawl orchestrator owns
// writing their outcomes back before finalizing.
package extract

import (
	"context"

	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/pkg/logger"
	"github.com/okian/credrank/pkg/metrics"
)

// Extractor computes one named signal for a project.
type Extractor interface {
	// Name is the signal name the outcome is keyed by.
	Name() string
	// Evaluate inspects the record and returns a value in [0,1] or an
	// Unavailable outcome with the reason.
	Evaluate(ctx context.Context, rec *model.ProjectRecord) model.SignalOutcome
}

// Result is everything the extractor set produced for one record.
type Result struct {
	Signals map[string]model.SignalOutcome
	Flags   []string
	Summary string
}

// Registry holds the fixed extractor set, assembled once at startup.
type Registry struct {
	extractors []Extractor
	heuristic  *TrustHeuristic
	summarizer *Summarizer
	log        logger.Logger
}

// NewRegistry assembles the standard set: originality, contribution, the
// trust heuristic and the summarizer, all sharing one LLM capability.
func NewRegistry(llm *LLM) *Registry {
	if llm == nil {
		llm = NewLLM()
	}
	return &Registry{
		extractors: []Extractor{
			NewOriginality(llm),
			NewContribution(),
		},
		heuristic:  NewTrustHeuristic(),
		summarizer: NewSummarizer(llm),
		log:        logger.Named("extract"),
	}
}

// Apply runs every extractor against rec and collects the outcomes. The
// record itself is not modified.
func (r *Registry) Apply(ctx context.Context, rec *model.ProjectRecord) Result {
	res := Result{Signals: make(map[string]model.SignalOutcome, len(r.extractors)+1)}

	for _, ex := range r.extractors {
		out := ex.Evaluate(ctx, rec)
		res.Signals[out.Name] = out
		recordOutcome(ex.Name(), out)
		if out.Unavailable {
			r.log.Debug(ctx, "signal unavailable",
				logger.String("signal", ex.Name()),
				logger.String("url", rec.URL),
				logger.String("reason", out.Reason))
		}
	}

	summary, quality := r.summarizer.Summarize(ctx, rec)
	res.Summary = summary
	res.Signals[quality.Name] = quality
	recordOutcome(model.SignalSummaryQuality, quality)

	res.Flags = r.heuristic.Flags(ctx, rec)
	return res
}

func recordOutcome(name string, out model.SignalOutcome) {
	if out.Unavailable {
		metrics.RecordSignalOutcome(name, "unavailable")
		return
	}
	metrics.RecordSignalOutcome(name, "ok")
}
