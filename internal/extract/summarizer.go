package extract

import (
	"context"

	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/pkg/logger"
)

// Summary quality values by content source.
const (
	readmeSentences      = 3
	descriptionSentences = 1

	qualitySummarized      = 0.9
	qualityReadmeFallback  = 0.5
	qualityDescriptionOnly = 0.45

	noContentSummary = "No README or description available for this project."
)

// Summarizer produces a short project summary plus the summary-quality
// signal. Summarization failure is never fatal: it falls back to the raw
// description and a lower quality value.
type Summarizer struct {
	llm *LLM
	log logger.Logger
}

// NewSummarizer creates the summarizer agent.
func NewSummarizer(llm *LLM) *Summarizer {
	return &Summarizer{llm: llm, log: logger.Named("summarizer")}
}

// Summarize returns the summary text and the quality outcome for rec.
func (s *Summarizer) Summarize(ctx context.Context, rec *model.ProjectRecord) (string, model.SignalOutcome) {
	switch {
	case rec.Readme != "":
		summary, err := s.llm.Summarize(ctx, rec.Readme, readmeSentences)
		if err == nil && summary != "" {
			return summary, model.SignalOutcome{Name: model.SignalSummaryQuality, Value: qualitySummarized}
		}
		s.log.Warn(ctx, "summarization failed, falling back to description",
			logger.String("url", rec.URL), logger.Error(err))
		fallback := rec.Description
		if fallback == "" {
			fallback = leadingSentences(rec.Readme, descriptionSentences)
		}
		return fallback, model.SignalOutcome{Name: model.SignalSummaryQuality, Value: qualityReadmeFallback}

	case rec.Description != "":
		summary, err := s.llm.Summarize(ctx, rec.Description, descriptionSentences)
		if err != nil || summary == "" {
			summary = rec.Description
		}
		return summary, model.SignalOutcome{Name: model.SignalSummaryQuality, Value: qualityDescriptionOnly}

	default:
		return noContentSummary, model.Unavailable(model.SignalSummaryQuality, "no content to summarize")
	}
}
