// Package trust computes per-project Trust Scores and the candidate-level
// aggregate. Both operations are pure: same records in, same scores out, so
// any candidate can be rescored at any time.
package trust

import (
	"errors"

	"github.com/okian/credrank/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultOriginalityWeight  = 0.4
	defaultContributionWeight = 0.4
	defaultSummaryWeight      = 0.2

	defaultFlagPenalty = 5.0  // points per raised trust flag
	defaultPenaltyCap  = 15.0 // additive penalty ceiling

	lowConfidenceWeight = 0.5 // aggregate weight for Low confidence scores
	maxScoreValue       = 100.0
)

// ErrInsufficientData is returned when a candidate has zero usable projects.
var ErrInsufficientData = errors.New("insufficient data to score candidate")

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithWeights overrides the signal weights. Weights must be positive; they
// are normalized internally so callers need not make them sum to one.
func WithWeights(originality, contribution, summary float64) Option {
	return func(s *Scorer) {
		if originality > 0 && contribution > 0 && summary > 0 {
			s.wOriginality = originality
			s.wContribution = contribution
			s.wSummary = summary
		}
	}
}

// WithFlagPenalty overrides the per-flag penalty and its ceiling.
func WithFlagPenalty(perFlag, ceiling float64) Option {
	return func(s *Scorer) {
		if perFlag >= 0 && ceiling >= 0 {
			s.flagPenalty = perFlag
			s.penaltyCap = ceiling
		}
	}
}

// Scorer holds the weighting configuration for trust scoring.
type Scorer struct {
	wOriginality  float64
	wContribution float64
	wSummary      float64
	flagPenalty   float64
	penaltyCap    float64
}

// NewScorer creates a scorer with default weights.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		wOriginality:  defaultOriginalityWeight,
		wContribution: defaultContributionWeight,
		wSummary:      defaultSummaryWeight,
		flagPenalty:   defaultFlagPenalty,
		penaltyCap:    defaultPenaltyCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the TrustScore for one finalized record. Unavailable
// signals drop out of the weighted mean (the remaining weights are
// renormalized) and force Low confidence; they never count as zero, which
// would punish candidates for unobtainable history rather than bad work.
func (s *Scorer) Score(rec *model.ProjectRecord) model.TrustScore {
	weights := map[string]float64{
		model.SignalOriginality:    s.wOriginality,
		model.SignalContribution:   s.wContribution,
		model.SignalSummaryQuality: s.wSummary,
	}

	var sum, weightSum float64
	degraded := rec.FetchStatus != model.FetchOk
	for name, w := range weights {
		out := rec.Signal(name)
		if out.Unavailable {
			degraded = true
			continue
		}
		sum += w * clamp01(out.Value) * maxScoreValue
		weightSum += w
	}

	score := 0.0
	if weightSum > 0 {
		score = sum / weightSum
	}
	score -= s.penalty(rec.Flags)
	score = clamp(score, 0, maxScoreValue)

	confidence := model.ConfidenceHigh
	if degraded {
		confidence = model.ConfidenceLow
	}
	return model.TrustScore{Value: score, Confidence: confidence}
}

// Aggregate folds per-project scores into the CandidateScore: a confidence-
// weighted mean over usable projects. Records where every signal was
// Unavailable carry no evidence either way; they are excluded rather than
// dragging the mean toward zero. Zero usable projects yields Unscored.
// Records and scores are parallel slices from the same crawl.
func (s *Scorer) Aggregate(records []model.ProjectRecord, scores []model.TrustScore) model.CandidateScore {
	var sum, weightSum float64
	usable := 0
	for i := range records {
		if i >= len(scores) || !records[i].Usable() || !s.hasEvidence(&records[i]) {
			continue
		}
		w := 1.0
		if scores[i].Confidence == model.ConfidenceLow {
			w = lowConfidenceWeight
		}
		sum += w * scores[i].Value
		weightSum += w
		usable++
	}

	if usable == 0 || weightSum == 0 {
		return model.UnscoredCandidate()
	}
	return model.CandidateScore{
		Value:    clamp(sum/weightSum, 0, maxScoreValue),
		Projects: usable,
	}
}

// hasEvidence reports whether at least one scored signal was available.
// A reachable URL whose extractors all came back Unavailable (a personal
// site, a host the fetcher cannot inspect) proves nothing about the work.
func (s *Scorer) hasEvidence(rec *model.ProjectRecord) bool {
	for _, name := range []string{model.SignalOriginality, model.SignalContribution, model.SignalSummaryQuality} {
		if !rec.Signal(name).Unavailable {
			return true
		}
	}
	return false
}

// penalty is the capped additive deduction for raised trust flags.
func (s *Scorer) penalty(flags []string) float64 {
	p := s.flagPenalty * float64(len(flags))
	if p > s.penaltyCap {
		p = s.penaltyCap
	}
	return p
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
