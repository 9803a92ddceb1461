package extract

import (
	"context"
	"math"

	"github.com/okian/credrank/internal/domain/model"
)

// Originality value constants.
const (
	// forkDiffThreshold is the changed-size ratio below which a fork counts
	// as effectively unmodified.
	forkDiffThreshold = 0.05

	originalValue       = 1.0
	templatedValue      = 0.35
	unmodifiedForkValue = 0.05
	forkFloorValue      = 0.40
	forkSlope           = 0.40
)

// Originality scores how much of the project is the candidate's own work.
// Forks with near-zero divergence from upstream get a strong penalty no
// matter how many stars the upstream has.
type Originality struct {
	llm *LLM
}

// NewOriginality creates the originality extractor.
func NewOriginality(llm *LLM) *Originality {
	return &Originality{llm: llm}
}

// Name returns the signal name.
func (o *Originality) Name() string { return model.SignalOriginality }

// Evaluate maps the record's originality classification to a score.
func (o *Originality) Evaluate(ctx context.Context, rec *model.ProjectRecord) model.SignalOutcome {
	switch rec.Originality {
	case model.OriginalityOriginal:
		return model.SignalOutcome{Name: o.Name(), Value: originalValue}
	case model.OriginalityTemplated:
		return model.SignalOutcome{Name: o.Name(), Value: templatedValue}
	case model.OriginalityForked:
		return o.scoreFork(ctx, rec)
	default:
		return model.Unavailable(o.Name(), "repository inaccessible")
	}
}

func (o *Originality) scoreFork(ctx context.Context, rec *model.ProjectRecord) model.SignalOutcome {
	ratio := rec.ForkDiffRatio
	if ratio < 0 {
		// No size delta from the host; estimate divergence from how far the
		// fork's description drifted from the upstream's.
		if rec.Description == "" || rec.ParentDescription == "" {
			return model.Unavailable(o.Name(), "fork divergence unknown")
		}
		sim, err := o.llm.Similarity(ctx, rec.Description, rec.ParentDescription)
		if err != nil {
			return model.Unavailable(o.Name(), "fork divergence unknown")
		}
		ratio = 1 - sim
	}
	if ratio < forkDiffThreshold {
		return model.SignalOutcome{Name: o.Name(), Value: unmodifiedForkValue}
	}
	value := forkFloorValue + forkSlope*math.Min(ratio, 1)
	return model.SignalOutcome{Name: o.Name(), Value: value}
}
