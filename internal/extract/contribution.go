package extract

import (
	"context"

	"github.com/okian/credrank/internal/domain/model"
)

// Contribution scores the fraction of recorded commits authored by the
// repository owner. History that cannot be obtained degrades confidence
// downstream instead of failing the record.
type Contribution struct{}

// NewContribution creates the contribution extractor.
func NewContribution() *Contribution { return &Contribution{} }

// Name returns the signal name.
func (c *Contribution) Name() string { return model.SignalContribution }

// Evaluate computes the authored fraction from the contributors listing.
func (c *Contribution) Evaluate(_ context.Context, rec *model.ProjectRecord) model.SignalOutcome {
	switch {
	case rec.TotalContributions < 0:
		return model.Unavailable(c.Name(), "commit history unavailable")
	case rec.TotalContributions == 0:
		return model.Unavailable(c.Name(), "no recorded commits")
	}
	frac := float64(rec.OwnerContributions) / float64(rec.TotalContributions)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return model.SignalOutcome{Name: c.Name(), Value: frac}
}
