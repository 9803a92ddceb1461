package extract

import (
	"context"
	"strings"

	"github.com/okian/credrank/internal/domain/model"
)

// Trust flags raised by the heuristic agent.
const (
	FlagBoilerplate     = "boilerplate"
	FlagMinified        = "minified"
	FlagStarRatio       = "suspicious_star_ratio"
	FlagNoAuthorCommits = "no_author_commits"
)

// Heuristic thresholds.
const (
	minifiedLineLength = 1000
	starRatioThreshold = 50
	starRatioMinStars  = 100
)

// templateMarkers are README phrases that scaffolding tools emit verbatim.
var templateMarkers = []string{
	"this project was bootstrapped with",
	"getting started with create react app",
	"generated with angular cli",
	"this template should help get you started",
	"look at the nuxt 3 documentation",
}

// TrustHeuristic derives inflation flags from a record. Flags feed the
// trust scorer's penalty term; they are not a scored signal themselves.
type TrustHeuristic struct{}

// NewTrustHeuristic creates the heuristic agent.
func NewTrustHeuristic() *TrustHeuristic { return &TrustHeuristic{} }

// Flags returns every heuristic that matched the record.
func (h *TrustHeuristic) Flags(_ context.Context, rec *model.ProjectRecord) []string {
	var flags []string

	if h.looksBoilerplate(rec) {
		flags = append(flags, FlagBoilerplate)
	}
	if h.looksMinified(rec) {
		flags = append(flags, FlagMinified)
	}
	if rec.Stars >= starRatioMinStars && rec.Stars > starRatioThreshold*max(rec.Forks, 1) {
		flags = append(flags, FlagStarRatio)
	}
	if rec.TotalContributions > 0 && rec.OwnerContributions == 0 {
		flags = append(flags, FlagNoAuthorCommits)
	}
	return flags
}

func (h *TrustHeuristic) looksBoilerplate(rec *model.ProjectRecord) bool {
	for _, topic := range rec.Topics {
		if topic == "template" || topic == "boilerplate" || topic == "starter" {
			return true
		}
	}
	readme := strings.ToLower(rec.Readme)
	for _, marker := range templateMarkers {
		if strings.Contains(readme, marker) {
			return true
		}
	}
	return false
}

// looksMinified catches single-line content dumps masquerading as docs.
func (h *TrustHeuristic) looksMinified(rec *model.ProjectRecord) bool {
	if rec.Readme == "" {
		return false
	}
	for _, line := range strings.Split(rec.Readme, "\n") {
		if len(line) > minifiedLineLength {
			return true
		}
	}
	return false
}
