// Package report assembles the candidate report: the aggregate score, the
// current rating and every finalized project record with its trust score.
// The same data renders as JSON (the API's default) or as Markdown.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/credrank/internal/domain/model"
)

// Project pairs a finalized record with its trust score.
type Project struct {
	Record model.ProjectRecord `json:"record"`
	Trust  model.TrustScore    `json:"trust"`
}

// Report is the full per-candidate view.
type Report struct {
	CandidateID string     `json:"candidate_id"`
	Role        model.Role `json:"role"`
	SubmittedAt time.Time  `json:"submitted_at"`

	Score          model.CandidateScore `json:"score"`
	UnscoredReason string               `json:"unscored_reason,omitempty"`

	// Rating is zero and Ranked false until the candidate enters a pool.
	Rating  float64 `json:"rating,omitempty"`
	Matches int     `json:"matches,omitempty"`
	Ranked  bool    `json:"ranked"`

	Projects  []Project `json:"projects"`
	OtherURLs []string  `json:"other_urls,omitempty"`
}

// New assembles a report. Records and trust scores are parallel slices, as
// the repository returns them.
func New(profile model.CandidateProfile, score model.CandidateScore, records []model.ProjectRecord, trust []model.TrustScore) Report {
	r := Report{
		CandidateID: profile.ID,
		Role:        profile.Role,
		SubmittedAt: profile.SubmittedAt,
		Score:       score,
		OtherURLs:   profile.OtherURLs,
		Projects:    make([]Project, 0, len(records)),
	}
	if score.Unscored {
		r.UnscoredReason = score.Reason
	}
	for i := range records {
		p := Project{Record: records[i]}
		if i < len(trust) {
			p.Trust = trust[i]
		}
		r.Projects = append(r.Projects, p)
	}
	return r
}

// WithRating attaches the candidate's pool standing.
func (r Report) WithRating(rating float64, matches int) Report {
	r.Rating = rating
	r.Matches = matches
	r.Ranked = true
	return r
}

// Markdown renders the report as a human-readable document.
func (r Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Candidate Report: %s\n\n", r.CandidateID)
	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- **Role:** %s\n", r.Role)
	fmt.Fprintf(&b, "- **Submitted:** %s\n", r.SubmittedAt.Format(time.RFC3339))
	if r.Score.Unscored {
		fmt.Fprintf(&b, "- **Overall Score:** unscored (%s)\n", r.Score.Reason)
	} else {
		fmt.Fprintf(&b, "- **Overall Score:** %.2f (from %d projects)\n", r.Score.Value, r.Score.Projects)
	}
	if r.Ranked {
		fmt.Fprintf(&b, "- **Rating:** %.1f after %d matches\n", r.Rating, r.Matches)
	} else {
		b.WriteString("- **Rating:** not ranked yet\n")
	}

	b.WriteString("\n## Projects\n\n")
	if len(r.Projects) == 0 {
		b.WriteString("No projects were analyzed.\n")
	}
	for _, p := range r.Projects {
		rec := p.Record
		name := rec.URL
		if rec.Owner != "" && rec.Repo != "" {
			name = rec.Owner + "/" + rec.Repo
		}
		fmt.Fprintf(&b, "### [%s](%s)\n\n", name, rec.URL)
		fmt.Fprintf(&b, "- **Fetch status:** %s\n", rec.FetchStatus)
		if rec.FailureKind != "" {
			fmt.Fprintf(&b, "- **Error:** %s\n", rec.FailureKind)
		}
		if rec.Usable() {
			fmt.Fprintf(&b, "- **Trust:** %.1f (%s confidence)\n", p.Trust.Value, p.Trust.Confidence)
			fmt.Fprintf(&b, "- **Originality:** %s\n", rec.Originality)
			if rec.Description != "" {
				fmt.Fprintf(&b, "- **Description:** %s\n", rec.Description)
			}
			fmt.Fprintf(&b, "- **Stars:** %d, **Forks:** %d\n", rec.Stars, rec.Forks)
			if rec.Summary != "" {
				fmt.Fprintf(&b, "- **Summary:** %s\n", rec.Summary)
			}
			writeSignals(&b, rec)
			if len(rec.Flags) > 0 {
				fmt.Fprintf(&b, "- **Flags:** %s\n", strings.Join(rec.Flags, ", "))
			}
		}
		b.WriteString("\n")
	}

	if len(r.OtherURLs) > 0 {
		b.WriteString("## Other Links\n\n")
		b.WriteString("These were found in the resume but are not repositories:\n\n")
		for _, u := range r.OtherURLs {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}

	return b.String()
}

func writeSignals(b *strings.Builder, rec model.ProjectRecord) {
	if len(rec.Signals) == 0 {
		return
	}
	names := make([]string, 0, len(rec.Signals))
	for name := range rec.Signals {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("- **Signals:**\n")
	for _, name := range names {
		sig := rec.Signals[name]
		if sig.Unavailable {
			fmt.Fprintf(b, "  - %s: unavailable (%s)\n", name, sig.Reason)
			continue
		}
		fmt.Fprintf(b, "  - %s: %.2f\n", name, sig.Value)
	}
}
