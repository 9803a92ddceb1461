package model

import "time"

// OriginalityFlag classifies how much of a project is the candidate's own.
type OriginalityFlag string

const (
	OriginalityOriginal  OriginalityFlag = "original"
	OriginalityForked    OriginalityFlag = "forked"
	OriginalityTemplated OriginalityFlag = "templated"
	OriginalityUnknown   OriginalityFlag = "unknown"
)

// FetchStatus is the terminal outcome of crawling one project URL.
type FetchStatus string

const (
	FetchOk        FetchStatus = "ok"         // everything requested was fetched
	FetchPartialOk FetchStatus = "partial_ok" // identity resolved, some content missing
	FetchFailed    FetchStatus = "failed"     // nothing usable beyond the URL itself
)

// ErrorKind mirrors the fetcher's error taxonomy for persisted records.
type ErrorKind string

const (
	ErrKindNone        ErrorKind = ""
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindNotFound    ErrorKind = "not_found"
	ErrKindForbidden   ErrorKind = "forbidden"
	ErrKindTransient   ErrorKind = "transient"
)

// Signal names produced by the extractor set.
const (
	SignalOriginality    = "originality"
	SignalContribution   = "contribution"
	SignalSummaryQuality = "summary_quality"
)

// SignalOutcome is one extractor's verdict on a project: either a value in
// [0,1] or an Unavailable marker with the reason it could not be computed.
type SignalOutcome struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Unavailable bool    `json:"unavailable,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Unavailable constructs an unavailable outcome for a named signal.
func Unavailable(name, reason string) SignalOutcome {
	return SignalOutcome{Name: name, Unavailable: true, Reason: reason}
}

// ProjectRecord is the normalized result of crawling one project URL for one
// candidate. Records are immutable once finalized by the orchestrator.
// Inaccessible projects are still recorded (originality unknown, fetch
// failed) so scoring is not silently biased toward candidates whose broken
// links simply vanished.
type ProjectRecord struct {
	URL         string          `json:"url"`
	Owner       string          `json:"owner,omitempty"`
	Repo        string          `json:"repo,omitempty"`
	Originality OriginalityFlag `json:"originality"`

	Stars       int      `json:"stars"`
	Forks       int      `json:"forks"`
	Topics      []string `json:"topics,omitempty"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`

	HasReadme bool   `json:"has_readme"`
	Readme    string `json:"-"` // content feeds extractors, not API responses
	Summary   string `json:"summary,omitempty"`

	// Fork lineage, populated when the host reports an upstream parent.
	ParentFullName    string  `json:"parent_full_name,omitempty"`
	ParentDescription string  `json:"-"`
	ForkDiffRatio     float64 `json:"fork_diff_ratio,omitempty"` // changed-size ratio vs upstream; -1 unknown

	// Commit authorship totals from the contributors listing; -1 unknown.
	OwnerContributions int `json:"owner_contributions"`
	TotalContributions int `json:"total_contributions"`

	DepthReached int         `json:"depth_reached"`
	FetchStatus  FetchStatus `json:"fetch_status"`
	FailureKind  ErrorKind   `json:"failure_kind,omitempty"`

	// Signals holds per-extractor outcomes keyed by signal name.
	Signals map[string]SignalOutcome `json:"signals,omitempty"`

	// Flags are trust-heuristic inflation markers (boilerplate, minified, ...).
	Flags []string `json:"flags,omitempty"`

	PushedAt    time.Time `json:"pushed_at,omitempty"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Usable reports whether the record carries enough verified content to feed
// the trust scorer at all.
func (r *ProjectRecord) Usable() bool {
	return r.FetchStatus != FetchFailed
}

// Signal returns the outcome for name, or an Unavailable placeholder when
// the extractor never ran.
func (r *ProjectRecord) Signal(name string) SignalOutcome {
	if out, ok := r.Signals[name]; ok {
		return out
	}
	return Unavailable(name, "extractor did not run")
}
