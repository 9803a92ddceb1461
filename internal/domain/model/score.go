package model

// Confidence qualifies a TrustScore by whether every contributing signal was
// actually obtainable.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// TrustScore is the 0-100 verified-contribution measure for one project.
type TrustScore struct {
	Value      float64    `json:"value"`
	Confidence Confidence `json:"confidence"`
}

// UnscoredReasonInsufficientData marks candidates with zero usable projects.
const UnscoredReasonInsufficientData = "insufficient_data"

// CandidateScore aggregates a candidate's TrustScores. A candidate with no
// usable projects is Unscored — never defaulted to zero, which would be
// indistinguishable from a verified-bad candidate.
type CandidateScore struct {
	Value    float64 `json:"value"`
	Unscored bool    `json:"unscored,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Projects int     `json:"projects"` // usable projects behind the aggregate
}

// Unscored constructs the terminal "no usable evidence" score.
func UnscoredCandidate() CandidateScore {
	return CandidateScore{Unscored: true, Reason: UnscoredReasonInsufficientData}
}
