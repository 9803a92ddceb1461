package model

// LeaderboardEntry is the read shape returned by leaderboard queries: the
// candidate's standing in their role pool plus the evidence behind it.
type LeaderboardEntry struct {
	Rank        int      `json:"rank"`
	CandidateID string   `json:"candidate_id"`
	Rating      float64  `json:"rating"`
	Score       float64  `json:"score"`
	Matches     int      `json:"matches"`
	TopProjects []string `json:"top_projects,omitempty"`
}
