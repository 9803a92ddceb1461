// Package elo implements the sampling-based Elo ranking engine: per-role
// pools of rated candidates, similarity-biased opponent sampling and
// deterministic match outcomes derived from Candidate Scores.
package elo

import "math"

// Rating configuration constants.
const (
	// Affine initialization from a 0-100 Candidate Score.
	ratingBase  = 1000.0
	ratingSlope = 6.0

	// K-factor decays once a rating has stabilized.
	kFactorNew           = 32.0
	kFactorStable        = 16.0
	stabilizationMatches = 10

	// Opponent sampling bias: weight = 1 / (1 + |dR| / proximityScale).
	proximityScale = 100.0

	defaultOpponents = 5
	defaultEpsilon   = 1.0 // rescore tolerance in score points
)

// InitialRating maps a Candidate Score onto the rating scale.
func InitialRating(score float64) float64 {
	return ratingBase + ratingSlope*score
}

// kFactor returns the update step for an entry with the given match count.
func kFactor(matches int) float64 {
	if matches < stabilizationMatches {
		return kFactorNew
	}
	return kFactorStable
}

// expected is the standard Elo expectation of a win against opponent.
func expected(rating, opponent float64) float64 {
	return 1 / (1 + math.Pow(10, (opponent-rating)/400))
}

// outcome derives the match result from the two Candidate Scores: the higher
// verified score wins, equal scores draw. No randomness on purpose, matches
// exist to converge ratings, not to simulate games.
func outcome(score, opponentScore float64) float64 {
	switch {
	case score > opponentScore:
		return 1
	case score < opponentScore:
		return 0
	default:
		return 0.5
	}
}

// proximityWeight biases opponent sampling toward similar ratings.
func proximityWeight(ratingA, ratingB float64) float64 {
	return 1 / (1 + math.Abs(ratingA-ratingB)/proximityScale)
}
