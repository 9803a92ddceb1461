package elo

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/okian/credrank/internal/domain/model"
	"github.com/okian/credrank/pkg/metrics"
)

// Entry is one rated candidate inside a pool.
type Entry struct {
	CandidateID string     `json:"candidate_id"`
	Role        model.Role `json:"role"`
	Rating      float64    `json:"rating"`
	Score       float64    `json:"score"` // Candidate Score behind the rating
	Matches     int        `json:"matches"`
	Arrival     uint64     `json:"-"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RankedEntry is an Entry with its leaderboard position.
type RankedEntry struct {
	Entry
	Rank int `json:"rank"`
}

// Pool is the per-role rating pool. All writes are serialized by the pool
// lock; reads take consistent snapshots under the read lock. Ratings are
// meaningless outside their pool.
type Pool struct {
	mu      sync.RWMutex
	role    model.Role
	entries map[string]*Entry
	root    *node

	arrivalSeq uint64
	matchTotal uint64

	opponents int
	epsilon   float64
	rng       *rand.Rand
}

func newPool(role model.Role, opponents int, epsilon float64, seed int64) *Pool {
	if opponents < 1 {
		opponents = defaultOpponents
	}
	return &Pool{
		role:      role,
		entries:   make(map[string]*Entry),
		opponents: opponents,
		epsilon:   epsilon,
		rng:       rand.New(rand.NewSource(seed)), //nolint:gosec // sampling needs no crypto rand
	}
}

// Rank inserts or re-enters a candidate with the given Candidate Score and
// plays its sampled matches. Re-entry with a score within the tolerance is a
// no-op so rescoring storms cannot thrash ratings.
func (p *Pool) Rank(candidateID string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[candidateID]; ok {
		if diff := score - e.Score; diff < p.epsilon && diff > -p.epsilon {
			return
		}
		// Material rescore: back to the affine starting point.
		p.root = deleteNode(p.root, e.CandidateID, toFixedPoint(e.Rating), e.Arrival)
		e.Score = score
		e.Rating = InitialRating(score)
		e.Matches = 0
		e.UpdatedAt = time.Now().UTC()
		p.root = insert(p.root, e.CandidateID, toFixedPoint(e.Rating), e.Arrival, p.rng.Uint64())
		metrics.RecordEloReset()
		p.play(e)
		return
	}

	p.arrivalSeq++
	e := &Entry{
		CandidateID: candidateID,
		Role:        p.role,
		Rating:      InitialRating(score),
		Score:       score,
		Arrival:     p.arrivalSeq,
		UpdatedAt:   time.Now().UTC(),
	}
	p.entries[candidateID] = e
	p.root = insert(p.root, e.CandidateID, toFixedPoint(e.Rating), e.Arrival, p.rng.Uint64())
	metrics.UpdatePoolSize(string(p.role), len(p.entries))
	p.play(e)
}

// Remove drops a candidate from the pool. Reports whether it was present.
func (p *Pool) Remove(candidateID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[candidateID]
	if !ok {
		return false
	}
	p.root = deleteNode(p.root, e.CandidateID, toFixedPoint(e.Rating), e.Arrival)
	delete(p.entries, candidateID)
	metrics.UpdatePoolSize(string(p.role), len(p.entries))
	return true
}

// Get returns a copy of the candidate's entry.
func (p *Pool) Get(candidateID string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[candidateID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns up to limit entries in leaderboard order: rating desc,
// earliest arrival breaking ties. The slice is a consistent point-in-time
// view detached from the pool.
func (p *Pool) Snapshot(limit int) []RankedEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	metrics.RecordSnapshotRead()

	if limit < 1 || limit > len(p.entries) {
		limit = len(p.entries)
	}
	ids := make([]string, 0, limit)
	collectTopN(p.root, limit, &ids)

	out := make([]RankedEntry, 0, len(ids))
	for i, id := range ids {
		out = append(out, RankedEntry{Entry: *p.entries[id], Rank: i + 1})
	}
	return out
}

// Len returns the pool size.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// MatchesPlayed returns the pool's monotonic match counter.
func (p *Pool) MatchesPlayed() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matchTotal
}

// play samples opponents for e and plays one match against each. Caller
// holds the write lock.
func (p *Pool) play(e *Entry) {
	opponents := p.sample(e)
	for _, opp := range opponents {
		p.playMatch(e, opp)
		p.matchTotal++
		metrics.RecordEloMatch()
	}
}

// playMatch applies one Elo update pair. The outcome comes from the
// Candidate Scores, the expectation from the current ratings.
func (p *Pool) playMatch(a, b *Entry) {
	ea := expected(a.Rating, b.Rating)
	sa := outcome(a.Score, b.Score)

	deltaA := kFactor(a.Matches) * (sa - ea)
	deltaB := kFactor(b.Matches) * ((1 - sa) - (1 - ea))

	p.updateRating(a, a.Rating+deltaA)
	p.updateRating(b, b.Rating+deltaB)
	a.Matches++
	b.Matches++
	now := time.Now().UTC()
	a.UpdatedAt = now
	b.UpdatedAt = now
}

// updateRating moves an entry to its new rating, keeping the treap in sync.
func (p *Pool) updateRating(e *Entry, rating float64) {
	p.root = deleteNode(p.root, e.CandidateID, toFixedPoint(e.Rating), e.Arrival)
	e.Rating = rating
	p.root = insert(p.root, e.CandidateID, toFixedPoint(e.Rating), e.Arrival, p.rng.Uint64())
}

// sample picks up to p.opponents distinct opponents for e: one uniformly at
// random, the rest biased toward rating proximity. Pools at or below the
// sample size play everyone.
func (p *Pool) sample(e *Entry) []*Entry {
	pool := make([]*Entry, 0, len(p.entries)-1)
	for _, other := range p.entries {
		if other.CandidateID != e.CandidateID {
			pool = append(pool, other)
		}
	}
	if len(pool) <= p.opponents {
		return pool
	}
	// Deterministic base ordering so the seeded sampler is reproducible.
	sort.Slice(pool, func(i, j int) bool { return pool[i].Arrival < pool[j].Arrival })

	picked := make([]*Entry, 0, p.opponents)

	// At least one uniform pick keeps the sampling ergodic: distant ratings
	// must always have some chance to meet.
	idx := p.rng.Intn(len(pool))
	picked = append(picked, pool[idx])
	pool = append(pool[:idx], pool[idx+1:]...)

	for len(picked) < p.opponents && len(pool) > 0 {
		idx := p.weightedPick(e, pool)
		picked = append(picked, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return picked
}

// weightedPick draws an index from pool with probability proportional to
// rating proximity to e.
func (p *Pool) weightedPick(e *Entry, pool []*Entry) int {
	total := 0.0
	for _, opp := range pool {
		total += proximityWeight(e.Rating, opp.Rating)
	}
	r := p.rng.Float64() * total
	for i, opp := range pool {
		r -= proximityWeight(e.Rating, opp.Rating)
		if r <= 0 {
			return i
		}
	}
	return len(pool) - 1
}
