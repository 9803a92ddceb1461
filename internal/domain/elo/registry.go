package elo

import (
	"sync"
	"time"

	"github.com/okian/credrank/internal/domain/model"
)

// Registry owns the per-role pools and enforces that a candidate belongs to
// exactly one pool at a time. Role reassignment removes the old entry and
// re-initializes in the new pool: ratings never travel between pools.
type Registry struct {
	mu         sync.Mutex
	pools      map[model.Role]*Pool
	membership map[string]model.Role

	opponents int
	epsilon   float64
	seed      int64
}

// RegistryOption applies a configuration option to the Registry.
type RegistryOption func(*Registry)

// WithOpponents sets the per-arrival opponent sample size.
func WithOpponents(k int) RegistryOption {
	return func(r *Registry) {
		if k > 0 {
			r.opponents = k
		}
	}
}

// WithRescoreEpsilon sets the re-entry tolerance in score points.
func WithRescoreEpsilon(eps float64) RegistryOption {
	return func(r *Registry) {
		if eps >= 0 {
			r.epsilon = eps
		}
	}
}

// WithSeed fixes the sampling seed for reproducible runs.
func WithSeed(seed int64) RegistryOption {
	return func(r *Registry) { r.seed = seed }
}

// NewRegistry creates an empty pool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		pools:      make(map[model.Role]*Pool),
		membership: make(map[string]model.Role),
		opponents:  defaultOpponents,
		epsilon:    defaultEpsilon,
		seed:       time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank places the candidate in its role pool with the given Candidate
// Score, moving it between pools if the role changed.
func (r *Registry) Rank(candidateID string, role model.Role, score float64) {
	r.mu.Lock()
	if prev, ok := r.membership[candidateID]; ok && prev != role {
		if old := r.pools[prev]; old != nil {
			old.Remove(candidateID)
		}
	}
	r.membership[candidateID] = role
	pool := r.poolLocked(role)
	r.mu.Unlock()

	pool.Rank(candidateID, score)
}

// Remove drops the candidate from whichever pool holds it.
func (r *Registry) Remove(candidateID string) bool {
	r.mu.Lock()
	role, ok := r.membership[candidateID]
	if ok {
		delete(r.membership, candidateID)
	}
	pool := r.pools[role]
	r.mu.Unlock()

	if !ok || pool == nil {
		return false
	}
	return pool.Remove(candidateID)
}

// Entry returns the candidate's current pool entry.
func (r *Registry) Entry(candidateID string) (Entry, bool) {
	r.mu.Lock()
	role, ok := r.membership[candidateID]
	pool := r.pools[role]
	r.mu.Unlock()

	if !ok || pool == nil {
		return Entry{}, false
	}
	return pool.Get(candidateID)
}

// Leaderboard returns the role pool's top entries.
func (r *Registry) Leaderboard(role model.Role, limit int) []RankedEntry {
	r.mu.Lock()
	pool := r.pools[role]
	r.mu.Unlock()

	if pool == nil {
		return nil
	}
	return pool.Snapshot(limit)
}

// PoolSizes reports the current entry count per role.
func (r *Registry) PoolSizes() map[model.Role]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[model.Role]int, len(r.pools))
	for role, pool := range r.pools {
		out[role] = pool.Len()
	}
	return out
}

// MatchesPlayed sums the match counters across pools.
func (r *Registry) MatchesPlayed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total uint64
	for _, pool := range r.pools {
		total += pool.MatchesPlayed()
	}
	return total
}

func (r *Registry) poolLocked(role model.Role) *Pool {
	pool, ok := r.pools[role]
	if !ok {
		pool = newPool(role, r.opponents, r.epsilon, r.seed+int64(len(r.pools)))
		r.pools[role] = pool
	}
	return pool
}
