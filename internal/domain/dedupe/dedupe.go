// Package dedupe tracks already-submitted candidate ids so repeated
// submissions acknowledge as duplicates instead of re-running the pipeline.
package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultMaxSize bounds the tracked id set when no option overrides it.
const defaultMaxSize = 50000

// Deduper records seen candidate ids for at-most-once submission handling.
type Deduper interface {
	// SeenAndRecord atomically checks whether id was seen and records it
	// if not. Returns true when id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets an id that was recorded but whose submission failed
	// downstream, so the caller can retry.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// Option applies a configuration option to the deduper.
type Option func(*deduper)

// WithMaxSize bounds the number of tracked ids. Oldest entries are evicted
// first. A size of zero or less means unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *deduper) {
		d.maxSize = maxSize
	}
}

// deduper keeps recent ids in an LRU when bounded, or a plain map when not.
type deduper struct {
	mu      sync.Mutex
	maxSize int
	cache   *lru.Cache[string, struct{}]
	seen    map[string]struct{}
}

// New creates an in-memory deduper.
func New(opts ...Option) Deduper {
	d := &deduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize > 0 {
		cache, err := lru.New[string, struct{}](d.maxSize)
		if err != nil {
			// Only reachable with a non-positive size, which the branch
			// above already excludes.
			panic(err)
		}
		d.cache = cache
	} else {
		d.seen = make(map[string]struct{})
	}
	return d
}

func (d *deduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache != nil {
		ok, _ := d.cache.ContainsOrAdd(id, struct{}{})
		return ok
	}
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

func (d *deduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache != nil {
		d.cache.Remove(id)
		return
	}
	delete(d.seen, id)
}

func (d *deduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache != nil {
		return int64(d.cache.Len())
	}
	return int64(len(d.seen))
}
