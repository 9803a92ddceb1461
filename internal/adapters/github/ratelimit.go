package github

import (
	"context"
	"sync"
	"time"

	"github.com/okian/credrank/pkg/metrics"
)

// hostLimiter is a process-wide token bucket keyed by host. Buckets refill
// at ratePerSec up to burst; Acquire blocks until a token is available or
// ctx is done.
type hostLimiter struct {
	mu         sync.Mutex
	ratePerSec float64
	burst      float64
	buckets    map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newHostLimiter(ratePerSec float64, burst int) *hostLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &hostLimiter{
		ratePerSec: ratePerSec,
		burst:      float64(burst),
		buckets:    make(map[string]*bucket),
	}
}

// Acquire takes one token for host, sleeping until the bucket refills.
func (l *hostLimiter) Acquire(ctx context.Context, host string) error {
	start := time.Now()
	defer func() {
		metrics.RecordRateLimitWait(float64(time.Since(start).Milliseconds()))
	}()

	for {
		l.mu.Lock()
		b, ok := l.buckets[host]
		now := time.Now()
		if !ok {
			b = &bucket{tokens: l.burst, last: now}
			l.buckets[host] = b
		}
		// Refill since last observation.
		b.tokens += now.Sub(b.last).Seconds() * l.ratePerSec
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.last = now

		if b.tokens >= 1 {
			b.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - b.tokens) / l.ratePerSec * float64(time.Second))
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
