package position

import (
	"context"
	"sync"
	"time"
)

// Cached wraps a Reader with a timeout budget and a staleness bound:
// a prior fix no older than maxAge is returned immediately, otherwise
// the source gets at most timeout to produce a fresh one. This trades
// freshness for responsiveness and battery, and keeps concurrent sync
// attempts from hammering the receiver.
type Cached struct {
	src     Reader
	timeout time.Duration
	maxAge  time.Duration

	mu   sync.Mutex
	last *Fix
}

// NewCached wraps src with the given acquisition timeout and maximum
// accepted fix age.
func NewCached(src Reader, timeout, maxAge time.Duration) *Cached {
	return &Cached{src: src, timeout: timeout, maxAge: maxAge}
}

// Current implements Reader.
func (c *Cached) Current(ctx context.Context) (*Fix, error) {
	c.mu.Lock()
	if c.last != nil && time.Since(c.last.Time) <= c.maxAge {
		fix := *c.last
		c.mu.Unlock()
		return &fix, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fix, err := c.src.Current(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.last = fix
	c.mu.Unlock()

	out := *fix
	return &out, nil
}
