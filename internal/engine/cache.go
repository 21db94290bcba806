package engine

import (
	"context"
	"sync"

	"bdqcore/pkg/bdq"
)

// cacheEntry is one memoized tuple result. done closes when the outcome is
// final; the outcome field is written exactly once, before the close.
type cacheEntry struct {
	done    chan struct{}
	outcome bdq.Outcome
}

// tupleCache memoizes one outcome per (test, tuple) key for the duration of a
// job. The first caller for a key becomes its single writer; concurrent
// callers block on the in-flight entry until the writer finishes. Entries are
// never evicted. Failures are cached like any other outcome, so a key never
// reaches the provider twice within a job.
type tupleCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func newTupleCache() *tupleCache {
	return &tupleCache{entries: make(map[string]*cacheEntry)}
}

// getOrCompute returns the outcome for key, invoking compute at most once per
// key across all callers. hit reports whether this call observed an existing
// entry instead of computing. Waiting on an in-flight entry ends early when
// ctx does; the writer itself is not interrupted.
func (c *tupleCache) getOrCompute(ctx context.Context, key string, compute func() bdq.Outcome) (bdq.Outcome, bool, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.outcome, true, nil
		case <-ctx.Done():
			return bdq.Outcome{}, true, ctx.Err()
		}
	}
	e := &cacheEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	// Single writer for this key; compute runs outside the lock.
	e.outcome = compute()
	close(e.done)
	return e.outcome, false, nil
}

// lookup returns the finalized outcome for key. In-flight and absent keys
// report false.
func (c *tupleCache) lookup(key string) (bdq.Outcome, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return bdq.Outcome{}, false
	}
	select {
	case <-e.done:
		return e.outcome, true
	default:
		return bdq.Outcome{}, false
	}
}

// snapshot copies all finalized entries. In-flight entries are skipped.
func (c *tupleCache) snapshot() map[string]bdq.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bdq.Outcome, len(c.entries))
	for key, e := range c.entries {
		select {
		case <-e.done:
			out[key] = e.outcome
		default:
		}
	}
	return out
}

// size reports the number of entries, in-flight included.
func (c *tupleCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
