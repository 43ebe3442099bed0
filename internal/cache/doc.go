// Package cache provides a bounded, expiring memoization layer for lookups.
//
// Entries are evicted least-recently-used once the configured capacity is
// reached, and expire lazily: an entry read at or after insertedAt+TTL is a
// miss and is recomputed.
//
// # Basic Usage
//
//	c := cache.New[string, []string](cache.Config{
//	    Capacity: 100,
//	    TTL:      30 * time.Minute,
//	})
//
//	values, err := c.GetOrCompute(ctx, "ali", func(ctx context.Context) ([]string, error) {
//	    return source.Suggest(ctx, "organization", "ali")
//	})
//
// # In-flight Sharing
//
// The cache stores the pending operation, not only its eventual value. Two
// lookups for the same key issued before the first resolves share a single
// computation. A caller whose context is cancelled stops waiting, but the
// computation itself keeps running so the result is still cached for
// later lookups.
//
// # Failures
//
// A computation that returns an error is removed from the cache before its
// waiters are released, so the next lookup for that key retries instead of
// seeing a poisoned entry.
package cache
