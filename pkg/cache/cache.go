// Package cache defines the explicit cache interface used by the Analyzer to
// short-circuit recomputation, per the design note that caching must be an
// explicit dependency rather than a hidden decorator wrapped around a
// provider call.
package cache

import (
	"context"
	"time"
)

// Cache computes and stores arbitrary byte payloads keyed by string, with a
// per-entry TTL. GetOrCompute returns the cached value if present and not
// expired; otherwise it calls compute, stores the result for ttl, and
// returns it. A compute error is not cached.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error)

	// Invalidate removes a key immediately, so a cached result is not served
	// even though its TTL has not expired.
	Invalidate(key string)
}
