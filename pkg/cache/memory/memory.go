// Package memory implements pkg/cache.Cache as an in-process sharded map
// with per-entry expiry, used by the Analyzer so a paper whose analysis
// model id has not changed skips recomputing its summary/embedding.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/arxivgraph/corpusd/pkg/cache"
)

const shardCount = 16

type entry struct {
	value   []byte
	expires time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// Cache is a sharded in-process cache.Cache implementation.
type Cache struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// New creates an empty Cache.
func New() *Cache {
	c := &Cache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return c
}

var _ cache.Cache = (*Cache)(nil)

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// GetOrCompute implements cache.Cache.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	s := c.shardFor(key)

	s.mu.Lock()
	if e, ok := s.entries[key]; ok && c.now().Before(e.expires) {
		s.mu.Unlock()
		return e.value, nil
	}
	s.mu.Unlock()

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	s.mu.Unlock()
	return value, nil
}

// Invalidate implements cache.Cache.
func (c *Cache) Invalidate(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}
