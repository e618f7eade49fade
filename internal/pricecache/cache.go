// Package pricecache is the concurrent serving layer for merged real-time
// ticks. It is purely in-memory: cleared on restart and repopulated from the
// live feeds. Partitioned by exchange segment so feed traffic on one segment
// never contends with another; within a segment a single map guarded by an
// RWMutex is plenty even at worst-case aggregate tick rates, because the
// shard lock is held only for the entry lookup and each entry carries its own
// mutex for the merge.
package pricecache

import (
	"sync"

	"marketcore/internal/model"
)

type entry struct {
	mu   sync.Mutex
	snap model.PriceSnapshot
}

type shard struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

// Cache maps (segment, token) to the latest merged snapshot.
//
// Every token received is stored, subscribed or not: on-demand lookups for
// unsubscribed tokens are a required capability, and forwarding policy lives
// in the fanout layer above, never in the merge.
type Cache struct {
	shards map[model.Segment]*shard
}

// New creates a cache with one shard per known segment.
func New() *Cache {
	c := &Cache{shards: make(map[model.Segment]*shard, len(model.Segments))}
	for _, seg := range model.Segments {
		c.shards[seg] = &shard{entries: make(map[int64]*entry, 4096)}
	}
	return c
}

func (c *Cache) shardFor(seg model.Segment) *shard {
	return c.shards[seg]
}

// Update merges a partial tick into the token's snapshot, creating it lazily
// on first sight, and returns a copy of the merged result. Safe under many
// concurrent writers and readers; per field, last write wins.
func (c *Cache) Update(t *model.PartialTick) (model.PriceSnapshot, bool) {
	sh := c.shardFor(t.Segment)
	if sh == nil {
		return model.PriceSnapshot{}, false
	}

	sh.mu.RLock()
	e := sh.entries[t.Token]
	sh.mu.RUnlock()

	if e == nil {
		sh.mu.Lock()
		e = sh.entries[t.Token]
		if e == nil {
			e = &entry{snap: model.PriceSnapshot{Segment: t.Segment, Token: t.Token}}
			sh.entries[t.Token] = e
		}
		sh.mu.Unlock()
	}

	e.mu.Lock()
	e.snap.Merge(t)
	merged := e.snap
	e.mu.Unlock()
	return merged, true
}

// Get returns a copy of the latest snapshot for (segment, token). Absence is
// a normal outcome: the token simply has not ticked yet.
func (c *Cache) Get(seg model.Segment, token int64) (model.PriceSnapshot, bool) {
	sh := c.shardFor(seg)
	if sh == nil {
		return model.PriceSnapshot{}, false
	}
	sh.mu.RLock()
	e := sh.entries[token]
	sh.mu.RUnlock()
	if e == nil {
		return model.PriceSnapshot{}, false
	}
	e.mu.Lock()
	snap := e.snap
	e.mu.Unlock()
	return snap, true
}

// LTP is a convenience for callers that only need the last traded price.
func (c *Cache) LTP(seg model.Segment, token int64) (float64, bool) {
	snap, ok := c.Get(seg, token)
	if !ok || !snap.Has(model.FieldLTP) {
		return 0, false
	}
	return snap.LTP, true
}

// Size returns the number of cached tokens in one segment shard.
func (c *Cache) Size(seg model.Segment) int {
	sh := c.shardFor(seg)
	if sh == nil {
		return 0
	}
	sh.mu.RLock()
	n := len(sh.entries)
	sh.mu.RUnlock()
	return n
}

// Stats reports per-segment entry counts, for metrics gauges.
func (c *Cache) Stats() map[model.Segment]int {
	out := make(map[model.Segment]int, len(c.shards))
	for seg := range c.shards {
		out[seg] = c.Size(seg)
	}
	return out
}
