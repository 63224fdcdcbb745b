// Package idalloc assigns compact dense ids to raw entity identifiers.
//
// The table is shared by every conversion worker in a run. It only grows:
// once a raw identifier is assigned a dense id, that mapping never changes
// for the lifetime of the run.
package idalloc

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// numShards spreads lock contention across the table. Must be a power of two.
const numShards = 32

// Allocator maps raw entity identifiers to dense ids, starting at 0 and
// strictly increasing. Safe for concurrent use by any number of workers;
// concurrent first sightings of the same identifier resolve to a single
// winner whose id all callers observe.
type Allocator struct {
	next   atomic.Uint64
	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]uint64
}

// New creates an empty allocator.
func New() *Allocator {
	a := &Allocator{}
	for i := range a.shards {
		a.shards[i].m = make(map[string]uint64)
	}
	return a
}

// GetOrAssign returns the dense id for raw, assigning the next unused id on
// first sight. Total over all byte strings; never fails.
func (a *Allocator) GetOrAssign(raw []byte) uint64 {
	s := &a.shards[shardIndex(raw)]

	// Fast path: already assigned
	s.mu.RLock()
	id, ok := s.m[string(raw)]
	s.mu.RUnlock()
	if ok {
		return id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring the write lock: another worker may have
	// won the assignment in between.
	if id, ok := s.m[string(raw)]; ok {
		return id
	}
	id = a.next.Add(1) - 1
	s.m[string(raw)] = id
	return id
}

// Lookup returns the dense id for raw without assigning one.
func (a *Allocator) Lookup(raw []byte) (uint64, bool) {
	s := &a.shards[shardIndex(raw)]
	s.mu.RLock()
	id, ok := s.m[string(raw)]
	s.mu.RUnlock()
	return id, ok
}

// Len returns the number of assigned identifiers.
func (a *Allocator) Len() uint64 {
	return a.next.Load()
}

func shardIndex(raw []byte) uint64 {
	return xxhash.Sum64(raw) & (numShards - 1)
}
