package quota

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

const memoryShards = 32

type memoryShard struct {
	mu       sync.Mutex
	counters map[Key]int64
}

// MemoryStore is a lock-striped in-process CounterStore. Keys in different
// shards never contend.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{counters: make(map[Key]int64)}
	}
	return s
}

func (s *MemoryStore) shard(key Key) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(key.Feature))
	return s.shards[h.Sum32()%memoryShards]
}

func (s *MemoryStore) Increment(_ context.Context, key Key, amount int64, _ time.Time) (int64, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current := sh.counters[key]
	if current > math.MaxInt64-amount {
		return current, ErrCounterOverflow
	}
	sh.counters[key] = current + amount
	return current + amount, nil
}

func (s *MemoryStore) IncrementWithin(_ context.Context, key Key, amount, ceiling int64, _ time.Time) (int64, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current := sh.counters[key]
	if current > math.MaxInt64-amount || current+amount > ceiling {
		return current, false, nil
	}
	sh.counters[key] = current + amount
	return current + amount, true, nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (int64, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.counters[key], nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	var removed int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.counters {
			if k.WindowStart.Before(before) {
				delete(sh.counters, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}
