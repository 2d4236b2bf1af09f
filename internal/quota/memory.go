package quota

import (
	"context"
	"sync"
)

type memKey struct {
	key   string
	start int64
}

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[memKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[memKey]int64)}
}

func keyOf(c Counter) memKey {
	return memKey{key: c.Key, start: c.WindowStart.Unix()}
}

func (m *MemoryStore) Consume(_ context.Context, counters []Counter, n int64) ([]int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(counters))
	for i, c := range counters {
		out[i] = m.counts[keyOf(c)]
		if out[i]+n > c.Limit {
			return out, false, nil
		}
	}
	for i, c := range counters {
		out[i] += n
		m.counts[keyOf(c)] = out[i]
	}
	return out, true, nil
}

func (m *MemoryStore) Counts(_ context.Context, counters []Counter) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(counters))
	for i, c := range counters {
		out[i] = m.counts[keyOf(c)]
	}
	return out, nil
}
