package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Monitors sharing one MemoryStore and
// key share one window.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (m *MemoryStore) Admit(_ context.Context, key string, now time.Time, window time.Duration, limit int, record bool) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	stamps := m.windows[key]
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = stamps[i:]

	usage := Usage{Count: len(stamps), Oldest: oldest(stamps)}
	if record && len(stamps) < limit {
		stamps = append(stamps, now)
	}
	m.windows[key] = stamps
	return usage, nil
}
