package stats

import (
	"context"
	"sync"
)

// MemoryRecorder keeps per-outcome counters in process. Suitable for a
// single instance or as the fallback when no Redis address is configured.
type MemoryRecorder struct {
	mu     sync.Mutex
	counts map[Outcome]uint64
	volume map[Outcome]float64
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		counts: make(map[Outcome]uint64),
		volume: make(map[Outcome]float64),
	}
}

func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[ev.Outcome]++
	m.volume[ev.Outcome] += ev.Amount
	return nil
}

// Snapshot returns copies of the counters.
func (m *MemoryRecorder) Snapshot() (map[Outcome]uint64, map[Outcome]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[Outcome]uint64, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	volume := make(map[Outcome]float64, len(m.volume))
	for k, v := range m.volume {
		volume[k] = v
	}
	return counts, volume
}
