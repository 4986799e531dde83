package stats

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryRecorder(t *testing.T) {
	m := NewMemoryRecorder()
	ctx := context.Background()

	m.Record(ctx, Event{Outcome: OutcomeAllocated, Amount: 100})
	m.Record(ctx, Event{Outcome: OutcomeAllocated, Amount: 250})
	m.Record(ctx, Event{Outcome: OutcomeNoChannel, Amount: 9000})

	counts, volume := m.Snapshot()

	if counts[OutcomeAllocated] != 2 {
		t.Fatalf("expected 2 allocated, got %d", counts[OutcomeAllocated])
	}
	if counts[OutcomeNoChannel] != 1 {
		t.Fatalf("expected 1 no_channel, got %d", counts[OutcomeNoChannel])
	}
	if volume[OutcomeAllocated] != 350 {
		t.Fatalf("expected allocated volume 350, got %v", volume[OutcomeAllocated])
	}
}

func TestMemoryRecorderSnapshotIsCopy(t *testing.T) {
	m := NewMemoryRecorder()
	ctx := context.Background()

	m.Record(ctx, Event{Outcome: OutcomeAllocated, Amount: 100})

	counts, _ := m.Snapshot()
	counts[OutcomeAllocated] = 999

	fresh, _ := m.Snapshot()
	if fresh[OutcomeAllocated] != 1 {
		t.Fatalf("snapshot mutation leaked into recorder: %d", fresh[OutcomeAllocated])
	}
}

func TestMemoryRecorderConcurrent(t *testing.T) {
	m := NewMemoryRecorder()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record(ctx, Event{Outcome: OutcomeConflict, Amount: 1})
			}
		}()
	}
	wg.Wait()

	counts, volume := m.Snapshot()
	if counts[OutcomeConflict] != 1000 {
		t.Fatalf("expected 1000 conflicts, got %d", counts[OutcomeConflict])
	}
	if volume[OutcomeConflict] != 1000 {
		t.Fatalf("expected volume 1000, got %v", volume[OutcomeConflict])
	}
}
