package insight

import (
	"fmt"
	"testing"
	"time"

	"github.com/quinn/tabmind/internal/capability"
)

func TestLogCapacityEvictsOldest(t *testing.T) {
	l := NewLog()
	base := time.Now()

	for i := 0; i < Capacity; i++ {
		evicted := l.Add(Insight{
			ID:          fmt.Sprintf("in-%d", i),
			Category:    capability.Performance,
			GeneratedAt: base.Add(time.Duration(i) * time.Second),
		})
		if evicted != nil {
			t.Fatalf("no eviction expected at insert %d", i)
		}
	}
	if l.Len() != Capacity {
		t.Fatalf("Len() = %d, want %d", l.Len(), Capacity)
	}

	evicted := l.Add(Insight{
		ID:          "overflow",
		Category:    capability.Performance,
		GeneratedAt: base.Add(time.Hour),
	})
	if evicted == nil || evicted.ID != "in-0" {
		t.Fatalf("evicted = %v, want oldest entry in-0", evicted)
	}
	if l.Len() != Capacity {
		t.Errorf("Len() = %d after overflow, want %d", l.Len(), Capacity)
	}
}

func TestLogEvictsByGeneratedAtNotInsertOrder(t *testing.T) {
	l := NewLog()
	base := time.Now()

	// Insert newest first so insert order differs from GeneratedAt order.
	for i := Capacity - 1; i >= 0; i-- {
		l.Add(Insight{
			ID:          fmt.Sprintf("in-%d", i),
			GeneratedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	evicted := l.Add(Insight{ID: "overflow", GeneratedAt: base.Add(time.Hour)})
	if evicted == nil || evicted.ID != "in-0" {
		t.Fatalf("evicted = %v, want in-0 (oldest by GeneratedAt)", evicted)
	}
}

func TestListFiltersByCategory(t *testing.T) {
	l := NewLog()
	now := time.Now()
	l.Add(Insight{ID: "a", Category: capability.Performance, GeneratedAt: now})
	l.Add(Insight{ID: "b", Category: capability.Security, GeneratedAt: now})
	l.Add(Insight{ID: "c", Category: capability.Performance, GeneratedAt: now})

	perf := l.List(capability.Performance)
	if len(perf) != 2 {
		t.Errorf("List(performance) returned %d, want 2", len(perf))
	}
	all := l.List("")
	if len(all) != 3 {
		t.Errorf("List(\"\") returned %d, want 3", len(all))
	}
}

func TestListRepeatableWithoutMutation(t *testing.T) {
	l := NewLog()
	now := time.Now()
	l.Add(Insight{ID: "a", Category: capability.Security, GeneratedAt: now})

	first := l.List("")
	second := l.List("")
	if len(first) != len(second) || first[0].ID != second[0].ID {
		t.Error("repeated List() calls with no mutation must match")
	}
}
