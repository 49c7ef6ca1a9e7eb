// Package insight turns completed task results and aggregate statistics
// into user-facing observations, retained in a bounded append-only log.
package insight

import (
	"sync"
	"time"

	"github.com/quinn/tabmind/internal/capability"
)

// Capacity is the maximum number of insights retained; inserting past
// it evicts the single oldest entry by GeneratedAt.
const Capacity = 50

// Insight is a derived, human-readable observation. Never mutated
// after creation.
type Insight struct {
	ID              string                `json:"id"`
	Title           string                `json:"title"`
	Description     string                `json:"description"`
	Category        capability.Capability `json:"category"`
	Confidence      float64               `json:"confidence"`
	Data            map[string]any        `json:"data,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
	GeneratedAt     time.Time             `json:"generated_at"`
	Actionable      bool                  `json:"actionable"`
}

// Log is the bounded insight list. Safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	entries  []Insight
	capacity int
}

// NewLog creates a log bounded at the default capacity.
func NewLog() *Log {
	return &Log{capacity: Capacity}
}

// Add appends an insight. If the log is full, the oldest entry by
// GeneratedAt is evicted and returned.
func (l *Log) Add(in Insight) (evicted *Insight) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, in)
	if len(l.entries) <= l.capacity {
		return nil
	}

	oldest := 0
	for i := 1; i < len(l.entries); i++ {
		if l.entries[i].GeneratedAt.Before(l.entries[oldest].GeneratedAt) {
			oldest = i
		}
	}
	out := l.entries[oldest]
	l.entries = append(l.entries[:oldest], l.entries[oldest+1:]...)
	return &out
}

// List returns copies of retained insights, filtered to a category when
// one is given, oldest first.
func (l *Log) List(category capability.Capability) []Insight {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Insight, 0, len(l.entries))
	for _, in := range l.entries {
		if category == "" || in.Category == category {
			out = append(out, in)
		}
	}
	return out
}

// Len returns the number of retained insights.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
