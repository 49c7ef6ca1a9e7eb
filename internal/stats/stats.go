// Package stats tracks aggregate task execution statistics used by the
// periodic insight rules and the CLI status output.
package stats

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quinn/tabmind/internal/capability"
)

// Duration wraps time.Duration for clean JSON serialization as seconds.
type Duration struct {
	time.Duration
}

// MarshalJSON serializes Duration as integer seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(d.Seconds()))
}

// UnmarshalJSON deserializes Duration from integer seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	d.Duration = time.Duration(secs) * time.Second
	return nil
}

// String returns a human-readable duration string.
func (d Duration) String() string {
	dur := d.Duration
	if dur < time.Minute {
		return fmt.Sprintf("%ds", int(dur.Seconds()))
	}
	if dur < time.Hour {
		return fmt.Sprintf("%dm %ds", int(dur.Minutes()), int(dur.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(dur.Hours()), int(dur.Minutes())%60)
}

// Counters accumulates task outcomes. Safe for concurrent use.
type Counters struct {
	mu            sync.Mutex
	completed     int
	failed        int
	cancelled     int
	totalExecTime time.Duration
	usage         map[capability.Capability]int
}

// NewCounters creates zeroed counters.
func NewCounters() *Counters {
	return &Counters{usage: make(map[capability.Capability]int)}
}

// RecordCompletion counts a completed task and accumulates its
// execution time against the capability's usage counter.
func (c *Counters) RecordCompletion(cap capability.Capability, execTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
	c.usage[cap]++
	c.totalExecTime += execTime
}

// RecordFailure counts a failed task.
func (c *Counters) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
}

// RecordCancellation counts a cancelled task.
func (c *Counters) RecordCancellation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
}

// Snapshot is a point-in-time copy of the counters, JSON-serializable.
type Snapshot struct {
	Completed     int                           `json:"completed"`
	Failed        int                           `json:"failed"`
	Cancelled     int                           `json:"cancelled"`
	TotalExecTime Duration                      `json:"total_exec_time"`
	AvgExecTime   Duration                      `json:"avg_exec_time"`
	Usage         map[capability.Capability]int `json:"usage,omitempty"`
}

// SuccessRate returns completed/(completed+failed), or 1.0 when no
// tasks have finished either way.
func (s Snapshot) SuccessRate() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 1.0
	}
	return float64(s.Completed) / float64(total)
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	usage := make(map[capability.Capability]int, len(c.usage))
	for k, v := range c.usage {
		usage[k] = v
	}

	snap := Snapshot{
		Completed:     c.completed,
		Failed:        c.failed,
		Cancelled:     c.cancelled,
		TotalExecTime: Duration{c.totalExecTime},
		Usage:         usage,
	}
	if c.completed > 0 {
		snap.AvgExecTime = Duration{c.totalExecTime / time.Duration(c.completed)}
	}
	return snap
}
