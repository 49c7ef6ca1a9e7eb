// Package task defines the intelligence task model and the in-memory
// store that owns every task's lifecycle.
package task

import (
	"time"

	"github.com/quinn/tabmind/internal/capability"
)

// Status represents a task's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority orders tasks for dispatch; lower values dispatch first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityIdle
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityIdle:
		return "idle"
	}
	return "unknown"
}

// ParsePriority converts a priority name to a Priority, defaulting to
// medium for unrecognized input.
func ParsePriority(s string) Priority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low":
		return PriorityLow
	case "idle":
		return PriorityIdle
	}
	return PriorityMedium
}

// Task is one unit of requested intelligence work against a tab.
// Tasks are owned by the Store: every field mutation goes through a
// Store transition, and callers only ever see copies.
type Task struct {
	ID                string                `json:"id"`
	TabID             string                `json:"tab_id"`
	Name              string                `json:"name"`
	Description       string                `json:"description"`
	Capability        capability.Capability `json:"capability"`
	Priority          Priority              `json:"priority"`
	Status            Status                `json:"status"`
	Parameters        map[string]any        `json:"parameters,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	StartedAt         *time.Time            `json:"started_at,omitempty"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
	EstimatedDuration time.Duration         `json:"estimated_duration,omitempty"` // 0 = unset
	Progress          float64               `json:"progress"`
	Error             string                `json:"error,omitempty"`
	Result            map[string]any        `json:"result,omitempty"`

	// Seq is the admission order, used as the dispatch tie-break
	// between tasks of equal priority.
	Seq uint64 `json:"-"`
}

// Clone returns a copy of the task with its maps duplicated, safe to
// hand outside the store.
func (t *Task) Clone() Task {
	c := *t
	if t.Parameters != nil {
		c.Parameters = make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			c.Parameters[k] = v
		}
	}
	if t.Result != nil {
		c.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			c.Result[k] = v
		}
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return c
}
