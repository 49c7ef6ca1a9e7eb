package task

import (
	"sort"
	"sync"
	"time"
)

// RetentionWindow is how long terminal tasks remain queryable before
// the purge sweep removes them from the store.
const RetentionWindow = 5 * time.Minute

// Store is the single authoritative table of tasks, keyed by id.
// All lifecycle transitions go through its methods, which serialize
// access so the reaper and supervisor never observe a task half-updated.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*Task)}
}

// Put inserts a new task. The task enters the store Pending.
func (s *Store) Put(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Status = StatusPending
	s.tasks[t.ID] = &t
}

// Get returns a copy of the task with the given id.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// Len returns the number of tasks currently retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// MarkRunning transitions a Pending task to Running and stamps
// StartedAt. Returns the updated copy, or ok=false if the task is
// missing or no longer Pending.
func (s *Store) MarkRunning(id string, now time.Time) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusPending {
		return Task{}, false
	}
	t.Status = StatusRunning
	started := now
	t.StartedAt = &started
	return t.Clone(), true
}

// Complete transitions a Running task to Completed, merges the handler
// result into the task, and sets progress to 1.0.
func (s *Store) Complete(id string, result map[string]any, now time.Time) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusRunning {
		return Task{}, false
	}
	if len(result) > 0 {
		if t.Result == nil {
			t.Result = make(map[string]any, len(result))
		}
		for k, v := range result {
			t.Result[k] = v
		}
	}
	t.Status = StatusCompleted
	t.Progress = 1.0
	completed := now
	t.CompletedAt = &completed
	return t.Clone(), true
}

// Fail transitions a Running task to Failed and records the error.
func (s *Store) Fail(id string, errMsg string, now time.Time) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusRunning {
		return Task{}, false
	}
	t.Status = StatusFailed
	t.Error = errMsg
	completed := now
	t.CompletedAt = &completed
	return t.Clone(), true
}

// CancelPending cancels a task that has not started. Both timestamps
// are stamped so the startedAt/completedAt invariants hold for the
// Cancelled terminal state.
func (s *Store) CancelPending(id string, now time.Time) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusPending {
		return Task{}, false
	}
	t.Status = StatusCancelled
	t.Error = "cancelled before start"
	stamp := now
	t.StartedAt = &stamp
	t.CompletedAt = &stamp
	return t.Clone(), true
}

// CancelRunning force-cancels a Running task with the given reason.
func (s *Store) CancelRunning(id string, reason string, now time.Time) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusRunning {
		return Task{}, false
	}
	t.Status = StatusCancelled
	t.Error = reason
	completed := now
	t.CompletedAt = &completed
	return t.Clone(), true
}

// SetProgress records handler-reported progress. Progress is
// monotonically non-decreasing while Running; regressions are ignored.
func (s *Store) SetProgress(id string, progress float64) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusRunning {
		return Task{}, false
	}
	if progress > 1.0 {
		progress = 1.0
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	return t.Clone(), true
}

// Running returns copies of all tasks currently in Running state.
func (s *Store) Running() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0)
	for _, t := range s.tasks {
		if t.Status == StatusRunning {
			out = append(out, t.Clone())
		}
	}
	return out
}

// RunningCount returns the number of tasks currently Running.
func (s *Store) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.tasks {
		if t.Status == StatusRunning {
			n++
		}
	}
	return n
}

// ByTab returns copies of retained tasks, filtered to a tab when tabID
// is non-empty, ordered by creation time then admission order.
func (s *Store) ByTab(tabID string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0)
	for _, t := range s.tasks {
		if tabID == "" || t.TabID == tabID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PurgeTerminal removes tasks that reached a terminal state more than
// the retention window before now, returning the purged copies so the
// caller can archive them.
func (s *Store) PurgeTerminal(now time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := make([]Task, 0)
	for id, t := range s.tasks {
		if !t.Status.Terminal() || t.CompletedAt == nil {
			continue
		}
		if now.Sub(*t.CompletedAt) > RetentionWindow {
			purged = append(purged, t.Clone())
			delete(s.tasks, id)
		}
	}
	return purged
}
