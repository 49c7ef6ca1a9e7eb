// Package bus provides in-process fan-out notification: per-tab task
// update subscriptions and a single global insight subscription.
// Sends never block the scheduling loop; a subscriber that falls
// behind its buffer drops events.
package bus

import (
	"sync"

	"github.com/quinn/tabmind/internal/insight"
	"github.com/quinn/tabmind/internal/task"
)

const subscriberBuffer = 64

// TaskBus fans task updates out to per-tab subscribers.
type TaskBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan task.Task]struct{} // tabID -> subscribers
}

// NewTaskBus creates an empty task bus.
func NewTaskBus() *TaskBus {
	return &TaskBus{subs: make(map[string]map[chan task.Task]struct{})}
}

// Subscribe returns a buffered channel receiving updates for one tab.
func (b *TaskBus) Subscribe(tabID string) chan task.Task {
	ch := make(chan task.Task, subscriberBuffer)
	b.mu.Lock()
	if b.subs[tabID] == nil {
		b.subs[tabID] = make(map[chan task.Task]struct{})
	}
	b.subs[tabID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *TaskBus) Unsubscribe(tabID string, ch chan task.Task) {
	b.mu.Lock()
	if set, ok := b.subs[tabID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(b.subs, tabID)
		}
	}
	b.mu.Unlock()
}

// DropTab removes and closes all subscriptions for a tab.
func (b *TaskBus) DropTab(tabID string) {
	b.mu.Lock()
	for ch := range b.subs[tabID] {
		close(ch)
	}
	delete(b.subs, tabID)
	b.mu.Unlock()
}

// Publish delivers a task snapshot to the task's tab subscribers.
func (b *TaskBus) Publish(t task.Task) {
	b.mu.RLock()
	for ch := range b.subs[t.TabID] {
		select {
		case ch <- t:
		default:
			// subscriber is behind; drop to avoid blocking the scheduler
		}
	}
	b.mu.RUnlock()
}

// InsightBus fans new insights out to global subscribers.
type InsightBus struct {
	mu   sync.RWMutex
	subs map[chan insight.Insight]struct{}
}

// NewInsightBus creates an empty insight bus.
func NewInsightBus() *InsightBus {
	return &InsightBus{subs: make(map[chan insight.Insight]struct{})}
}

// Subscribe returns a buffered channel receiving every new insight.
func (b *InsightBus) Subscribe() chan insight.Insight {
	ch := make(chan insight.Insight, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *InsightBus) Unsubscribe(ch chan insight.Insight) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers an insight to all subscribers.
func (b *InsightBus) Publish(in insight.Insight) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- in:
		default:
		}
	}
	b.mu.RUnlock()
}
