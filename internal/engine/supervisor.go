package engine

import (
	"context"
	"time"

	"github.com/quinn/tabmind/internal/insight"
)

// runTask supervises one task: it stamps the Running transition, runs
// the capability handler under a cancellable context, and records the
// terminal outcome. The concurrency slot is held for the task's whole
// lifetime and released here, never by the handler.
func (e *Engine) runTask(id string) {
	defer e.wg.Done()
	defer e.sem.Release(1)

	tctx, cancel := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
		cancel()
	}()

	t, ok := e.store.MarkRunning(id, e.now())
	if !ok {
		// Cancelled between pop and start.
		return
	}
	e.taskBus.Publish(t)
	e.logger.InfoCtx("task running", map[string]any{
		"task_id":    t.ID,
		"tab_id":     t.TabID,
		"capability": t.Capability,
	})

	handler, ok := e.registry.Lookup(t.Capability)
	if !ok {
		if failed, ok := e.store.Fail(id, "no handler registered for "+t.Capability.String(), e.now()); ok {
			e.counters.RecordFailure()
			e.taskBus.Publish(failed)
		}
		return
	}

	started := e.now()
	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler(tctx, t.TabID, t.Parameters)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-tctx.Done():
		// The reaper stamps the cancellation before firing the
		// context, so this transition only lands on shutdown. A
		// late handler result against a Cancelled task is a no-op
		// either way.
		if cancelled, ok := e.store.CancelRunning(id, "engine shutdown", e.now()); ok {
			e.counters.RecordCancellation()
			e.taskBus.Publish(cancelled)
		}
	case out := <-done:
		e.finishTask(id, started, out.result, out.err)
	}
}

// finishTask applies a handler outcome. Transitions that lose a race
// with a cancellation find the task already terminal and do nothing.
func (e *Engine) finishTask(id string, started time.Time, result map[string]any, err error) {
	if err != nil {
		failed, ok := e.store.Fail(id, err.Error(), e.now())
		if !ok {
			return
		}
		e.counters.RecordFailure()
		e.taskBus.Publish(failed)
		e.logger.WarnCtx("task failed", map[string]any{
			"task_id": id,
			"error":   err.Error(),
		})
		return
	}

	completed, ok := e.store.Complete(id, result, e.now())
	if !ok {
		return
	}
	e.counters.RecordCompletion(completed.Capability, e.now().Sub(started))
	e.taskBus.Publish(completed)
	e.logger.InfoCtx("task completed", map[string]any{
		"task_id":    id,
		"capability": completed.Capability,
	})
	e.emitInsights(insight.FromTask(completed, e.now()))
}
