package engine

import "time"

// reapOnce cancels running tasks that have exceeded twice their
// estimated duration. The store transition lands first so observers
// see a consistent Cancelled task before the handler's context fires.
func (e *Engine) reapOnce(now time.Time) {
	for _, t := range e.store.Running() {
		estimate := t.EstimatedDuration
		if estimate <= 0 {
			estimate = defaultEstimate
		}
		limit := reapMultiplier * estimate
		if t.StartedAt == nil || now.Sub(*t.StartedAt) <= limit {
			continue
		}

		cancelled, ok := e.store.CancelRunning(t.ID, "Task timeout", now)
		if !ok {
			continue
		}
		e.counters.RecordCancellation()
		e.taskBus.Publish(cancelled)

		e.mu.Lock()
		cancel := e.cancels[t.ID]
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		e.logger.WarnCtx("task reaped", map[string]any{
			"task_id": t.ID,
			"running": now.Sub(*t.StartedAt).String(),
			"limit":   limit.String(),
		})
	}
}

// purgeOnce drops terminal tasks older than the retention window and
// moves them to the archive.
func (e *Engine) purgeOnce(now time.Time) {
	purged := e.store.PurgeTerminal(now)
	for _, t := range purged {
		if e.archive != nil {
			if err := e.archive.ArchiveTask(t); err != nil {
				e.logger.WarnCtx("task archive failed", map[string]any{
					"task_id": t.ID,
					"error":   err.Error(),
				})
			}
		}
	}
	if len(purged) > 0 {
		e.logger.DebugCtx("purged terminal tasks", map[string]any{"count": len(purged)})
	}
}
