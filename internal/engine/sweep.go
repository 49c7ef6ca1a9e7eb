package engine

import (
	"time"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/insight"
	"github.com/quinn/tabmind/internal/task"
)

// sweepAggregates derives insights from the accumulated statistics:
// usage trends per capability and the overall success rate.
func (e *Engine) sweepAggregates(now time.Time) {
	e.emitInsights(insight.FromStats(e.counters.Snapshot(), now))
}

// sweepBackground queues low-urgency maintenance tasks for every
// registered tab, gated on the corresponding behavior flags. Queue
// rejections for disabled capabilities are expected and only logged.
func (e *Engine) sweepBackground(now time.Time) {
	type sweep struct {
		enabled    bool
		name       string
		capability capability.Capability
		priority   task.Priority
	}
	sweeps := []sweep{
		{e.cfg.AutoOptimize(), "Auto optimization sweep", capability.Performance, task.PriorityLow},
		{e.cfg.PredictiveBrowsing(), "Predictive preparation", capability.Prediction, task.PriorityIdle},
		{e.cfg.LearningMode(), "Behavior model refresh", capability.Learning, task.PriorityIdle},
	}

	for _, tabID := range e.Tabs() {
		for _, sw := range sweeps {
			if !sw.enabled {
				continue
			}
			_, err := e.QueueTask(QueueRequest{
				TabID:      tabID,
				Name:       sw.name,
				Capability: sw.capability,
				Priority:   sw.priority,
				Parameters: map[string]any{"trigger": "background", "swept_at": now.Format(time.RFC3339)},
			})
			if err != nil {
				e.logger.DebugCtx("background task skipped", map[string]any{
					"tab_id":     tabID,
					"capability": sw.capability,
					"reason":     err.Error(),
				})
			}
		}
	}
}
