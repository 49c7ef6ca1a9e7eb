package insight

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/stats"
	"github.com/quinn/tabmind/internal/task"
)

// Rule thresholds for per-task and aggregate insight generation.
const (
	webVitalsThreshold     = 0.7
	threatScoreThreshold   = 50.0
	accessibilityThreshold = 0.8
	usageTrendThreshold    = 10
	successRateThreshold   = 0.8
	successRateMinSample   = 20
)

// FromTask applies the fixed per-capability rules to a completed task's
// result and returns any insights they produce.
func FromTask(t task.Task, now time.Time) []Insight {
	out := make([]Insight, 0)

	switch t.Capability {
	case capability.Performance:
		if score, ok := floatField(t.Result, "coreWebVitalsScore"); ok && score < webVitalsThreshold {
			out = append(out, Insight{
				ID:          uuid.NewString(),
				Title:       "Page performance below target",
				Description: fmt.Sprintf("Core Web Vitals score %.2f is under the %.1f target.", score, webVitalsThreshold),
				Category:    capability.Performance,
				Confidence:  0.9,
				Data:        map[string]any{"tab_id": t.TabID, "task_id": t.ID, "score": score},
				Recommendations: []string{
					"Enable lazy loading for offscreen images",
					"Defer non-critical scripts",
					"Reduce main-thread work during load",
				},
				GeneratedAt: now,
				Actionable:  true,
			})
		}

	case capability.Security:
		if score, ok := floatField(t.Result, "threatScore"); ok && score > threatScoreThreshold {
			out = append(out, Insight{
				ID:          uuid.NewString(),
				Title:       "Security threats detected",
				Description: fmt.Sprintf("Security scan reported a threat score of %.0f.", score),
				Category:    capability.Security,
				Confidence:  0.95,
				Data:        map[string]any{"tab_id": t.TabID, "task_id": t.ID, "threat_score": score},
				Recommendations: []string{
					"Avoid submitting credentials on this page",
					"Verify the site certificate and origin",
				},
				GeneratedAt: now,
				Actionable:  true,
			})
		}

	case capability.WebAnalysis:
		if forms := listField(t.Result, "forms"); len(forms) > 0 {
			out = append(out, Insight{
				ID:          uuid.NewString(),
				Title:       "Automation opportunity",
				Description: fmt.Sprintf("Detected %d form(s) that could be filled automatically.", len(forms)),
				Category:    capability.Automation,
				Confidence:  0.8,
				Data:        map[string]any{"tab_id": t.TabID, "task_id": t.ID, "form_count": len(forms)},
				Recommendations: []string{
					"Offer smart form filling on this page",
				},
				GeneratedAt: now,
				Actionable:  true,
			})
		}
		if acc, ok := t.Result["accessibility"].(map[string]any); ok {
			if score, ok := floatField(acc, "score"); ok && score < accessibilityThreshold {
				out = append(out, Insight{
					ID:          uuid.NewString(),
					Title:       "Accessibility issues found",
					Description: fmt.Sprintf("Accessibility score %.2f is under the %.1f target.", score, accessibilityThreshold),
					Category:    capability.Accessibility,
					Confidence:  0.85,
					Data:        map[string]any{"tab_id": t.TabID, "task_id": t.ID, "score": score},
					Recommendations: []string{
						"Repair missing alt text and labels",
						"Increase low-contrast text",
					},
					GeneratedAt: now,
					Actionable:  true,
				})
			}
		}
	}

	return out
}

// FromStats applies the periodic aggregate rules to a statistics
// snapshot: a usage-trend rule per capability and a success-rate rule.
func FromStats(snap stats.Snapshot, now time.Time) []Insight {
	out := make([]Insight, 0)

	for _, c := range capability.All() {
		count := snap.Usage[c]
		if count <= usageTrendThreshold {
			continue
		}
		out = append(out, Insight{
			ID:          uuid.NewString(),
			Title:       fmt.Sprintf("Heavy %s usage", c),
			Description: fmt.Sprintf("The %s capability has run %d tasks this session.", c, count),
			Category:    c,
			Confidence:  0.8,
			Data:        map[string]any{"usage_count": count},
			Recommendations: []string{
				fmt.Sprintf("Consider scheduling %s work in the background", c),
			},
			GeneratedAt: now,
			Actionable:  false,
		})
	}

	if snap.Completed > successRateMinSample && snap.SuccessRate() < successRateThreshold {
		out = append(out, Insight{
			ID:          uuid.NewString(),
			Title:       "Task success rate degraded",
			Description: fmt.Sprintf("Only %.0f%% of tasks are completing successfully.", snap.SuccessRate()*100),
			Category:    capability.Learning,
			Confidence:  0.85,
			Data:        map[string]any{"completed": snap.Completed, "failed": snap.Failed},
			Recommendations: []string{
				"Review recent task failures",
				"Reduce the concurrency cap if handlers are timing out",
			},
			GeneratedAt: now,
			Actionable:  true,
		})
	}

	return out
}

// floatField reads a numeric field from a result map, tolerating the
// numeric types JSON decoding and handlers produce.
func floatField(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// listField reads a slice field from a result map.
func listField(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}
