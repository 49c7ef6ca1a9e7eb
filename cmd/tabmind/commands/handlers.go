package commands

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/engine"
)

// Built-in handlers stand in for a real browser integration. Each
// produces a plausible result shape for its capability, derived from
// the tab id so repeated runs against the same tab agree with each
// other.

// tabScore hashes a tab id into [0, 1).
func tabScore(tabID string, salt string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(salt + ":" + tabID))
	return float64(h.Sum32()%1000) / 1000.0
}

// simulate pauses briefly so queued work visibly moves through the
// Running state, bailing out on cancellation.
func simulate(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func registerBuiltinHandlers(eng *engine.Engine) error {
	handlers := map[capability.Capability]capability.Handler{
		capability.WebAnalysis: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 150*time.Millisecond); err != nil {
				return nil, err
			}
			score := tabScore(tabID, "web")
			forms := []any{}
			if score > 0.5 {
				forms = append(forms, map[string]any{"fields": 4, "kind": "contact"})
			}
			return map[string]any{
				"wordCount": int(score*4000) + 200,
				"forms":     forms,
				"accessibility": map[string]any{
					"score": 0.5 + score/2,
				},
			}, nil
		},
		capability.Security: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 120*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{
				"threatScore": tabScore(tabID, "sec") * 100,
				"https":       tabScore(tabID, "tls") > 0.1,
			}, nil
		},
		capability.Performance: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 100*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{
				"coreWebVitalsScore": tabScore(tabID, "perf"),
				"loadTimeMs":         int(tabScore(tabID, "load")*3000) + 300,
			}, nil
		},
		capability.Automation: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 80*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{"actionsPlanned": 1}, nil
		},
		capability.AIInteraction: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 200*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{"answer": "no model attached; echo only", "command": params["command"]}, nil
		},
		capability.Accessibility: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 90*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{"score": 0.5 + tabScore(tabID, "a11y")/2}, nil
		},
		capability.Learning: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 60*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{"patternsObserved": int(tabScore(tabID, "learn") * 10)}, nil
		},
		capability.Prediction: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 60*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{"prefetchCandidates": []any{}}, nil
		},
		capability.Personalization: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 60*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{"profileUpdated": true}, nil
		},
		capability.Collaboration: func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error) {
			if err := simulate(ctx, 60*time.Millisecond); err != nil {
				return nil, err
			}
			return map[string]any{"shareReady": false}, nil
		},
	}

	for c, h := range handlers {
		if err := eng.RegisterHandler(c, h); err != nil {
			return err
		}
	}
	return nil
}
