// Package capability defines the intelligence capability tags and the
// handler contract bound to each tag. Handlers do the actual page work;
// tabmind only schedules them.
package capability

import "context"

// Capability names a category of schedulable intelligence work.
type Capability string

const (
	WebAnalysis     Capability = "web_analysis"
	Automation      Capability = "automation"
	AIInteraction   Capability = "ai_interaction"
	Performance     Capability = "performance"
	Security        Capability = "security"
	Accessibility   Capability = "accessibility"
	Learning        Capability = "learning"
	Prediction      Capability = "prediction"
	Personalization Capability = "personalization"
	Collaboration   Capability = "collaboration"
)

// All returns every known capability tag.
func All() []Capability {
	return []Capability{
		WebAnalysis,
		Automation,
		AIInteraction,
		Performance,
		Security,
		Accessibility,
		Learning,
		Prediction,
		Personalization,
		Collaboration,
	}
}

// Valid reports whether c is a known capability tag.
func (c Capability) Valid() bool {
	switch c {
	case WebAnalysis, Automation, AIInteraction, Performance, Security,
		Accessibility, Learning, Prediction, Personalization, Collaboration:
		return true
	}
	return false
}

// String returns the tag as a string.
func (c Capability) String() string { return string(c) }

// Handler executes one unit of intelligence work against a tab.
// The context carries the cancellation signal: handlers must observe it
// and abandon their work when it fires. Failure is reported by returning
// an error, never by a sentinel in the result map.
type Handler func(ctx context.Context, tabID string, params map[string]any) (map[string]any, error)
