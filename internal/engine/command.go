package engine

import (
	"fmt"
	"strings"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/task"
)

// commandRule maps free-text keywords to a capability. Rules are
// checked in order; the first keyword hit wins, so more specific
// phrases sit above catch-alls like "check".
type commandRule struct {
	keywords   []string
	capability capability.Capability
	name       string
}

var commandRules = []commandRule{
	{[]string{"fill", "automate", "automation"}, capability.Automation, "Form automation"},
	{[]string{"secure", "security", "threat", "safe"}, capability.Security, "Security scan"},
	{[]string{"speed", "performance", "optimize", "slow"}, capability.Performance, "Performance analysis"},
	{[]string{"accessib", "contrast", "screen reader"}, capability.Accessibility, "Accessibility review"},
	{[]string{"predict", "preload", "prefetch"}, capability.Prediction, "Predictive preparation"},
	{[]string{"learn", "habit"}, capability.Learning, "Behavior model refresh"},
	{[]string{"personalize", "recommend"}, capability.Personalization, "Personalization pass"},
	{[]string{"share", "collaborate"}, capability.Collaboration, "Collaboration setup"},
	{[]string{"summarize", "ask", "explain"}, capability.AIInteraction, "Page question"},
	{[]string{"analyze", "analysis", "scan", "check"}, capability.WebAnalysis, "Page analysis"},
}

// ProcessCommand maps a free-text command onto a capability and queues
// a Medium-priority task for the tab. The raw command text travels in
// the task parameters so handlers can parse what the keyword match
// cannot.
func (e *Engine) ProcessCommand(tabID, text string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", fmt.Errorf("%w: empty command", ErrUnrecognizedCommand)
	}

	for _, rule := range commandRules {
		for _, kw := range rule.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			return e.QueueTask(QueueRequest{
				TabID:      tabID,
				Name:       rule.name,
				Capability: rule.capability,
				Priority:   task.PriorityMedium,
				Parameters: map[string]any{"command": text, "keyword": kw},
			})
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedCommand, text)
}
