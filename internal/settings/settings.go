// Package settings manages the mutable tabmind configuration block:
// enabled capabilities, feature flags, confidence threshold, and the
// concurrency cap. Values are loaded from and persisted to a YAML
// settings file via viper.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/quinn/tabmind/internal/capability"
)

// Concurrency cap bounds and defaults.
const (
	DefaultMaxConcurrent = 5
	MinConcurrent        = 1
	MaxConcurrent        = 20

	DefaultConfidenceThreshold = 0.6
)

// Settings holds the runtime-mutable configuration. Safe for
// concurrent use.
type Settings struct {
	mu   sync.RWMutex
	path string

	enabled             map[capability.Capability]bool
	autoOptimize        bool
	predictiveBrowsing  bool
	learningMode        bool
	confidenceThreshold float64
	maxConcurrent       int
}

// DefaultPath returns the default settings file path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tabmind", "settings.yaml")
}

// defaults returns a Settings with every capability enabled and stock
// thresholds.
func defaults(path string) *Settings {
	enabled := make(map[capability.Capability]bool, len(capability.All()))
	for _, c := range capability.All() {
		enabled[c] = true
	}
	return &Settings{
		path:                path,
		enabled:             enabled,
		confidenceThreshold: DefaultConfidenceThreshold,
		maxConcurrent:       DefaultMaxConcurrent,
	}
}

// Default returns in-memory settings with every capability enabled and
// stock thresholds, bound to the default path.
func Default() *Settings {
	return defaults(DefaultPath())
}

// Load reads settings from the YAML file at path, falling back to
// defaults for anything unset. A missing file yields pure defaults.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultPath()
	}
	s := defaults(path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if v.IsSet("capabilities.enabled") {
		enabled := make(map[capability.Capability]bool)
		for _, name := range v.GetStringSlice("capabilities.enabled") {
			c := capability.Capability(name)
			if c.Valid() {
				enabled[c] = true
			}
		}
		s.enabled = enabled
	}
	if v.IsSet("auto_optimize") {
		s.autoOptimize = v.GetBool("auto_optimize")
	}
	if v.IsSet("predictive_browsing") {
		s.predictiveBrowsing = v.GetBool("predictive_browsing")
	}
	if v.IsSet("learning_mode") {
		s.learningMode = v.GetBool("learning_mode")
	}
	if v.IsSet("confidence_threshold") {
		s.confidenceThreshold = v.GetFloat64("confidence_threshold")
	}
	if v.IsSet("max_concurrent_tasks") {
		s.maxConcurrent = clampConcurrent(v.GetInt("max_concurrent_tasks"))
	}

	return s, nil
}

// Save persists the current settings to the YAML file.
func (s *Settings) Save() error {
	s.mu.RLock()
	path := s.path
	enabled := make([]string, 0, len(s.enabled))
	for _, c := range capability.All() {
		if s.enabled[c] {
			enabled = append(enabled, string(c))
		}
	}
	autoOptimize := s.autoOptimize
	predictive := s.predictiveBrowsing
	learning := s.learningMode
	threshold := s.confidenceThreshold
	maxConcurrent := s.maxConcurrent
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read settings: %w", err)
		}
	}

	v.Set("capabilities.enabled", enabled)
	v.Set("auto_optimize", autoOptimize)
	v.Set("predictive_browsing", predictive)
	v.Set("learning_mode", learning)
	v.Set("confidence_threshold", threshold)
	v.Set("max_concurrent_tasks", maxConcurrent)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			return v.SafeWriteConfig()
		}
		return err
	}
	return nil
}

// Path returns the settings file path.
func (s *Settings) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Enabled reports whether a capability is in the enabled set.
func (s *Settings) Enabled(c capability.Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[c]
}

// SetEnabled adds or removes a capability from the enabled set.
func (s *Settings) SetEnabled(c capability.Capability, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		s.enabled[c] = true
	} else {
		delete(s.enabled, c)
	}
}

// EnabledCapabilities returns the enabled set in canonical order.
func (s *Settings) EnabledCapabilities() []capability.Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]capability.Capability, 0, len(s.enabled))
	for _, c := range capability.All() {
		if s.enabled[c] {
			out = append(out, c)
		}
	}
	return out
}

// AutoOptimize reports the auto-optimization flag.
func (s *Settings) AutoOptimize() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoOptimize
}

// SetAutoOptimize sets the auto-optimization flag.
func (s *Settings) SetAutoOptimize(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoOptimize = v
}

// PredictiveBrowsing reports the predictive-browsing flag.
func (s *Settings) PredictiveBrowsing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.predictiveBrowsing
}

// SetPredictiveBrowsing sets the predictive-browsing flag.
func (s *Settings) SetPredictiveBrowsing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictiveBrowsing = v
}

// LearningMode reports the learning-mode flag.
func (s *Settings) LearningMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.learningMode
}

// SetLearningMode sets the learning-mode flag.
func (s *Settings) SetLearningMode(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learningMode = v
}

// ConfidenceThreshold returns the minimum confidence an insight needs
// to be retained.
func (s *Settings) ConfidenceThreshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confidenceThreshold
}

// SetConfidenceThreshold sets the insight confidence threshold,
// clamped to [0, 1].
func (s *Settings) SetConfidenceThreshold(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confidenceThreshold = v
}

// MaxConcurrentTasks returns the concurrency cap.
func (s *Settings) MaxConcurrentTasks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxConcurrent
}

// SetMaxConcurrentTasks sets the concurrency cap, clamped to the valid
// range.
func (s *Settings) SetMaxConcurrentTasks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConcurrent = clampConcurrent(n)
}

func clampConcurrent(n int) int {
	if n < MinConcurrent {
		return MinConcurrent
	}
	if n > MaxConcurrent {
		return MaxConcurrent
	}
	return n
}
