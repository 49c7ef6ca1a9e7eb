package commands

import (
	"path/filepath"
	"testing"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/settings"
)

func testConfig(t *testing.T) *settings.Settings {
	t.Helper()
	cfg, err := settings.Load(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestApplySetting(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
		check   func(*settings.Settings) bool
	}{
		{"capability.security", "false", false, func(s *settings.Settings) bool {
			return !s.Enabled(capability.Security)
		}},
		{"capability.telepathy", "true", true, nil},
		{"auto_optimize", "true", false, func(s *settings.Settings) bool {
			return s.AutoOptimize()
		}},
		{"confidence_threshold", "0.8", false, func(s *settings.Settings) bool {
			return s.ConfidenceThreshold() == 0.8
		}},
		{"confidence_threshold", "high", true, nil},
		{"max_concurrent_tasks", "7", false, func(s *settings.Settings) bool {
			return s.MaxConcurrentTasks() == 7
		}},
		{"nonsense_key", "1", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := testConfig(t)
			err := applySetting(cfg, tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("applySetting: %v", err)
			}
			if !tt.check(cfg) {
				t.Fatalf("setting %s=%s did not take effect", tt.key, tt.value)
			}
		})
	}
}

func TestReadSetting(t *testing.T) {
	cfg := testConfig(t)
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"capability.security", "true", false},
		{"max_concurrent_tasks", "5", false},
		{"confidence_threshold", "0.60", false},
		{"capability.telepathy", "", true},
		{"nonsense_key", "", true},
	}
	for _, tt := range tests {
		got, err := readSetting(cfg, tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("readSetting(%q): expected error", tt.key)
			}
			continue
		}
		if err != nil {
			t.Errorf("readSetting(%q): %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("readSetting(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tab-42", "tab"},
		{"0f8fad5b-d9cb-469f-a165-70867728950e", "0f8fad5b"},
		{"short", "short"},
	}
	for _, tt := range tests {
		if got := shortID(tt.in); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
