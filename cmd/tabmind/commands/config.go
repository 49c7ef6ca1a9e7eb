package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
	Long: `Inspect and edit the tabmind settings file.

Keys:
  capability.<tag>       enable or disable one capability (true/false)
  auto_optimize          background optimization sweeps (true/false)
  predictive_browsing    background predictive tasks (true/false)
  learning_mode          background behavior-model tasks (true/false)
  confidence_threshold   minimum insight confidence (0.0 - 1.0)
  max_concurrent_tasks   concurrency cap (1 - 20)`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings.Load(configPathFlag)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		enabled := cfg.EnabledCapabilities()
		names := make([]string, len(enabled))
		for i, c := range enabled {
			names[i] = string(c)
		}
		sort.Strings(names)

		fmt.Printf("settings file:        %s\n", cfg.Path())
		fmt.Printf("enabled capabilities: %s\n", strings.Join(names, ", "))
		fmt.Printf("auto_optimize:        %v\n", cfg.AutoOptimize())
		fmt.Printf("predictive_browsing:  %v\n", cfg.PredictiveBrowsing())
		fmt.Printf("learning_mode:        %v\n", cfg.LearningMode())
		fmt.Printf("confidence_threshold: %.2f\n", cfg.ConfidenceThreshold())
		fmt.Printf("max_concurrent_tasks: %d\n", cfg.MaxConcurrentTasks())
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings.Load(configPathFlag)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		value, err := readSetting(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

func readSetting(cfg *settings.Settings, key string) (string, error) {
	if tag, ok := strings.CutPrefix(key, "capability."); ok {
		c := capability.Capability(tag)
		if !c.Valid() {
			return "", fmt.Errorf("unknown capability %q", tag)
		}
		return strconv.FormatBool(cfg.Enabled(c)), nil
	}
	switch key {
	case "auto_optimize":
		return strconv.FormatBool(cfg.AutoOptimize()), nil
	case "predictive_browsing":
		return strconv.FormatBool(cfg.PredictiveBrowsing()), nil
	case "learning_mode":
		return strconv.FormatBool(cfg.LearningMode()), nil
	case "confidence_threshold":
		return strconv.FormatFloat(cfg.ConfidenceThreshold(), 'f', 2, 64), nil
	case "max_concurrent_tasks":
		return strconv.Itoa(cfg.MaxConcurrentTasks()), nil
	}
	return "", fmt.Errorf("unknown setting %q", key)
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting and persist it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := settings.Load(configPathFlag)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		key, value := args[0], args[1]
		if err := applySetting(cfg, key, value); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to %s\n", key, value)
		return nil
	},
}

func applySetting(cfg *settings.Settings, key, value string) error {
	if tag, ok := strings.CutPrefix(key, "capability."); ok {
		c := capability.Capability(tag)
		if !c.Valid() {
			return fmt.Errorf("unknown capability %q", tag)
		}
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing %q as bool: %w", value, err)
		}
		cfg.SetEnabled(c, on)
		return nil
	}

	switch key {
	case "auto_optimize", "predictive_browsing", "learning_mode":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing %q as bool: %w", value, err)
		}
		switch key {
		case "auto_optimize":
			cfg.SetAutoOptimize(on)
		case "predictive_browsing":
			cfg.SetPredictiveBrowsing(on)
		case "learning_mode":
			cfg.SetLearningMode(on)
		}
	case "confidence_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parsing %q as float: %w", value, err)
		}
		cfg.SetConfidenceThreshold(f)
	case "max_concurrent_tasks":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parsing %q as int: %w", value, err)
		}
		cfg.SetMaxConcurrentTasks(n)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
