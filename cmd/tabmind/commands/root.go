// Package commands implements the tabmind CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "tabmind",
	Short: "Browser intelligence task coordinator",
	Long: `Tabmind schedules and supervises intelligence tasks against browser
tabs: page analysis, security scanning, performance checks, form
automation, and the rest of the capability set. Completed work feeds a
bounded insight log that subscribers can watch live.

Settings live in ~/.config/tabmind/settings.yaml; finished tasks and
insights are archived to a local SQLite history.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Settings file path (default ~/.config/tabmind/settings.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
}
