package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/history"
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Show archived insights",
	Long: `Display recent insights from the local history database, optionally
filtered by category (e.g. performance, security, automation).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")
		categoryFlag, _ := cmd.Flags().GetString("category")
		dbPath, _ := cmd.Flags().GetString("db")
		if dbPath == "" {
			dbPath = history.DefaultPath()
		}

		category := capability.Capability(categoryFlag)
		if categoryFlag != "" && !category.Valid() {
			return fmt.Errorf("unknown category %q", categoryFlag)
		}

		archive, err := history.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer func() { _ = archive.Close() }()

		insights, err := archive.RecentInsights(last, category)
		if err != nil {
			return fmt.Errorf("reading insights: %w", err)
		}
		if len(insights) == 0 {
			fmt.Println("No insights found.")
			return nil
		}

		for _, in := range insights {
			fmt.Printf("%s  [%s] %s (%.0f%%)\n", in.GeneratedAt.Local().Format("Jan 02 15:04"),
				in.Category, in.Title, in.Confidence*100)
			fmt.Printf("    %s\n", in.Description)
			for _, rec := range in.Recommendations {
				fmt.Printf("    - %s\n", rec)
			}
		}
		return nil
	},
}

func init() {
	insightsCmd.Flags().IntP("last", "n", 20, "Show last N insights")
	insightsCmd.Flags().StringP("category", "c", "", "Filter by capability category")
	insightsCmd.Flags().String("db", "", "History database path")
	rootCmd.AddCommand(insightsCmd)
}
