package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quinn/tabmind/internal/history"
	"github.com/quinn/tabmind/internal/task"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archived task history",
	Long: `Display recent archived tasks and overall counts by status.

Shows the last N tasks (default: 10) from the local history database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")
		dbPath, _ := cmd.Flags().GetString("db")
		if dbPath == "" {
			dbPath = history.DefaultPath()
		}

		archive, err := history.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer func() { _ = archive.Close() }()

		counts, err := archive.CountByStatus()
		if err != nil {
			return fmt.Errorf("reading counts: %w", err)
		}
		tasks, err := archive.RecentTasks(last)
		if err != nil {
			return fmt.Errorf("reading tasks: %w", err)
		}

		if len(tasks) == 0 {
			fmt.Println("No task history found.")
			return nil
		}

		fmt.Printf("Totals: %d completed, %d failed, %d cancelled\n\n",
			counts[task.StatusCompleted], counts[task.StatusFailed], counts[task.StatusCancelled])

		for _, t := range tasks {
			fmt.Printf("%-10s %-16s %-12s %s\n",
				t.Status, t.Capability, formatWhen(t.CompletedAt), taskLabel(t))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntP("last", "n", 10, "Show last N tasks")
	statusCmd.Flags().String("db", "", "History database path")
	rootCmd.AddCommand(statusCmd)
}

func formatWhen(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.Local().Format("Jan 02 15:04")
}

func taskLabel(t task.Task) string {
	name := t.Name
	if name == "" {
		name = string(t.Capability) + " task"
	}
	if t.Error != "" {
		return fmt.Sprintf("%s (%s)", name, t.Error)
	}
	if t.TabID != "" {
		return fmt.Sprintf("%s [tab %s]", name, shortID(t.TabID))
	}
	return name
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 && i <= 8 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
