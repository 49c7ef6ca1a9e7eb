package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quinn/tabmind/internal/engine"
	"github.com/quinn/tabmind/internal/history"
	"github.com/quinn/tabmind/internal/logging"
	"github.com/quinn/tabmind/internal/settings"
)

var (
	runTabsFlag     []string
	runLogLevelFlag string
	runDBFlag       string
	runQuietFlag    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the task engine in the foreground",
	Long: `Start the engine with the built-in capability handlers and keep it
running until interrupted.

Tabs named with --tab are registered on startup, which queues the
initial analysis triple for each. Settings file changes are picked up
live; edits to max_concurrent_tasks resize the running engine.`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringSliceVar(&runTabsFlag, "tab", nil, "Tab id to register on startup (repeatable)")
	runCmd.Flags().StringVar(&runLogLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&runDBFlag, "db", "", "History database path (default ~/.local/share/tabmind/history.db)")
	runCmd.Flags().BoolVarP(&runQuietFlag, "quiet", "q", false, "Don't print insights to stdout")
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = runLogLevelFlag
	if err := logging.Init(logCfg); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() { _ = logging.Get().Close() }()
	log := logging.Component("cli")

	cfg, err := settings.Load(configPathFlag)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	dbPath := runDBFlag
	if dbPath == "" {
		dbPath = history.DefaultPath()
	}
	archive, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer func() { _ = archive.Close() }()

	eng := engine.New(
		engine.WithSettings(cfg),
		engine.WithHistory(archive),
	)
	if err := registerBuiltinHandlers(eng); err != nil {
		return fmt.Errorf("registering handlers: %w", err)
	}
	if err := eng.Start(); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer eng.Stop()

	// Live settings reload: the cap resize can block until slots
	// free, so it runs off the watcher goroutine.
	stopWatch, err := cfg.Watch(func(*settings.Settings) {
		go func() {
			if err := eng.SetMaxConcurrent(cfg.MaxConcurrentTasks()); err != nil {
				log.Warnf("applying concurrency cap: %v", err)
			}
		}()
	})
	if err != nil {
		log.Warnf("settings watcher unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	for _, tabID := range runTabsFlag {
		eng.RegisterTab(tabID, nil)
	}

	if !runQuietFlag {
		insights := eng.SubscribeInsights()
		defer eng.UnsubscribeInsights(insights)
		go func() {
			for in := range insights {
				fmt.Printf("[%s] %s: %s (confidence %.2f)\n",
					in.Category, in.Title, in.Description, in.Confidence)
			}
		}()
	}

	fmt.Printf("tabmind engine running (cap %d, %d capabilities enabled). Ctrl-C to stop.\n",
		cfg.MaxConcurrentTasks(), len(cfg.EnabledCapabilities()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down...")
	return nil
}
