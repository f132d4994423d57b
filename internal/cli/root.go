package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/monorkin/mesh-node-stats/internal/config"
	"github.com/monorkin/mesh-node-stats/internal/database"
)

var (
	verbose      bool
	dbPath       string
	settingsPath string
	logger       *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mesh-node-stats",
	Short: "Mesh network node statistics",
	Long: `Tracks the nodes of a Meshtastic radio mesh over time.

The application polls a mesh gateway for the nodes it knows about, records a
snapshot whenever a node's position or telemetry changes, and answers questions
such as how many nodes were active in the last hour or which node had the best
signal-to-noise ratio today.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
	Run: runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the node database (default "+config.DBPath()+")")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "Path to settings.yaml (default "+config.DefaultSettingsPath()+")")
}

// setupLogger configures the logger based on the verbose flag
func setupLogger() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	slog.SetDefault(logger)
}

// loadSettings reads settings.yaml, writing the defaults on first run
func loadSettings() *config.Settings {
	path := settingsPath
	if path == "" {
		path = config.DefaultSettingsPath()
	}

	if _, err := os.Stat(path); err == nil {
		settings, err := config.LoadSettings(path)
		if err != nil {
			exitWithError("Invalid settings file", err)
		}
		logger.Debug("Loaded existing settings", "path", path)
		return settings
	}

	_, settings := config.LoadOrInitializeSettings(path)
	if err := settings.SaveTo(path); err != nil {
		logger.Warn("Failed to save new settings", "path", path, "error", err)
	} else {
		logger.Debug("Created new settings file", "path", path)
	}

	return settings
}

// openStore opens the node database, exiting the process if it is unavailable
func openStore() *database.Store {
	path := dbPath
	if path == "" {
		path = config.DBPath()
	}

	store, err := database.Open(path, database.WithLogger(logger), database.WithVerbose(verbose))
	if err != nil {
		exitWithError("Failed to open database", err)
	}

	return store
}

func exitWithError(msg string, err error) {
	logger.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}
