package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the node database",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the database path and schema version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		version, err := store.SchemaVersion(context.Background())
		if err != nil {
			exitWithError("Failed to read schema version", err)
		}

		fmt.Printf("Path:           %s\n", store.Path())
		fmt.Printf("Schema version: %d\n", version)
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the latest migration",
	Long: `Reverts the latest applied migration. The next command that opens the
database migrates it forward again.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		version, err := store.RollbackMigration(context.Background())
		if err != nil {
			exitWithError("Rollback failed", err)
		}

		fmt.Printf("Rolled back migration %d\n", version)
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)

	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
}
