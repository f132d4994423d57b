package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/monorkin/mesh-node-stats/internal/commands"
	"github.com/monorkin/mesh-node-stats/internal/query"
)

// askCmd runs a chat command locally, as if it were sent to the bot directly
var askCmd = &cobra.Command{
	Use:   "ask <command...>",
	Short: "Answer a chat command",
	Long: `Runs a chat command against the local database and prints the reply the bot
would send.

Examples:
  mesh-node-stats ask summary
  mesh-node-stats ask top snr 3 6h`,
	Args: cobra.MinimumNArgs(1),
	Run:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) {
	settings := loadSettings()

	store := openStore()
	defer store.Close()

	responder := commands.NewResponder(
		query.NewEngine(store, query.WithLogger(logger)),
		commands.WithRecentWindow(settings.RecentWindow),
		commands.WithLogger(logger),
	)

	fmt.Println(responder.Execute(context.Background(), strings.Join(args, " ")))
}

func init() {
	rootCmd.AddCommand(askCmd)
}
