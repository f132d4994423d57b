package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/monorkin/mesh-node-stats/internal/models"
	"github.com/monorkin/mesh-node-stats/internal/query"
)

const timestampFormat = "2006-01-02T15:04:05Z07:00"

var (
	nodeListWindow time.Duration
	nodeTopLimit   int
	nodeTopWindow  time.Duration
)

// nodeCmd represents the node command
var nodeCmd = &cobra.Command{
	Use:     "node",
	Aliases: []string{"n", "nodes"},
	Short:   "Query recorded nodes",
	Long:    `Commands for counting, listing and ranking the nodes recorded from the mesh.`,
}

var nodeCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count every node ever observed",
	Args:  cobra.NoArgs,
	Run:   runNodeCount,
}

var nodeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recently heard nodes",
	Long:    `List the nodes heard within the window with their ID, name, alias, hardware model and last heard timestamp.`,
	Args:    cobra.NoArgs,
	Run:     runNodeList,
}

var nodeTopCmd = &cobra.Command{
	Use:   "top <metric>",
	Short: "Rank nodes by a metric",
	Long: fmt.Sprintf(`Rank the snapshots recorded within the window by a metric, highest first.

Metrics: %s

Examples:
  mesh-node-stats node top snr
  mesh-node-stats node top battery --limit 10 --window 24h`, models.MetricNames()),
	Args: cobra.ExactArgs(1),
	Run:  runNodeTop,
}

func runNodeCount(cmd *cobra.Command, args []string) {
	store := openStore()
	defer store.Close()

	count, err := query.NewEngine(store, query.WithLogger(logger)).NodeCount(context.Background())
	if err != nil {
		exitWithError("Failed to count nodes", err)
	}

	fmt.Println(count)
}

func runNodeList(cmd *cobra.Command, args []string) {
	store := openStore()
	defer store.Close()

	logger.Debug("Fetching recent nodes from database", "window", nodeListWindow)

	nodes, err := query.NewEngine(store, query.WithLogger(logger)).RecentNodes(context.Background(), nodeListWindow)
	if err != nil {
		exitWithError("Failed to fetch nodes", err)
	}

	if len(nodes) == 0 {
		fmt.Printf("No nodes heard in the last %s.\n", nodeListWindow)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tALIAS\tHARDWARE\tLAST HEARD")
	fmt.Fprintln(w, "--\t----\t-----\t--------\t----------")

	for _, node := range nodes {
		hardware := "-"
		if node.HardwareModel != nil {
			hardware = *node.HardwareModel
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			node.HexID(),
			node.LongName,
			node.ShortName,
			hardware,
			node.LastHeard.Format(timestampFormat),
		)
	}

	logger.Debug("Node list completed", "count", len(nodes))
}

func runNodeTop(cmd *cobra.Command, args []string) {
	store := openStore()
	defer store.Close()

	ranked, err := query.NewEngine(store, query.WithLogger(logger)).TopNodesByMetric(context.Background(), args[0], nodeTopLimit, nodeTopWindow)
	if err != nil {
		exitWithError("Failed to rank nodes", err)
	}

	if len(ranked) == 0 {
		fmt.Printf("No %s readings in the last %s.\n", args[0], nodeTopWindow)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "#\tID\tNAME\t%s\tCAPTURED AT\n", ranked[0].Metric)
	for i, row := range ranked {
		fmt.Fprintf(w, "%d\t%s\t%s\t%g\t%s\n",
			i+1,
			models.FormatNodeID(row.Snapshot.NodeID),
			row.Snapshot.Node.LongName,
			row.Value,
			row.Snapshot.CapturedAt.Format(timestampFormat),
		)
	}
}

func init() {
	rootCmd.AddCommand(nodeCmd)

	nodeCmd.AddCommand(nodeCountCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeTopCmd)

	nodeListCmd.Flags().DurationVarP(&nodeListWindow, "window", "w", time.Hour, "Only nodes heard within this window")
	nodeTopCmd.Flags().IntVarP(&nodeTopLimit, "limit", "l", 5, "Number of snapshots to show")
	nodeTopCmd.Flags().DurationVarP(&nodeTopWindow, "window", "w", 6*time.Hour, "Only snapshots captured within this window")
}
