package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/monorkin/mesh-node-stats/internal/ingest"
	"github.com/monorkin/mesh-node-stats/internal/mesh"
)

var (
	meshDiscoverTimeout time.Duration
	meshPollHost        string
)

// meshCmd represents the mesh command
var meshCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Talk to mesh gateways",
	Long:  `Commands for finding mesh gateways and recording their node lists.`,
}

var meshDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find mesh gateways on the local network",
	Args:  cobra.NoArgs,
	Run:   runMeshDiscover,
}

var meshPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the mesh gateway once and record the result",
	Args:  cobra.NoArgs,
	Run:   runMeshPoll,
}

var meshIngestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Record a node list saved as JSON",
	Long: `Records the nodes in a JSON file in the same format the gateway serves, as a
single batch. Use "-" to read from standard input.`,
	Args: cobra.ExactArgs(1),
	Run:  runMeshIngest,
}

func runMeshDiscover(cmd *cobra.Command, args []string) {
	gateways, err := mesh.Discover(context.Background(), meshDiscoverTimeout, logger)
	if err != nil {
		exitWithError("Discovery failed", err)
	}

	if len(gateways) == 0 {
		fmt.Println("No gateways found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "INSTANCE\tHOSTNAME\tADDRESS")
	for _, gateway := range gateways {
		fmt.Fprintf(w, "%s\t%s\t%s\n", gateway.Instance, gateway.Hostname, gateway.APIAddress())
	}
}

func runMeshPoll(cmd *cobra.Command, args []string) {
	settings := loadSettings()
	if meshPollHost != "" {
		settings.MeshHost = meshPollHost
	}

	ctx := context.Background()
	source, err := resolveSource(ctx, settings)
	if err != nil {
		exitWithError("Failed to find a mesh gateway", err)
	}

	store := openStore()
	defer store.Close()

	ingester := ingest.NewEngine(store, ingest.WithLogger(logger))
	result, err := mesh.NewPoller(source, ingester, settings.PollInterval, logger, nil).PollOnce(ctx)
	if err != nil {
		exitWithError("Poll failed", err)
	}

	printBatchResult(result)
}

func runMeshIngest(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	observations, err := mesh.FileSource{Path: args[0]}.FetchNodes(ctx)
	if err != nil {
		exitWithError("Failed to read nodes", err)
	}

	store := openStore()
	defer store.Close()

	result, err := ingest.NewEngine(store, ingest.WithLogger(logger)).IngestBatch(ctx, observations)
	if err != nil {
		exitWithError("Failed to record nodes", err)
	}

	printBatchResult(result)
}

func printBatchResult(result ingest.BatchResult) {
	fmt.Printf("Batch %s: %d nodes, %d new snapshots, %d failed\n",
		result.ID, result.Ingested, result.Appended, len(result.Failures))

	for _, failure := range result.Failures {
		fmt.Fprintf(os.Stderr, "  item %d (node %d): %v\n", failure.Index, failure.NodeID, failure.Err)
	}
}

func init() {
	rootCmd.AddCommand(meshCmd)

	meshCmd.AddCommand(meshDiscoverCmd)
	meshCmd.AddCommand(meshPollCmd)
	meshCmd.AddCommand(meshIngestCmd)

	meshDiscoverCmd.Flags().DurationVarP(&meshDiscoverTimeout, "timeout", "t", mesh.DISCOVERY_TIMEOUT, "How long to browse for gateways")
	meshPollCmd.Flags().StringVar(&meshPollHost, "host", "", "Mesh gateway host (overrides mesh_host)")
}
