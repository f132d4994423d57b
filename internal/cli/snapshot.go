package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/monorkin/mesh-node-stats/internal/models"
	"github.com/monorkin/mesh-node-stats/internal/query"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"s", "snapshots"},
	Short:   "Get snapshot data",
	Long:    `Commands for retrieving recorded node snapshots.`,
}

// snapshotGetCmd represents the snapshot get command
var snapshotGetCmd = &cobra.Command{
	Use:   "get <node_id>",
	Short: "Get the latest snapshot for a node",
	Long: `Get the latest snapshot for a node specified by its decimal node number or its !hex id.

Examples:
  mesh-node-stats snapshot get 2712847316
  mesh-node-stats snapshot get '!a1b2c3d4'`,
	Args: cobra.ExactArgs(1),
	Run:  runSnapshotGet,
}

func runSnapshotGet(cmd *cobra.Command, args []string) {
	nodeID, err := models.ParseNodeID(args[0])
	if err != nil {
		exitWithError("Invalid node id", err)
	}

	store := openStore()
	defer store.Close()

	snapshot, err := query.NewEngine(store, query.WithLogger(logger)).LatestSnapshot(context.Background(), nodeID)
	if err != nil {
		exitWithError("No snapshot found", err)
	}

	output, err := json.MarshalIndent(newSnapshotResponse(snapshot), "", "  ")
	if err != nil {
		exitWithError("Failed to format response", err)
	}

	fmt.Fprintln(os.Stdout, string(output))

	logger.Debug("Snapshot get completed", "node_id", models.FormatNodeID(nodeID))
}

// NodeInfo represents node identity for JSON output
type NodeInfo struct {
	NodeID        uint32  `json:"node_id"`
	ID            string  `json:"id"`
	LongName      string  `json:"long_name"`
	ShortName     string  `json:"short_name"`
	HardwareModel *string `json:"hardware_model"`
	LastHeard     string  `json:"last_heard"`
}

// SnapshotInfo represents snapshot metrics for JSON output; unreported metrics are null
type SnapshotInfo struct {
	CapturedAt  string   `json:"captured_at"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Altitude    *float64 `json:"altitude"`
	Battery     *float64 `json:"battery"`
	Voltage     *float64 `json:"voltage"`
	ChannelUtil *float64 `json:"channel_util"`
	TxAirUtil   *float64 `json:"tx_air_util"`
	SNR         *float64 `json:"snr"`
}

type snapshotResponse struct {
	Node     NodeInfo     `json:"node"`
	Snapshot SnapshotInfo `json:"snapshot"`
}

func newSnapshotResponse(snapshot models.NodeSnapshot) snapshotResponse {
	node := snapshot.Node

	return snapshotResponse{
		Node: NodeInfo{
			NodeID:        node.NodeID,
			ID:            node.HexID(),
			LongName:      node.LongName,
			ShortName:     node.ShortName,
			HardwareModel: node.HardwareModel,
			LastHeard:     node.LastHeard.Format(timestampFormat),
		},
		Snapshot: SnapshotInfo{
			CapturedAt:  snapshot.CapturedAt.Format(timestampFormat),
			Latitude:    snapshot.Latitude,
			Longitude:   snapshot.Longitude,
			Altitude:    snapshot.Altitude,
			Battery:     snapshot.Battery,
			Voltage:     snapshot.Voltage,
			ChannelUtil: snapshot.ChannelUtil,
			TxAirUtil:   snapshot.TxAirUtil,
			SNR:         snapshot.SNR,
		},
	}
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.AddCommand(snapshotGetCmd)
}
