package cli

import (
	"context"
	"testing"

	"github.com/monorkin/mesh-node-stats/internal/config"
)

func TestResolveSource_ConfiguredHostSkipsDiscovery(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MeshHost = "192.168.1.40"
	settings.MeshNodesPath = "api/nodes"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, err := resolveSource(ctx, settings)
	if err != nil {
		t.Fatalf("resolveSource: %v", err)
	}
	if got := client.URL(); got != "http://192.168.1.40/api/nodes" {
		t.Fatalf("url=%q", got)
	}
}
