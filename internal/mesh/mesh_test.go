package mesh

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/monorkin/mesh-node-stats/internal/ingest"
)

const nodeDump = `{
  "!a1b2c3d4": {
    "num": 2712847316,
    "user": {"id": "!a1b2c3d4", "longName": "Hilltop Relay", "shortName": "HILL", "hwModel": "RAK4631"},
    "position": {"latitudeI": 525200000, "longitudeI": 134050000, "altitude": 112},
    "deviceMetrics": {"batteryLevel": 101, "voltage": 4.2, "channelUtilization": 7.5, "airUtilTx": 0.75},
    "snr": 6.25,
    "lastHeard": 1714564800
  },
  "!00000010": {
    "user": {"id": "!00000010"},
    "batteryLevel": 55,
    "txAirUtilization": 2.5
  }
}`

func decodeSorted(t *testing.T, payload string) []NodeInfo {
	t.Helper()

	nodes, err := DecodeNodes([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeNodes: %v", err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Num < nodes[j].Num })
	return nodes
}

func TestDecodeNodes_KeyedMap(t *testing.T) {
	t.Parallel()

	nodes := decodeSorted(t, nodeDump)
	if len(nodes) != 2 {
		t.Fatalf("nodes=%d", len(nodes))
	}
	if nodes[0].Num != 0x10 || nodes[1].Num != 0xa1b2c3d4 {
		t.Fatalf("nums=%d,%d", nodes[0].Num, nodes[1].Num)
	}

	relay := nodes[1].Observation()
	if relay.LongName != "Hilltop Relay" || relay.ShortName != "HILL" {
		t.Fatalf("names=%q/%q", relay.LongName, relay.ShortName)
	}
	if relay.HardwareModel == nil || *relay.HardwareModel != "RAK4631" {
		t.Fatalf("hw=%v", relay.HardwareModel)
	}
	if relay.Latitude == nil || *relay.Latitude < 52.5199 || *relay.Latitude > 52.5201 {
		t.Fatalf("lat=%v", relay.Latitude)
	}
	if relay.Battery == nil || *relay.Battery != 101 || relay.Voltage == nil || *relay.Voltage != 4.2 {
		t.Fatalf("battery=%v voltage=%v", relay.Battery, relay.Voltage)
	}
	if relay.TxAirUtil == nil || *relay.TxAirUtil != 0.75 {
		t.Fatalf("tx=%v", relay.TxAirUtil)
	}
	if !relay.LastHeard.Equal(time.Unix(1714564800, 0)) {
		t.Fatalf("last_heard=%v", relay.LastHeard)
	}

	bare := nodes[0].Observation()
	if bare.LongName != UNKNOWN_NAME || bare.ShortName != UNKNOWN_NAME {
		t.Fatalf("names=%q/%q", bare.LongName, bare.ShortName)
	}
	if bare.Battery == nil || *bare.Battery != 55 || bare.TxAirUtil == nil || *bare.TxAirUtil != 2.5 {
		t.Fatalf("legacy metrics not mapped: %+v", bare)
	}
	if bare.SNR != nil || bare.Latitude != nil || bare.Voltage != nil {
		t.Fatalf("absent metrics must stay nil: %+v", bare)
	}
	if bare.LastHeard.Unix() != 0 {
		t.Fatalf("last_heard=%v", bare.LastHeard)
	}
}

func TestDecodeNodes_ArrayAndWrapper(t *testing.T) {
	t.Parallel()

	nodes := decodeSorted(t, `[{"num": 1, "snr": 0}, {"num": 2}]`)
	if len(nodes) != 2 || nodes[0].SNR == nil || *nodes[0].SNR != 0 {
		t.Fatalf("nodes=%+v", nodes)
	}

	nodes = decodeSorted(t, `{"nodes": [{"num": 3}]}`)
	if len(nodes) != 1 || nodes[0].Num != 3 {
		t.Fatalf("nodes=%+v", nodes)
	}

	if _, err := DecodeNodes([]byte(`"nope"`)); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := DecodeNodes(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestClient_FetchNodes(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/nodes" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(nodeDump))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.SetNodesPath("api/nodes")

	observations, err := client.FetchNodes(context.Background())
	if err != nil {
		t.Fatalf("FetchNodes: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("observations=%d", len(observations))
	}
}

func TestClient_FetchNodes_HTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL).FetchNodes(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewClient_AddsScheme(t *testing.T) {
	t.Parallel()

	client := NewClient("192.168.1.20/")
	if got := client.URL(); got != "http://192.168.1.20/json/nodes" {
		t.Fatalf("url=%s", got)
	}
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nodes.json")
	if err := os.WriteFile(path, []byte(nodeDump), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	observations, err := FileSource{Path: path}.FetchNodes(context.Background())
	if err != nil || len(observations) != 2 {
		t.Fatalf("observations=%d err=%v", len(observations), err)
	}
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSource) FetchNodes(ctx context.Context) ([]ingest.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []ingest.Observation{{NodeID: 1, LastHeard: time.Now()}}, nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeIngester struct {
	mu      sync.Mutex
	batches int
}

func (i *fakeIngester) IngestBatch(ctx context.Context, observations []ingest.Observation) (ingest.BatchResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.batches++
	return ingest.BatchResult{ID: "test", Ingested: len(observations)}, nil
}

func (i *fakeIngester) Batches() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.batches
}

func TestPoller_PollOnceFetchError(t *testing.T) {
	t.Parallel()

	source := &fakeSource{err: errors.New("radio offline")}
	ingester := &fakeIngester{}
	poller := NewPoller(source, ingester, time.Second, nil, nil)

	if _, err := poller.PollOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if ingester.Batches() != 0 {
		t.Fatalf("batches=%d", ingester.Batches())
	}
}

func TestPoller_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	ingester := &fakeIngester{}
	poller := NewPoller(source, ingester, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for ingester.Batches() < 3 {
		select {
		case <-deadline:
			t.Fatalf("batches=%d", ingester.Batches())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not stop")
	}
	if source.Calls() < 3 {
		t.Fatalf("calls=%d", source.Calls())
	}
}

func TestGatewayFromEntry(t *testing.T) {
	t.Parallel()

	entry := zeroconf.NewServiceEntry("Meshtastic_c3d4", MESHTASTIC_SERVICE, DISCOVERY_DOMAIN)
	entry.HostName = "meshtastic-c3d4.local."
	entry.Port = 4403

	if _, ok := gatewayFromEntry(entry); ok {
		t.Fatalf("entry without addresses accepted")
	}

	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	gateway, ok := gatewayFromEntry(entry)
	if !ok {
		t.Fatalf("entry rejected")
	}
	if gateway.Host() != "192.168.1.20" || gateway.APIAddress() != "192.168.1.20:4403" {
		t.Fatalf("gateway=%+v", gateway)
	}
	if gateway.Instance != "Meshtastic_c3d4" {
		t.Fatalf("instance=%q", gateway.Instance)
	}
}
