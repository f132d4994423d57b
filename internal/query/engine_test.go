package query

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/monorkin/mesh-node-stats/internal/database"
	"github.com/monorkin/mesh-node-stats/internal/ingest"
	"github.com/monorkin/mesh-node-stats/internal/models"
)

func f(v float64) *float64 { return &v }

type fixture struct {
	store   *database.Store
	ingest  *ingest.Engine
	query   *Engine
	now     time.Time
	capture time.Time
}

// newFixture wires an ingest and a query engine to one store. Snapshots are
// captured at fx.capture, queries are answered as of fx.now.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := database.Open(filepath.Join(t.TempDir(), "nodes.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fx := &fixture{store: store}
	fx.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fx.capture = fx.now
	fx.ingest = ingest.NewEngine(store, ingest.WithClock(func() time.Time { return fx.capture }))
	fx.query = NewEngine(store, WithClock(func() time.Time { return fx.now }))

	return fx
}

func (fx *fixture) observe(t *testing.T, obs ingest.Observation) {
	t.Helper()

	if _, err := fx.ingest.Ingest(context.Background(), obs); err != nil {
		t.Fatalf("Ingest node %d: %v", obs.NodeID, err)
	}
}

func observation(nodeID uint32, name string, lastHeard time.Time) ingest.Observation {
	return ingest.Observation{
		NodeID:    nodeID,
		LongName:  name,
		ShortName: name[:1],
		Battery:   f(50),
		LastHeard: lastHeard,
	}
}

func TestNodeCount_CountsDistinctNodes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	for _, id := range []uint32{1, 2, 3} {
		fx.observe(t, observation(id, "node", fx.now))
	}
	for i := 0; i < 5; i++ {
		obs := observation(1, "node", fx.now)
		obs.Battery = f(float64(60 + i))
		fx.observe(t, obs)
	}

	count, err := fx.query.NodeCount(context.Background())
	if err != nil {
		t.Fatalf("NodeCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("count=%d", count)
	}
}

func TestRecentNodes_Window(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.observe(t, observation(1, "stale", fx.now.Add(-90*time.Minute)))
	fx.observe(t, observation(2, "fresh", fx.now.Add(-30*time.Minute)))

	nodes, err := fx.query.RecentNodes(context.Background(), 60*time.Minute)
	if err != nil {
		t.Fatalf("RecentNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].NodeID != 2 {
		t.Fatalf("nodes=%+v", nodes)
	}
	if nodes[0].LongName != "fresh" {
		t.Fatalf("long_name=%q", nodes[0].LongName)
	}
}

func TestRecentNodes_OrderedMostRecentFirst(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.observe(t, observation(1, "a", fx.now.Add(-40*time.Minute)))
	fx.observe(t, observation(2, "b", fx.now.Add(-5*time.Minute)))
	fx.observe(t, observation(3, "c", fx.now.Add(-20*time.Minute)))

	nodes, err := fx.query.RecentNodes(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("RecentNodes: %v", err)
	}
	if len(nodes) != 3 || nodes[0].NodeID != 2 || nodes[1].NodeID != 3 || nodes[2].NodeID != 1 {
		t.Fatalf("nodes=%+v", nodes)
	}
}

func TestRecentNodes_RejectsNonPositiveWindow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	if _, err := fx.query.RecentNodes(context.Background(), 0); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("err=%v", err)
	}
}

func TestTopNodesByMetric_OrdersDescending(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	for i, snr := range []float64{1.0, 9.5, 4.2} {
		obs := observation(uint32(i+1), []string{"alpha", "bravo", "charlie"}[i], fx.now)
		obs.SNR = f(snr)
		fx.observe(t, obs)
	}

	ranked, err := fx.query.TopNodesByMetric(context.Background(), "snr", 1, 6*time.Hour)
	if err != nil {
		t.Fatalf("TopNodesByMetric: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("ranked=%d", len(ranked))
	}
	top := ranked[0]
	if top.Value != 9.5 || top.Snapshot.NodeID != 2 {
		t.Fatalf("top=%+v", top)
	}
	if top.Snapshot.Node.LongName != "bravo" {
		t.Fatalf("node not joined: %+v", top.Snapshot.Node)
	}

	ranked, err = fx.query.TopNodesByMetric(context.Background(), "snr", 10, 6*time.Hour)
	if err != nil {
		t.Fatalf("TopNodesByMetric: %v", err)
	}
	if len(ranked) != 3 || ranked[0].Value != 9.5 || ranked[1].Value != 4.2 || ranked[2].Value != 1.0 {
		t.Fatalf("ranked=%+v", ranked)
	}
}

func TestTopNodesByMetric_ExcludesOutsideWindowAndMissing(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	fx.capture = fx.now.Add(-7 * time.Hour)
	old := observation(1, "old", fx.capture)
	old.SNR = f(12)
	fx.observe(t, old)

	fx.capture = fx.now.Add(-time.Hour)
	missing := observation(2, "quiet", fx.capture)
	fx.observe(t, missing)

	inside := observation(3, "inside", fx.capture)
	inside.SNR = f(-3)
	fx.observe(t, inside)

	ranked, err := fx.query.TopNodesByMetric(context.Background(), "snr", 5, 6*time.Hour)
	if err != nil {
		t.Fatalf("TopNodesByMetric: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Snapshot.NodeID != 3 || ranked[0].Value != -3 {
		t.Fatalf("ranked=%+v", ranked)
	}
}

func TestTopNodesByMetric_TiesMostRecentFirst(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	fx.capture = fx.now.Add(-2 * time.Hour)
	older := observation(1, "older", fx.capture)
	older.SNR = f(6)
	fx.observe(t, older)

	fx.capture = fx.now.Add(-time.Hour)
	newer := observation(2, "newer", fx.capture)
	newer.SNR = f(6)
	fx.observe(t, newer)

	ranked, err := fx.query.TopNodesByMetric(context.Background(), "snr", 2, 6*time.Hour)
	if err != nil {
		t.Fatalf("TopNodesByMetric: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Snapshot.NodeID != 2 || ranked[1].Snapshot.NodeID != 1 {
		t.Fatalf("ranked=%+v", ranked)
	}
}

func TestTopNodesByMetric_InvalidMetric(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.observe(t, observation(1, "node", fx.now))

	ranked, err := fx.query.TopNodesByMetric(context.Background(), "bogus", 1, time.Hour)
	if !errors.Is(err, ErrInvalidMetric) {
		t.Fatalf("err=%v", err)
	}
	if ranked != nil {
		t.Fatalf("ranked=%+v", ranked)
	}

	var snapshots int64
	err = fx.store.Begin(context.Background(), func(tx *gorm.DB) error {
		return tx.Model(&models.NodeSnapshot{}).Count(&snapshots).Error
	})
	if err != nil || snapshots != 1 {
		t.Fatalf("snapshots=%d err=%v", snapshots, err)
	}
}

func TestTopNodesByMetric_InvalidLimit(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	if _, err := fx.query.TopNodesByMetric(context.Background(), "snr", 0, time.Hour); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("err=%v", err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.query.LatestSnapshot(ctx, 1); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("err=%v", err)
	}

	fx.observe(t, observation(1, "node", fx.now))
	fx.capture = fx.now.Add(time.Minute)
	obs := observation(1, "node", fx.now)
	obs.Battery = f(42)
	fx.observe(t, obs)

	snapshot, err := fx.query.LatestSnapshot(ctx, 1)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if snapshot.Battery == nil || *snapshot.Battery != 42 {
		t.Fatalf("battery=%v", snapshot.Battery)
	}
	if snapshot.Node.LongName != "node" {
		t.Fatalf("node=%+v", snapshot.Node)
	}
}

func TestConcurrentIngestAndQueries(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	const (
		writers = 6
		batches = 15
		perNode = 5
		readers = 4
	)

	var wg sync.WaitGroup
	errs := make(chan error, writers*batches+readers*batches*2)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				batch := make([]ingest.Observation, perNode)
				for i := range batch {
					obs := observation(uint32(w*perNode+i+1), "node", fx.now)
					obs.SNR = f(float64(b))
					batch[i] = obs
				}
				result, err := fx.ingest.IngestBatch(ctx, batch)
				if err == nil {
					err = result.Err()
				}
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < batches; i++ {
				if _, err := fx.query.NodeCount(ctx); err != nil {
					errs <- err
				}
				if _, err := fx.query.TopNodesByMetric(ctx, "snr", 3, time.Hour); err != nil {
					errs <- err
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	count, err := fx.query.NodeCount(ctx)
	if err != nil || count != writers*perNode {
		t.Fatalf("count=%d err=%v", count, err)
	}

	var snapshots int64
	err = fx.store.Begin(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.NodeSnapshot{}).Count(&snapshots).Error
	})
	if err != nil || snapshots != writers*batches*perNode {
		t.Fatalf("snapshots=%d err=%v", snapshots, err)
	}
}
