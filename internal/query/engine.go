package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/monorkin/mesh-node-stats/internal/database"
	"github.com/monorkin/mesh-node-stats/internal/models"
	"github.com/monorkin/mesh-node-stats/internal/telemetry"
)

var (
	// ErrInvalidMetric is returned for metric names outside models.TrackedMetrics.
	ErrInvalidMetric = models.ErrInvalidMetric
	ErrInvalidLimit  = errors.New("limit must be positive")
	ErrInvalidWindow = errors.New("window must be positive")
	ErrNodeNotFound  = errors.New("node not found")
)

// RankedSnapshot is one row of a top-N metric ranking. Snapshot.Node is
// populated so callers can report names without another lookup.
type RankedSnapshot struct {
	Snapshot models.NodeSnapshot
	Metric   models.Metric
	Value    float64
}

type Engine struct {
	store   *database.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(engine *Engine) {
		engine.metrics = metrics
	}
}

// WithClock sets the reference time that windows are measured back from.
func WithClock(now func() time.Time) Option {
	return func(engine *Engine) {
		engine.now = now
	}
}

func NewEngine(store *database.Store, opts ...Option) *Engine {
	engine := &Engine{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// NodeCount returns the number of nodes ever observed.
func (engine *Engine) NodeCount(ctx context.Context) (count int64, err error) {
	defer func(start time.Time) { engine.metrics.TrackQuery("node_count", start, err) }(time.Now())

	err = engine.store.Begin(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Node{}).Count(&count).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}

	return count, nil
}

// RecentNodes returns every node last heard within window of now, most
// recently heard first.
func (engine *Engine) RecentNodes(ctx context.Context, window time.Duration) (nodes []models.Node, err error) {
	defer func(start time.Time) { engine.metrics.TrackQuery("recent_nodes", start, err) }(time.Now())

	if window <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}

	endTime := engine.now().UTC()
	startTime := endTime.Add(-window)

	err = engine.store.Begin(ctx, func(tx *gorm.DB) error {
		return tx.
			Where("last_heard BETWEEN ? AND ?", startTime, endTime).
			Order("last_heard DESC").
			Order("node_id ASC").
			Find(&nodes).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent nodes: %w", err)
	}

	return nodes, nil
}

// TopNodesByMetric ranks snapshots captured within window by the named metric,
// highest first. Equal values are ordered most recently captured first, then
// by insertion order descending. Snapshots that did not report the metric are
// not ranked.
func (engine *Engine) TopNodesByMetric(ctx context.Context, metricName string, limit int, window time.Duration) (ranked []RankedSnapshot, err error) {
	defer func(start time.Time) { engine.metrics.TrackQuery("top_nodes_by_metric", start, err) }(time.Now())

	metric, err := models.ParseMetric(metricName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}

	endTime := engine.now().UTC()
	startTime := endTime.Add(-window)
	column := "node_snapshots." + metric.Column()

	var snapshots []models.NodeSnapshot
	err = engine.store.Begin(ctx, func(tx *gorm.DB) error {
		return tx.
			Joins("Node").
			Where("node_snapshots.captured_at BETWEEN ? AND ?", startTime, endTime).
			Where(column + " IS NOT NULL").
			Order(column + " DESC").
			Order("node_snapshots.captured_at DESC").
			Order("node_snapshots.id DESC").
			Limit(limit).
			Find(&snapshots).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank nodes by %s: %w", metric, err)
	}

	ranked = make([]RankedSnapshot, 0, len(snapshots))
	for _, snapshot := range snapshots {
		ranked = append(ranked, RankedSnapshot{Snapshot: snapshot, Metric: metric, Value: *snapshot.Value(metric)})
	}

	engine.logger.Debug("Ranked nodes", "metric", metric, "limit", limit, "window", window, "results", len(ranked))

	return ranked, nil
}

// LatestSnapshot returns the most recent snapshot recorded for nodeID, with
// its node populated.
func (engine *Engine) LatestSnapshot(ctx context.Context, nodeID uint32) (snapshot models.NodeSnapshot, err error) {
	defer func(start time.Time) { engine.metrics.TrackQuery("latest_snapshot", start, err) }(time.Now())

	var found int64
	err = engine.store.Begin(ctx, func(tx *gorm.DB) error {
		result := tx.
			Joins("Node").
			Where("node_snapshots.node_id = ?", nodeID).
			Order("node_snapshots.captured_at DESC").
			Order("node_snapshots.id DESC").
			Limit(1).
			Find(&snapshot)
		found = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return models.NodeSnapshot{}, fmt.Errorf("failed to fetch latest snapshot: %w", err)
	}
	if found == 0 {
		return models.NodeSnapshot{}, fmt.Errorf("%w: %s", ErrNodeNotFound, models.FormatNodeID(nodeID))
	}

	return snapshot, nil
}
