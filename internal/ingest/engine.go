package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/monorkin/mesh-node-stats/internal/database"
	"github.com/monorkin/mesh-node-stats/internal/models"
	"github.com/monorkin/mesh-node-stats/internal/telemetry"
)

// ErrIngestionItemFailed wraps any failure to normalize or write a single observation.
var ErrIngestionItemFailed = errors.New("ingestion item failed")

type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	// OutcomeNew is the first snapshot ever recorded for the node.
	OutcomeNew
	OutcomeChanged
)

func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeNew:
		return telemetry.ResultNew
	case OutcomeChanged:
		return telemetry.ResultChanged
	default:
		return telemetry.ResultUnchanged
	}
}

type ItemFailure struct {
	Index  int
	NodeID uint32
	Err    error
}

type BatchResult struct {
	ID       string
	Ingested int
	Appended int
	Failures []ItemFailure
}

// Err joins the per-item failures, or returns nil when every observation was ingested.
func (result BatchResult) Err() error {
	errs := make([]error, len(result.Failures))
	for i, failure := range result.Failures {
		errs[i] = failure.Err
	}

	return errors.Join(errs...)
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

// WithClock sets the source of snapshot capture times.
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

// Ingest upserts the node's identity and appends a snapshot if its metrics
// changed since the last one, all in one unit of work.
func (engine *Engine) Ingest(ctx context.Context, obs Observation) (Outcome, error) {
	var outcome Outcome

	err := engine.store.Begin(ctx, func(tx *gorm.DB) error {
		var err error
		outcome, err = engine.ingest(tx, obs)
		return err
	})
	if err != nil {
		engine.metrics.ObserveResult(telemetry.ResultFailed)
		return OutcomeUnchanged, err
	}

	engine.metrics.ObserveResult(outcome.String())
	engine.logger.Debug("Observation ingested", "node_id", models.FormatNodeID(obs.NodeID), "outcome", outcome.String())

	return outcome, nil
}

// IngestBatch ingests every observation in one unit of work. Each observation
// runs inside its own savepoint: a failing one is rolled back, logged and
// recorded in the result while the rest of the batch proceeds. The returned
// error is only set when the batch as a whole could not be committed.
func (engine *Engine) IngestBatch(ctx context.Context, observations []Observation) (BatchResult, error) {
	result := BatchResult{ID: uuid.NewString()}
	var outcomes []Outcome

	engine.logger.Debug("Ingesting batch", "batch_id", result.ID, "observations", len(observations))

	err := engine.store.Begin(ctx, func(tx *gorm.DB) error {
		for i, obs := range observations {
			if err := ctx.Err(); err != nil {
				return err
			}

			var outcome Outcome
			err := tx.Transaction(func(itemTx *gorm.DB) error {
				var err error
				outcome, err = engine.ingest(itemTx, obs)
				return err
			})
			if err != nil {
				if !errors.Is(err, ErrIngestionItemFailed) {
					err = fmt.Errorf("%w: node %s: %w", ErrIngestionItemFailed, models.FormatNodeID(obs.NodeID), err)
				}
				result.Failures = append(result.Failures, ItemFailure{Index: i, NodeID: obs.NodeID, Err: err})
				engine.logger.Warn("Skipping observation", "batch_id", result.ID, "index", i, "node_id", models.FormatNodeID(obs.NodeID), "error", err)
				continue
			}

			outcomes = append(outcomes, outcome)
		}

		return nil
	})
	if err != nil {
		return BatchResult{ID: result.ID}, fmt.Errorf("failed to commit batch %s: %w", result.ID, err)
	}

	for _, outcome := range outcomes {
		result.Ingested++
		if outcome != OutcomeUnchanged {
			result.Appended++
		}
		engine.metrics.ObserveResult(outcome.String())
	}
	for range result.Failures {
		engine.metrics.ObserveResult(telemetry.ResultFailed)
	}
	engine.metrics.BatchCommitted()

	engine.logger.Info("Batch ingested",
		"batch_id", result.ID,
		"ingested", result.Ingested,
		"appended", result.Appended,
		"failed", len(result.Failures),
	)

	return result, nil
}

func (engine *Engine) ingest(tx *gorm.DB, obs Observation) (Outcome, error) {
	nodeID := models.FormatNodeID(obs.NodeID)

	if err := obs.Validate(); err != nil {
		return OutcomeUnchanged, fmt.Errorf("%w: node %s: %w", ErrIngestionItemFailed, nodeID, err)
	}

	if err := upsertNode(tx, obs); err != nil {
		return OutcomeUnchanged, fmt.Errorf("%w: node %s: failed to upsert node: %w", ErrIngestionItemFailed, nodeID, err)
	}

	var latest models.NodeSnapshot
	found := tx.
		Where("node_id = ?", obs.NodeID).
		Order("captured_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&latest)
	if found.Error != nil {
		return OutcomeUnchanged, fmt.Errorf("%w: node %s: failed to load latest snapshot: %w", ErrIngestionItemFailed, nodeID, found.Error)
	}

	snapshot := obs.snapshot(engine.now().UTC())

	outcome := OutcomeNew
	if found.RowsAffected > 0 {
		if !metricsChanged(latest, snapshot) {
			return OutcomeUnchanged, nil
		}
		outcome = OutcomeChanged
	}

	if err := tx.Omit(clause.Associations).Create(&snapshot).Error; err != nil {
		return OutcomeUnchanged, fmt.Errorf("%w: node %s: failed to append snapshot: %w", ErrIngestionItemFailed, nodeID, err)
	}

	return outcome, nil
}

// upsertNode overwrites identity fields on every observation, whether or not
// the metrics changed.
func upsertNode(tx *gorm.DB, obs Observation) error {
	var node models.Node
	found := tx.Where("node_id = ?", obs.NodeID).Limit(1).Find(&node)
	if found.Error != nil {
		return found.Error
	}

	node.NodeID = obs.NodeID
	node.LongName = obs.LongName
	node.ShortName = obs.ShortName
	node.HardwareModel = obs.HardwareModel
	node.LastHeard = obs.LastHeard.UTC()

	if found.RowsAffected == 0 {
		return tx.Omit(clause.Associations).Create(&node).Error
	}

	return tx.Omit(clause.Associations).Save(&node).Error
}
