package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/monorkin/mesh-node-stats/internal/ingest"
	"github.com/monorkin/mesh-node-stats/internal/telemetry"
)

const DEFAULT_POLL_INTERVAL = 30 * time.Second

type BatchIngester interface {
	IngestBatch(ctx context.Context, observations []ingest.Observation) (ingest.BatchResult, error)
}

// Poller feeds the nodes reported by source into the ingester on a fixed interval.
type Poller struct {
	source   NodeSource
	ingester BatchIngester
	interval time.Duration
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

func NewPoller(source NodeSource, ingester BatchIngester, interval time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Poller {
	if interval <= 0 {
		interval = DEFAULT_POLL_INTERVAL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		source:   source,
		ingester: ingester,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run polls immediately and then every interval until ctx is done.
func (poller *Poller) Run(ctx context.Context) {
	poller.logger.Info("Starting mesh polling", "interval", poller.interval)

	if _, err := poller.PollOnce(ctx); err != nil {
		poller.logger.Error("Error during initial mesh poll", "error", err)
	}

	ticker := time.NewTicker(poller.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := poller.PollOnce(ctx); err != nil {
				poller.logger.Error("Error during periodic mesh poll", "error", err)
			}
		case <-ctx.Done():
			poller.logger.Info("Mesh polling stopped")
			return
		}
	}
}

func (poller *Poller) PollOnce(ctx context.Context) (ingest.BatchResult, error) {
	observations, err := poller.source.FetchNodes(ctx)
	if err != nil {
		poller.metrics.PollFailed()
		return ingest.BatchResult{}, fmt.Errorf("failed to fetch nodes: %w", err)
	}

	result, err := poller.ingester.IngestBatch(ctx, observations)
	if err != nil {
		poller.metrics.PollFailed()
		return result, err
	}

	poller.metrics.PollSucceeded(time.Now())
	poller.logger.Debug("Mesh poll completed", "batch_id", result.ID, "nodes_count", len(observations))

	return result, nil
}
