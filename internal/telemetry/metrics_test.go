package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveResult(ResultNew)
	m.BatchCommitted()
	m.PollFailed()
	m.PollSucceeded(time.Now())
	m.TrackQuery("node_count", time.Now(), nil)
}

func TestMetrics_Records(t *testing.T) {
	t.Parallel()

	m := NewMetrics().Register(prometheus.NewRegistry())

	m.ObserveResult(ResultChanged)
	m.ObserveResult(ResultChanged)
	m.ObserveResult(ResultFailed)
	m.BatchCommitted()
	m.TrackQuery("top_nodes", time.Now(), errors.New("boom"))
	m.PollSucceeded(time.Unix(1700000000, 0))

	if got := testutil.ToFloat64(m.Observations.WithLabelValues(ResultChanged)); got != 2 {
		t.Fatalf("changed=%v", got)
	}
	if got := testutil.ToFloat64(m.Observations.WithLabelValues(ResultFailed)); got != 1 {
		t.Fatalf("failed=%v", got)
	}
	if got := testutil.ToFloat64(m.Batches); got != 1 {
		t.Fatalf("batches=%v", got)
	}
	if got := testutil.ToFloat64(m.QueryErrors.WithLabelValues("top_nodes")); got != 1 {
		t.Fatalf("query_errors=%v", got)
	}
	if got := testutil.ToFloat64(m.LastPoll); got != 1700000000 {
		t.Fatalf("last_poll=%v", got)
	}
}
