package ingest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/monorkin/mesh-node-stats/internal/models"
)

const broadcastNodeID = 0xffffffff

// Observation is one node as reported by the mesh during a poll.
type Observation struct {
	NodeID        uint32
	LongName      string
	ShortName     string
	HardwareModel *string
	Latitude      *float64
	Longitude     *float64
	Altitude      *float64
	Battery       *float64
	Voltage       *float64
	ChannelUtil   *float64
	TxAirUtil     *float64
	SNR           *float64
	LastHeard     time.Time
}

func (obs Observation) Validate() error {
	if obs.NodeID == 0 || obs.NodeID == broadcastNodeID {
		return fmt.Errorf("invalid node id %d", obs.NodeID)
	}

	if obs.LastHeard.IsZero() {
		return errors.New("missing last heard timestamp")
	}

	snapshot := obs.snapshot(time.Time{})
	for _, metric := range models.TrackedMetrics {
		value := snapshot.Value(metric)
		if value != nil && (math.IsNaN(*value) || math.IsInf(*value, 0)) {
			return fmt.Errorf("metric %s is not a finite number", metric)
		}
	}

	return nil
}

func (obs Observation) snapshot(capturedAt time.Time) models.NodeSnapshot {
	return models.NodeSnapshot{
		NodeID:      obs.NodeID,
		Latitude:    obs.Latitude,
		Longitude:   obs.Longitude,
		Altitude:    obs.Altitude,
		Battery:     obs.Battery,
		Voltage:     obs.Voltage,
		ChannelUtil: obs.ChannelUtil,
		TxAirUtil:   obs.TxAirUtil,
		SNR:         obs.SNR,
		CapturedAt:  capturedAt,
	}
}

// metricsChanged compares every tracked metric by exact value. A metric going
// from unreported to reported, or back, is a change.
func metricsChanged(previous, current models.NodeSnapshot) bool {
	for _, metric := range models.TrackedMetrics {
		if !sameValue(previous.Value(metric), current.Value(metric)) {
			return true
		}
	}

	return false
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}
