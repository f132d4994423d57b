package models

import (
	"time"
)

// NodeSnapshot is one recorded set of metrics for a node. Rows are append-only.
// A nil metric means the node did not report it, which is distinct from zero.
type NodeSnapshot struct {
	ID          uint   `gorm:"primarykey"`
	NodeID      uint32 `gorm:"index:idx_node_snapshots_node_id_captured_at,priority:1"`
	Node        Node   `gorm:"foreignKey:NodeID;references:NodeID"`
	Latitude    *float64
	Longitude   *float64
	Altitude    *float64
	Battery     *float64
	Voltage     *float64
	ChannelUtil *float64
	TxAirUtil   *float64
	SNR         *float64  `gorm:"column:snr"`
	CapturedAt  time.Time `gorm:"index:idx_node_snapshots_node_id_captured_at,priority:2;index"`
}

// Value returns the snapshot's reading for metric, or nil if it was not reported.
func (snapshot NodeSnapshot) Value(metric Metric) *float64 {
	switch metric {
	case MetricLatitude:
		return snapshot.Latitude
	case MetricLongitude:
		return snapshot.Longitude
	case MetricAltitude:
		return snapshot.Altitude
	case MetricBattery:
		return snapshot.Battery
	case MetricVoltage:
		return snapshot.Voltage
	case MetricChannelUtil:
		return snapshot.ChannelUtil
	case MetricTxAirUtil:
		return snapshot.TxAirUtil
	case MetricSNR:
		return snapshot.SNR
	}

	return nil
}
