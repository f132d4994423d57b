package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidMetric = errors.New("invalid metric")

// Metric names one of the tracked node measurements. The name doubles as the
// node_snapshots column holding it.
type Metric string

const (
	MetricLatitude    Metric = "latitude"
	MetricLongitude   Metric = "longitude"
	MetricAltitude    Metric = "altitude"
	MetricBattery     Metric = "battery"
	MetricVoltage     Metric = "voltage"
	MetricChannelUtil Metric = "channel_util"
	MetricTxAirUtil   Metric = "tx_air_util"
	MetricSNR         Metric = "snr"
)

// TrackedMetrics is the fixed set of fields compared by change detection and
// accepted by metric queries.
var TrackedMetrics = []Metric{
	MetricLatitude,
	MetricLongitude,
	MetricAltitude,
	MetricBattery,
	MetricVoltage,
	MetricChannelUtil,
	MetricTxAirUtil,
	MetricSNR,
}

type MetricInfo struct {
	Label string
	Unit  string
}

func GetMetricInfo() map[Metric]MetricInfo {
	return map[Metric]MetricInfo{
		MetricLatitude:    {"Latitude", "°"},
		MetricLongitude:   {"Longitude", "°"},
		MetricAltitude:    {"Altitude", "m"},
		MetricBattery:     {"Battery", "%"},
		MetricVoltage:     {"Voltage", "V"},
		MetricChannelUtil: {"Channel utilization", "%"},
		MetricTxAirUtil:   {"TX air utilization", "%"},
		MetricSNR:         {"SNR", "dB"},
	}
}

// ParseMetric resolves a user supplied metric name. Matching ignores case and
// accepts dashes in place of underscores.
func ParseMetric(name string) (Metric, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")

	for _, metric := range TrackedMetrics {
		if string(metric) == normalized {
			return metric, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidMetric, name)
}

// Column is the node_snapshots column storing the metric.
func (metric Metric) Column() string {
	return string(metric)
}

func MetricNames() []string {
	names := make([]string, len(TrackedMetrics))
	for i, metric := range TrackedMetrics {
		names[i] = string(metric)
	}

	return names
}
