package mesh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/monorkin/mesh-node-stats/internal/ingest"
	"github.com/monorkin/mesh-node-stats/internal/models"
)

const UNKNOWN_NAME = "Unknown"

// NodeInfo mirrors a node entry of a Meshtastic node database dump.
type NodeInfo struct {
	Num           uint32         `json:"num"`
	User          *User          `json:"user,omitempty"`
	Position      *Position      `json:"position,omitempty"`
	DeviceMetrics *DeviceMetrics `json:"deviceMetrics,omitempty"`
	SNR           *float64       `json:"snr,omitempty"`
	LastHeard     *int64         `json:"lastHeard,omitempty"`

	// Older firmware and client libraries report these at the top level.
	BatteryLevel       *float64 `json:"batteryLevel,omitempty"`
	ChannelUtilization *float64 `json:"channelUtilization,omitempty"`
	TxAirUtilization   *float64 `json:"txAirUtilization,omitempty"`
}

type User struct {
	ID        string `json:"id,omitempty"`
	LongName  string `json:"longName,omitempty"`
	ShortName string `json:"shortName,omitempty"`
	HwModel   string `json:"hwModel,omitempty"`
}

type Position struct {
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Altitude   *float64 `json:"altitude,omitempty"`
	LatitudeI  *int64   `json:"latitudeI,omitempty"`
	LongitudeI *int64   `json:"longitudeI,omitempty"`
}

type DeviceMetrics struct {
	BatteryLevel       *float64 `json:"batteryLevel,omitempty"`
	Voltage            *float64 `json:"voltage,omitempty"`
	ChannelUtilization *float64 `json:"channelUtilization,omitempty"`
	AirUtilTx          *float64 `json:"airUtilTx,omitempty"`
}

// DecodeNodes accepts a JSON array of nodes, an object keyed by node id, or
// either of those wrapped in {"nodes": ...}.
func DecodeNodes(data []byte) ([]NodeInfo, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty node list")
	}

	switch data[0] {
	case '[':
		var nodes []NodeInfo
		if err := json.Unmarshal(data, &nodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node list: %w", err)
		}
		return nodes, nil
	case '{':
		var wrapper struct {
			Nodes json.RawMessage `json:"nodes"`
		}
		if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Nodes) > 0 {
			return DecodeNodes(wrapper.Nodes)
		}

		var keyed map[string]NodeInfo
		if err := json.Unmarshal(data, &keyed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node map: %w", err)
		}

		nodes := make([]NodeInfo, 0, len(keyed))
		for key, node := range keyed {
			if node.Num == 0 {
				if id, err := models.ParseNodeID(key); err == nil {
					node.Num = id
				}
			}
			nodes = append(nodes, node)
		}
		return nodes, nil
	}

	return nil, fmt.Errorf("unexpected node list payload starting with %q", data[0])
}

// Observation converts the node into the ingestion input. Missing names
// become "Unknown" and a missing lastHeard becomes the Unix epoch.
func (node NodeInfo) Observation() ingest.Observation {
	obs := ingest.Observation{
		NodeID:    node.Num,
		LongName:  UNKNOWN_NAME,
		ShortName: UNKNOWN_NAME,
		SNR:       node.SNR,
		LastHeard: time.Unix(0, 0).UTC(),
	}

	if node.User != nil {
		if obs.NodeID == 0 && node.User.ID != "" {
			if id, err := models.ParseNodeID(node.User.ID); err == nil {
				obs.NodeID = id
			}
		}
		if node.User.LongName != "" {
			obs.LongName = node.User.LongName
		}
		if node.User.ShortName != "" {
			obs.ShortName = node.User.ShortName
		}
		if node.User.HwModel != "" {
			hwModel := node.User.HwModel
			obs.HardwareModel = &hwModel
		}
	}

	if position := node.Position; position != nil {
		obs.Latitude = coordinate(position.Latitude, position.LatitudeI)
		obs.Longitude = coordinate(position.Longitude, position.LongitudeI)
		obs.Altitude = position.Altitude
	}

	obs.Battery = node.BatteryLevel
	obs.ChannelUtil = node.ChannelUtilization
	obs.TxAirUtil = node.TxAirUtilization
	if metrics := node.DeviceMetrics; metrics != nil {
		obs.Battery = firstPresent(metrics.BatteryLevel, obs.Battery)
		obs.Voltage = metrics.Voltage
		obs.ChannelUtil = firstPresent(metrics.ChannelUtilization, obs.ChannelUtil)
		obs.TxAirUtil = firstPresent(metrics.AirUtilTx, obs.TxAirUtil)
	}

	if node.LastHeard != nil {
		obs.LastHeard = time.Unix(*node.LastHeard, 0).UTC()
	}

	return obs
}

func Observations(nodes []NodeInfo) []ingest.Observation {
	observations := make([]ingest.Observation, len(nodes))
	for i, node := range nodes {
		observations[i] = node.Observation()
	}

	return observations
}

// coordinate prefers the float form and falls back to the fixed point
// integer form (degrees * 1e7).
func coordinate(degrees *float64, fixed *int64) *float64 {
	if degrees != nil {
		return degrees
	}
	if fixed != nil {
		value := float64(*fixed) * 1e-7
		return &value
	}

	return nil
}

func firstPresent(values ...*float64) *float64 {
	for _, value := range values {
		if value != nil {
			return value
		}
	}

	return nil
}
