package models

import (
	"time"
)

// Node is the latest known identity of a physical radio in the mesh.
// It is overwritten in place on every observation and never deleted.
type Node struct {
	NodeID        uint32 `gorm:"primaryKey;autoIncrement:false"`
	LongName      string
	ShortName     string
	HardwareModel *string
	LastHeard     time.Time `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Snapshots     []NodeSnapshot `gorm:"foreignKey:NodeID;references:NodeID"`
}

// HexID renders the node number the way mesh clients display it.
func (node Node) HexID() string {
	return FormatNodeID(node.NodeID)
}
