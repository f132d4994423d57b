package models

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatNodeID renders a node number as "!1a2b3c4d".
func FormatNodeID(nodeID uint32) string {
	return fmt.Sprintf("!%08x", nodeID)
}

// ParseNodeID accepts either a decimal node number or the "!1a2b3c4d" hex form.
func ParseNodeID(value string) (uint32, error) {
	value = strings.TrimSpace(value)

	if hex, ok := strings.CutPrefix(value, "!"); ok {
		id, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid node id %q: %w", value, err)
		}
		return uint32(id), nil
	}

	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", value, err)
	}

	return uint32(id), nil
}
