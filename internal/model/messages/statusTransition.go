package messages

import (
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

// StatusTransition is emitted whenever the health machine moves a node.
type StatusTransition struct {
	NodeID    string              `json:"node_id"`
	ClusterID string              `json:"cluster_id"`
	OldStatus entities.NodeStatus `json:"old_status"`
	NewStatus entities.NodeStatus `json:"new_status"`
	Triggers  []entities.Trigger  `json:"triggers,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Origin    string              `json:"origin,omitempty"`
}
