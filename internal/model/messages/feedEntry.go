package messages

import (
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

type FeedKind string

const (
	FeedInfected       FeedKind = "node.infected"
	FeedRecovered      FeedKind = "node.recovered"
	FeedNeighborAtRisk FeedKind = "neighbor.at_risk"
)

// FeedEntry is a human-readable, severity-tagged line of the local alert feed.
type FeedEntry struct {
	ID        string            `json:"id"`
	Kind      FeedKind          `json:"kind"`
	NodeID    string            `json:"node_id"`
	ClusterID string            `json:"cluster_id"`
	RelatedID string            `json:"related_id,omitempty"` // infected neighbour for at-risk warnings
	Severity  entities.Severity `json:"severity"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
}
