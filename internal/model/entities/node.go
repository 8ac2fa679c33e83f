package entities

// NodeStatus is the health status of a monitored node.
type NodeStatus string

const (
	StatusOnline   NodeStatus = "online"
	StatusInfected NodeStatus = "infected"
	StatusAtRisk   NodeStatus = "at_risk"
	StatusOffline  NodeStatus = "offline" // set externally (liveness), never by the health machine
)

// Node represents a single sensor unit deployed in the field.
type Node struct {
	ID        string     `json:"id"`         // unique node identifier
	ClusterID string     `json:"cluster_id"` // owning tenant
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Elevation float64    `json:"elevation,omitempty"` // metres, optional
	Status    NodeStatus `json:"status"`
}
