package messages

import "time"

// HazardType names a critical hazard rule.
type HazardType string

// CriticalAlert is one hazard event raised for a source node. At most one
// active alert exists per (SourceNodeID, HazardType); a superseded alert is
// re-published with Active=false rather than mutated in place.
type CriticalAlert struct {
	ID              string     `json:"id"`
	SourceNodeID    string     `json:"source_node_id"`
	SourceClusterID string     `json:"source_cluster_id"`
	HazardType      HazardType `json:"hazard_type"`
	Message         string     `json:"message"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Active          bool       `json:"active"`
	Manual          bool       `json:"manual,omitempty"` // raised by an operator test
	Timestamp       time.Time  `json:"timestamp"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
	Origin          string     `json:"origin,omitempty"`
}

// Key returns the supersede key of the alert.
func (a CriticalAlert) Key() AlertKey {
	return AlertKey{SourceNodeID: a.SourceNodeID, HazardType: a.HazardType}
}

// AlertKey identifies the active slot of a CriticalAlert.
type AlertKey struct {
	SourceNodeID string
	HazardType   HazardType
}

// InterClusterAlert notifies one destination cluster about a CriticalAlert
// raised in another cluster. Exactly one exists per (SourceAlertID,
// DestinationClusterID).
type InterClusterAlert struct {
	ID                   string     `json:"id"`
	SourceAlertID        string     `json:"source_alert_id"`
	SourceNodeID         string     `json:"source_node_id"`
	SourceClusterID      string     `json:"source_cluster_id"`
	DestinationClusterID string     `json:"destination_cluster_id"`
	HazardType           HazardType `json:"hazard_type"`
	Message              string     `json:"message"`
	AffectedNodeIDs      []string   `json:"affected_node_ids"`
	AffectedCount        int        `json:"affected_count"`
	Active               bool       `json:"active"`
	Timestamp            time.Time  `json:"timestamp"`
	Origin               string     `json:"origin,omitempty"`
}

// AlertLine is a derived visualization edge; never stored on its own.
type AlertLine struct {
	SourceNodeID      string     `json:"source_node_id"`
	DestinationNodeID string     `json:"destination_node_id"`
	HazardType        HazardType `json:"hazard_type"`
	External          bool       `json:"external,omitempty"`
}
