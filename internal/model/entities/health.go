package entities

import "time"

// Severity tiers used by triggers and feed entries.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// TriggerCode identifies the reason a node was found unhealthy.
type TriggerCode string

const (
	TriggerTVOCCritical    TriggerCode = "tvoc_critical"     // type A
	TriggerHumidityLow     TriggerCode = "humidity_critical" // type B
	TriggerMoistureFailure TriggerCode = "moisture_failure"  // type C
)

// Trigger is one concrete reason a node is infected.
type Trigger struct {
	Code      TriggerCode `json:"code"`
	Reason    string      `json:"reason"`
	Field     Field       `json:"field"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Severity  Severity    `json:"severity"`
}

// HealthState is the per-node record owned by the health store.
type HealthState struct {
	NodeID       string     `json:"node_id"`
	Status       NodeStatus `json:"status"`
	Triggers     []Trigger  `json:"triggers"`
	InfectedAt   *time.Time `json:"infected_at,omitempty"` // stamped on the transition edge only
	TriggerCount int        `json:"trigger_count"`         // number of times the node became infected
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of the store.
func (h HealthState) Clone() HealthState {
	out := h
	if h.Triggers != nil {
		out.Triggers = append([]Trigger(nil), h.Triggers...)
	}
	if h.InfectedAt != nil {
		t := *h.InfectedAt
		out.InfectedAt = &t
	}
	return out
}
