package app

import (
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/event"
)

// NodeView mirrors the node listing of the monitor.
type NodeView struct {
	entities.Node
	Triggers   []entities.Trigger `json:"triggers,omitempty"`
	InfectedAt *time.Time         `json:"infected_at,omitempty"`
}

type Stats struct {
	Nodes    int            `json:"nodes"`
	ByStatus map[string]int `json:"by_status"`
	TVOCMean float64        `json:"tvoc_mean"`
	TVOCMin  float64        `json:"tvoc_min"`
	TVOCMax  float64        `json:"tvoc_max"`
}

type DashboardData struct {
	Nodes    []NodeView            `json:"nodes"`
	Lines    []messages.AlertLine  `json:"lines"`
	Readings []messages.SensorData `json:"readings"`
	Alerts   []event.AlertEvent    `json:"alerts"`
	Stats    Stats                 `json:"stats"`
	Sources  map[string]Source     `json:"sources"`
}
