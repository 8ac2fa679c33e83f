package model

import (
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

// Aliases for the types shared by every service.

type (
	Node              = entities.Node
	SensorReading     = entities.SensorReading
	HealthState       = entities.HealthState
	Trigger           = entities.Trigger
	SensorData        = messages.SensorData
	StatusTransition  = messages.StatusTransition
	FeedEntry         = messages.FeedEntry
	CriticalAlert     = messages.CriticalAlert
	InterClusterAlert = messages.InterClusterAlert
	AlertLine         = messages.AlertLine
)

const (
	StatusOnline   = entities.StatusOnline
	StatusInfected = entities.StatusInfected
	StatusAtRisk   = entities.StatusAtRisk
	StatusOffline  = entities.StatusOffline
)
