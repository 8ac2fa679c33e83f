package health

import (
	"fmt"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

// Thresholds are the absolute infection and recovery limits. Recovery
// limits sit on the healthy side of the infection limits.
type Thresholds struct {
	TVOCCritical     float64 `json:"tvoc_critical" mapstructure:"tvoc_critical"`
	TVOCRecovery     float64 `json:"tvoc_recovery" mapstructure:"tvoc_recovery"`
	HumidityCritical float64 `json:"humidity_critical" mapstructure:"humidity_critical"`
	HumidityRecovery float64 `json:"humidity_recovery" mapstructure:"humidity_recovery"`
	MoistureCritical float64 `json:"moisture_critical" mapstructure:"moisture_critical"`
	MoistureRecovery float64 `json:"moisture_recovery" mapstructure:"moisture_recovery"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		TVOCCritical:     90,
		TVOCRecovery:     80,
		HumidityCritical: 20,
		HumidityRecovery: 25,
		MoistureCritical: 0.10,
		MoistureRecovery: 0.15,
	}
}

// Validate checks the dead-band ordering of every pair.
func (t Thresholds) Validate() error {
	switch {
	case t.TVOCRecovery > t.TVOCCritical:
		return fmt.Errorf("tvoc recovery %.2f above critical %.2f", t.TVOCRecovery, t.TVOCCritical)
	case t.HumidityRecovery < t.HumidityCritical:
		return fmt.Errorf("humidity recovery %.2f below critical %.2f", t.HumidityRecovery, t.HumidityCritical)
	case t.MoistureRecovery < t.MoistureCritical:
		return fmt.Errorf("moisture recovery %.3f below critical %.3f", t.MoistureRecovery, t.MoistureCritical)
	}
	return nil
}

type direction int

const (
	above direction = iota
	below
)

// limit is one absolute comparison of a field against a threshold.
type limit struct {
	field     entities.Field
	dir       direction
	threshold func(Thresholds) float64
}

// holds reports whether v is strictly past the threshold in dir. A missing
// field never holds.
func (l limit) holds(r entities.SensorReading, t Thresholds) (float64, float64, bool) {
	v, ok := r.Value(l.field)
	if !ok {
		return 0, 0, false
	}
	th := l.threshold(t)
	if l.dir == above {
		return v, th, v > th
	}
	return v, th, v < th
}

type triggerRule struct {
	code     entities.TriggerCode
	reason   string
	severity entities.Severity
	limit
}

// infectionRules are evaluated in this order; every rule that fires
// contributes one trigger.
var infectionRules = []triggerRule{
	{
		code:     entities.TriggerTVOCCritical,
		reason:   "critical volatile-compound level",
		severity: entities.SeverityCritical,
		limit:    limit{entities.FieldTVOC, above, func(t Thresholds) float64 { return t.TVOCCritical }},
	},
	{
		code:     entities.TriggerHumidityLow,
		reason:   "critically low relative humidity",
		severity: entities.SeveritySevere,
		limit:    limit{entities.FieldHumidity, below, func(t Thresholds) float64 { return t.HumidityCritical }},
	},
	{
		code:     entities.TriggerMoistureFailure,
		reason:   "soil-moisture failure",
		severity: entities.SeverityCritical,
		limit:    limit{entities.FieldSoilMoisture, below, func(t Thresholds) float64 { return t.MoistureCritical }},
	},
}

// recoveryLimits must all hold at once for an infected node to recover.
var recoveryLimits = []limit{
	{entities.FieldTVOC, below, func(t Thresholds) float64 { return t.TVOCRecovery }},
	{entities.FieldHumidity, above, func(t Thresholds) float64 { return t.HumidityRecovery }},
	{entities.FieldSoilMoisture, above, func(t Thresholds) float64 { return t.MoistureRecovery }},
}

// EvaluateTriggers returns the triggers r fires under t, nil when healthy.
func EvaluateTriggers(r entities.SensorReading, t Thresholds) []entities.Trigger {
	var out []entities.Trigger
	for _, rule := range infectionRules {
		v, th, ok := rule.holds(r, t)
		if !ok {
			continue
		}
		out = append(out, entities.Trigger{
			Code:      rule.code,
			Reason:    rule.reason,
			Field:     rule.field,
			Value:     v,
			Threshold: th,
			Severity:  rule.severity,
		})
	}
	return out
}

// Normalized reports whether every recovery limit holds. A missing field
// counts as not normalized.
func Normalized(r entities.SensorReading, t Thresholds) bool {
	for _, l := range recoveryLimits {
		if _, _, ok := l.holds(r, t); !ok {
			return false
		}
	}
	return true
}

func worstSeverity(ts []entities.Trigger) entities.Severity {
	rank := map[entities.Severity]int{
		entities.SeverityInfo:     0,
		entities.SeverityWarning:  1,
		entities.SeveritySevere:   2,
		entities.SeverityCritical: 3,
	}
	worst := entities.SeverityWarning
	for _, t := range ts {
		if rank[t.Severity] > rank[worst] {
			worst = t.Severity
		}
	}
	return worst
}
