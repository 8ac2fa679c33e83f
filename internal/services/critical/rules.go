package critical

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

const (
	HazardFireRisk     messages.HazardType = "fire_risk"
	HazardPestOutbreak messages.HazardType = "pest_outbreak"
	HazardChemicalLeak messages.HazardType = "chemical_leak"
	HazardFlood        messages.HazardType = "flood"
	HazardDrought      messages.HazardType = "drought"
	HazardFrost        messages.HazardType = "frost"
)

// Op is a comparison operator of a rule condition.
type Op string

const (
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
)

// Condition compares one field against a fixed value.
type Condition struct {
	Field entities.Field `json:"field" yaml:"field" mapstructure:"field"`
	Op    Op             `json:"op" yaml:"op" mapstructure:"op"`
	Value float64        `json:"value" yaml:"value" mapstructure:"value"`
}

// Holds reports whether the condition is true for r. A missing field is false.
func (c Condition) Holds(r entities.SensorReading) bool {
	v, ok := r.Value(c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGT:
		return v > c.Value
	case OpGTE:
		return v >= c.Value
	case OpLT:
		return v < c.Value
	case OpLTE:
		return v <= c.Value
	}
	return false
}

// HazardRule is a conjunction of one or two conditions. Message is a
// template; {node}, {cluster}, {hazard} and {<field>} are substituted.
type HazardRule struct {
	ID         messages.HazardType `json:"id" yaml:"id" mapstructure:"id"`
	Conditions []Condition         `json:"conditions" yaml:"conditions" mapstructure:"conditions"`
	Message    string              `json:"message" yaml:"message" mapstructure:"message"`
}

var ErrInvalidRule = errors.New("invalid hazard rule")

func (r HazardRule) Validate() error {
	if strings.TrimSpace(string(r.ID)) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRule)
	}
	if n := len(r.Conditions); n < 1 || n > 2 {
		return fmt.Errorf("%w: %s has %d conditions, want 1 or 2", ErrInvalidRule, r.ID, n)
	}
	for _, c := range r.Conditions {
		if !entities.KnownField(c.Field) {
			return fmt.Errorf("%w: %s: unknown field %q", ErrInvalidRule, r.ID, c.Field)
		}
		switch c.Op {
		case OpGT, OpGTE, OpLT, OpLTE:
		default:
			return fmt.Errorf("%w: %s: unknown operator %q", ErrInvalidRule, r.ID, c.Op)
		}
	}
	return nil
}

// Matches reports whether every condition holds.
func (r HazardRule) Matches(reading entities.SensorReading) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Holds(reading) {
			return false
		}
	}
	return true
}

// Render fills the message template for n and reading.
func (r HazardRule) Render(n entities.Node, reading entities.SensorReading) string {
	return renderMessage(r.Message, r.ID, n, reading)
}

func renderMessage(tmpl string, hazard messages.HazardType, n entities.Node, reading entities.SensorReading) string {
	if tmpl == "" {
		tmpl = "{hazard} detected at node {node} ({cluster})"
	}
	pairs := []string{"{node}", n.ID, "{cluster}", n.ClusterID, "{hazard}", string(hazard)}
	for f, v := range reading.Values {
		pairs = append(pairs, "{"+string(f)+"}", strconv.FormatFloat(v, 'f', -1, 64))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// FirstMatch walks rules in order and returns the first that matches.
func FirstMatch(rules []HazardRule, reading entities.SensorReading) (HazardRule, bool) {
	for _, r := range rules {
		if r.Matches(reading) {
			return r, true
		}
	}
	return HazardRule{}, false
}

// DefaultRules returns the built-in table in priority order.
func DefaultRules() []HazardRule {
	return []HazardRule{
		{
			ID: HazardFireRisk,
			Conditions: []Condition{
				{Field: entities.FieldAirTemperature, Op: OpGT, Value: 45},
				{Field: entities.FieldHumidity, Op: OpLT, Value: 15},
			},
			Message: "Fire risk at node {node}: {air_temperature_c} °C with {relative_humidity_pct}% humidity",
		},
		{
			ID: HazardPestOutbreak,
			Conditions: []Condition{
				{Field: entities.FieldAirTemperature, Op: OpGT, Value: 35},
				{Field: entities.FieldHumidity, Op: OpGT, Value: 85},
			},
			Message: "Pest outbreak conditions at node {node}: {air_temperature_c} °C, {relative_humidity_pct}% humidity",
		},
		{
			ID:         HazardChemicalLeak,
			Conditions: []Condition{{Field: entities.FieldTVOC, Op: OpGT, Value: 200}},
			Message:    "Chemical leak suspected at node {node}: TVOC {tvoc_ugm3} µg/m³",
		},
		{
			ID: HazardFlood,
			Conditions: []Condition{
				{Field: entities.FieldSoilMoisture, Op: OpGT, Value: 0.45},
				{Field: entities.FieldRainfall, Op: OpGT, Value: 50},
			},
			Message: "Flooding at node {node}: {rainfall_mm} mm rain, soil moisture {soil_moisture_m3m3}",
		},
		{
			ID: HazardDrought,
			Conditions: []Condition{
				{Field: entities.FieldSoilMoisture, Op: OpLT, Value: 0.08},
				{Field: entities.FieldAirTemperature, Op: OpGT, Value: 30},
			},
			Message: "Drought stress at node {node}: soil moisture {soil_moisture_m3m3} at {air_temperature_c} °C",
		},
		{
			ID:         HazardFrost,
			Conditions: []Condition{{Field: entities.FieldAirTemperature, Op: OpLT, Value: 0}},
			Message:    "Frost at node {node}: {air_temperature_c} °C",
		},
	}
}
