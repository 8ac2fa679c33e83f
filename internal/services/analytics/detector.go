// Package analytics implements the exploratory diagnostics: rolling z-score
// anomaly detection per field and co-movement analysis around an anomaly.
// Nothing here feeds the health state machine.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

// Config tunes the detector.
type Config struct {
	Threshold  float64 `json:"threshold" mapstructure:"threshold"`     // |z| cutoff
	WindowSize int     `json:"window_size" mapstructure:"window_size"` // samples
}

// DefaultConfig returns the detector defaults: 60 samples, |z| > 2.5.
func DefaultConfig() Config {
	return Config{Threshold: 2.5, WindowSize: 60}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	return c
}

// Anomaly is one field value that left its rolling window's expected range.
type Anomaly struct {
	NodeID       string         `json:"node_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Field        entities.Field `json:"field"`
	Value        float64        `json:"value"`
	ZScore       float64        `json:"z_score"`
	Mean         float64        `json:"mean"`
	StdDev       float64        `json:"std_dev"`
	ExpectedLow  float64        `json:"expected_low"`
	ExpectedHigh float64        `json:"expected_high"`
}

// DetectAnomalies scans one node's readings field by field. Readings are
// ordered by time first; a field missing from a reading is left out of that
// field's series. The result is sorted by time, then by field order.
func DetectAnomalies(readings []entities.SensorReading, fields []entities.Field, cfg Config) []Anomaly {
	cfg = cfg.withDefaults()
	if len(fields) == 0 {
		fields = entities.MonitoredFields
	}
	ordered := sortedByTime(readings)

	var out []Anomaly
	for _, f := range fields {
		series := make([]float64, 0, len(ordered))
		idx := make([]int, 0, len(ordered))
		for i, r := range ordered {
			v, ok := r.Value(f)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			series = append(series, v)
			idx = append(idx, i)
		}

		for i, st := range Rolling(series, cfg.WindowSize) {
			z, ok := ZScore(series[i], st)
			if !ok || math.Abs(z) <= cfg.Threshold {
				continue
			}
			r := ordered[idx[i]]
			out = append(out, Anomaly{
				NodeID:       r.NodeID,
				Timestamp:    r.Timestamp,
				Field:        f,
				Value:        series[i],
				ZScore:       z,
				Mean:         st.Mean,
				StdDev:       st.StdDev,
				ExpectedLow:  st.Mean - cfg.Threshold*st.StdDev,
				ExpectedHigh: st.Mean + cfg.Threshold*st.StdDev,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func sortedByTime(readings []entities.SensorReading) []entities.SensorReading {
	out := append([]entities.SensorReading(nil), readings...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
