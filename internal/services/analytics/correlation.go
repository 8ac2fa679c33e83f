package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

// CorrelationConfig tunes the co-movement analysis.
type CorrelationConfig struct {
	Window time.Duration `json:"window" mapstructure:"window"` // half width, ±
	MinAbs float64       `json:"min_abs" mapstructure:"min_abs"`
	Top    int           `json:"top" mapstructure:"top"`
}

func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{Window: 30 * time.Minute, MinAbs: 0.7, Top: 5}
}

func (c CorrelationConfig) withDefaults() CorrelationConfig {
	d := DefaultCorrelationConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinAbs <= 0 {
		c.MinAbs = d.MinAbs
	}
	if c.Top <= 0 {
		c.Top = d.Top
	}
	return c
}

// Correlation is a field that moved together with an anomalous one.
type Correlation struct {
	Field         entities.Field `json:"field"`
	Coefficient   float64        `json:"coefficient"`
	CurrentValue  float64        `json:"current_value"`
	DeltaFromMean float64        `json:"delta_from_mean"`
}

// AnnotatedAnomaly pairs an anomaly with its correlated fields.
type AnnotatedAnomaly struct {
	Anomaly
	Correlations []Correlation `json:"correlations"`
}

// minPairs is the smallest sample for which a coefficient is reported.
const minPairs = 3

// Correlate finds the fields whose values track a.Field inside the
// ±cfg.Window around a.Timestamp. Only pairs where both fields are present
// count; fields with no variance in the window are skipped.
func Correlate(readings []entities.SensorReading, a Anomaly, fields []entities.Field, cfg CorrelationConfig) []Correlation {
	cfg = cfg.withDefaults()
	if len(fields) == 0 {
		fields = entities.MonitoredFields
	}

	var (
		window  []entities.SensorReading
		current *entities.SensorReading
	)
	for i := range readings {
		r := readings[i]
		d := r.Timestamp.Sub(a.Timestamp)
		if d < -cfg.Window || d > cfg.Window {
			continue
		}
		window = append(window, r)
		if current == nil && r.Timestamp.Equal(a.Timestamp) {
			current = &readings[i]
		}
	}
	if current == nil {
		return nil
	}

	var out []Correlation
	for _, f := range fields {
		if f == a.Field {
			continue
		}
		cur, ok := current.Value(f)
		if !ok {
			continue
		}

		var xs, ys, all []float64
		for _, r := range window {
			y, okY := r.Value(f)
			if okY {
				all = append(all, y)
			}
			x, okX := r.Value(a.Field)
			if okX && okY {
				xs = append(xs, x)
				ys = append(ys, y)
			}
		}
		rho, ok := Pearson(xs, ys)
		if !ok || math.Abs(rho) < cfg.MinAbs {
			continue
		}
		out = append(out, Correlation{
			Field:         f,
			Coefficient:   rho,
			CurrentValue:  cur,
			DeltaFromMean: cur - mean(all),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Coefficient) > math.Abs(out[j].Coefficient)
	})
	if len(out) > cfg.Top {
		out = out[:cfg.Top]
	}
	return out
}

// Annotate runs Correlate for every anomaly.
func Annotate(readings []entities.SensorReading, anomalies []Anomaly, fields []entities.Field, cfg CorrelationConfig) []AnnotatedAnomaly {
	out := make([]AnnotatedAnomaly, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, AnnotatedAnomaly{
			Anomaly:      a,
			Correlations: Correlate(readings, a, fields, cfg),
		})
	}
	return out
}

// Pearson returns the correlation coefficient of xs and ys. It is undefined
// (false) for fewer than three pairs or when either side is constant.
func Pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n != len(ys) || n < minPairs {
		return 0, false
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	r := sxy / math.Sqrt(sxx*syy)
	if math.IsNaN(r) {
		return 0, false
	}
	// rounding can push |r| a hair over 1
	return math.Max(-1, math.Min(1, r)), true
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
