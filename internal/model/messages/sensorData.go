package messages

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

// SensorData is the wire form of a reading, raw or aggregated. Values are
// left untyped so a single malformed field does not reject the whole payload.
type SensorData struct {
	ClusterID  string         `json:"cluster_id"`
	NodeID     string         `json:"node_id"`
	Values     map[string]any `json:"values"`
	Flag       string         `json:"flag,omitempty"`
	Aggregated bool           `json:"aggregated"`
	Samples    int            `json:"samples,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ToReading converts the payload, keeping only finite numeric values of
// known fields. Everything else ends up in Rejected.
func (s SensorData) ToReading() entities.SensorReading {
	r := entities.SensorReading{
		NodeID:    s.NodeID,
		ClusterID: s.ClusterID,
		Timestamp: s.Timestamp,
		Values:    make(map[entities.Field]float64, len(s.Values)),
		Flag:      entities.ReadingFlag(strings.ToLower(strings.TrimSpace(s.Flag))),
	}
	if r.Flag == "" {
		r.Flag = entities.FlagNormal
	}
	for k, raw := range s.Values {
		f := entities.Field(k)
		if !entities.KnownField(f) {
			continue
		}
		v, ok := toF64(raw)
		if !ok {
			r.Rejected = append(r.Rejected, f)
			continue
		}
		r.Values[f] = v
	}
	sort.Slice(r.Rejected, func(i, j int) bool { return r.Rejected[i] < r.Rejected[j] })
	return r
}

// FromReading builds the wire form of r.
func FromReading(r entities.SensorReading, aggregated bool, samples int) SensorData {
	vals := make(map[string]any, len(r.Values))
	for f, v := range r.Values {
		vals[string(f)] = v
	}
	return SensorData{
		ClusterID:  r.ClusterID,
		NodeID:     r.NodeID,
		Values:     vals,
		Flag:       string(r.Flag),
		Aggregated: aggregated,
		Samples:    samples,
		Timestamp:  r.Timestamp,
	}
}

// toF64 accepts JSON numbers and numeric strings ("12,5" included).
func toF64(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		p, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
