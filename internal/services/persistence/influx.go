package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

const measurementReading = "sensor_reading"

// Configurazione Influx
type InfluxConfig struct {
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	Measurement  string // default sensor_reading
}

// Store writes readings and reads them back for the getReading fallback.
type Store interface {
	Write(ctx context.Context, r entities.SensorReading) error
	ReadBucket(ctx context.Context, node string, bucket time.Time) (entities.SensorReading, bool, error)
	ReadLatest(ctx context.Context, minutes int) ([]entities.SensorReading, error)
}

// InfluxStore is the InfluxDB-backed Store.
type InfluxStore struct {
	writeAPI    api.WriteAPIBlocking
	queryAPI    api.QueryAPI
	bucket      string
	measurement string
}

func NewInfluxStore(client influxdb2.Client, cfg InfluxConfig) (*InfluxStore, error) {
	if cfg.InfluxURL == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	m := cfg.Measurement
	if m == "" {
		m = measurementReading
	}
	return &InfluxStore{
		writeAPI:    client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		queryAPI:    client.QueryAPI(cfg.InfluxOrg),
		bucket:      cfg.InfluxBucket,
		measurement: sanitizeMeasurement(m),
	}, nil
}

// ReadingToPoint maps a reading onto one point: node and cluster are tags,
// every present field is a float field.
func ReadingToPoint(measurement string, r entities.SensorReading) *write.Point {
	tags := map[string]string{
		"node_id":    r.NodeID,
		"cluster_id": r.ClusterID,
		"flag":       string(r.Flag),
	}
	fields := make(map[string]interface{}, len(r.Values)+1)
	for f, v := range r.Values {
		fields[string(f)] = v
	}
	if len(fields) == 0 {
		// a point needs at least one field
		fields["rejected"] = int64(len(r.Rejected))
	}
	t := r.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	return influxdb2.NewPoint(measurement, tags, fields, t)
}

func (s *InfluxStore) Write(ctx context.Context, r entities.SensorReading) error {
	if err := s.writeAPI.WritePoint(ctx, ReadingToPoint(s.measurement, r)); err != nil {
		return fmt.Errorf("influx write %s: %w", r.NodeID, err)
	}
	return nil
}

func (s *InfluxStore) ReadBucket(ctx context.Context, node string, bucket time.Time) (entities.SensorReading, bool, error) {
	start := bucket.UTC().Truncate(time.Minute)
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.node_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)
`, s.bucket, start.Format(time.RFC3339), start.Add(time.Minute).Format(time.RFC3339), s.measurement, node)

	out, err := s.query(ctx, flux)
	if err != nil || len(out) == 0 {
		return entities.SensorReading{}, false, err
	}
	return out[0], true, nil
}

func (s *InfluxStore) ReadLatest(ctx context.Context, minutes int) ([]entities.SensorReading, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q)
  |> last()
  |> pivot(rowKey: ["_time", "node_id", "cluster_id", "flag"], columnKey: ["_field"], valueColumn: "_value")
`, s.bucket, minutes, s.measurement)
	return s.query(ctx, flux)
}

func (s *InfluxStore) query(ctx context.Context, flux string) ([]entities.SensorReading, error) {
	res, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	var out []entities.SensorReading
	for res.Next() {
		out = append(out, recordToReading(res.Record()))
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("influx iterate: %w", err)
	}
	return out, nil
}

func recordToReading(rec *query.FluxRecord) entities.SensorReading {
	r := entities.SensorReading{
		Timestamp: rec.Time().UTC(),
		Values:    make(map[entities.Field]float64),
		Flag:      entities.FlagNormal,
	}
	for k, v := range rec.Values() {
		switch k {
		case "node_id":
			r.NodeID, _ = v.(string)
		case "cluster_id":
			r.ClusterID, _ = v.(string)
		case "flag":
			if s, ok := v.(string); ok && s != "" {
				r.Flag = entities.ReadingFlag(s)
			}
		default:
			f := entities.Field(k)
			if !entities.KnownField(f) {
				continue
			}
			if x, ok := asFloat(v); ok {
				r.Values[f] = x
			}
		}
	}
	return r
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
