package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func reading(i int, vals map[entities.Field]float64) entities.SensorReading {
	return entities.SensorReading{
		NodeID:    "n1",
		ClusterID: "c1",
		Timestamp: t0.Add(time.Duration(i) * time.Minute),
		Values:    vals,
		Flag:      entities.FlagNormal,
	}
}

func TestWindowStatExpandsThenSlides(t *testing.T) {
	series := []float64{1, 2, 3, 4, 5}
	st := WindowStat(series, 0, 3)
	if st.N != 1 || st.Mean != 1 || st.StdDev != 0 {
		t.Fatalf("first window: %+v", st)
	}
	st = WindowStat(series, 4, 3)
	if st.N != 3 || st.Mean != 4 {
		t.Fatalf("last window: %+v", st)
	}
	want := math.Sqrt(2.0 / 3.0)
	if math.Abs(st.StdDev-want) > 1e-12 {
		t.Fatalf("population stddev = %v, want %v", st.StdDev, want)
	}
}

func TestZScoreZeroVariance(t *testing.T) {
	for _, series := range [][]float64{{5, 5, 5, 5}, {0.1, 0.1, 0.1}} {
		st := WindowStat(series, len(series)-1, 60)
		if _, ok := ZScore(series[len(series)-1], st); ok {
			t.Fatalf("constant series %v must have no z-score", series)
		}
	}
}

func TestDetectAnomaliesConstantSeries(t *testing.T) {
	var rs []entities.SensorReading
	for i := 0; i < 30; i++ {
		rs = append(rs, reading(i, map[entities.Field]float64{entities.FieldAirTemperature: 21.5}))
	}
	if got := DetectAnomalies(rs, nil, DefaultConfig()); len(got) != 0 {
		t.Fatalf("constant series produced %d anomalies", len(got))
	}
}

func TestDetectAnomaliesSpike(t *testing.T) {
	var rs []entities.SensorReading
	for i := 0; i < 10; i++ {
		rs = append(rs, reading(i, map[entities.Field]float64{entities.FieldAirTemperature: 20}))
	}
	rs = append(rs, reading(10, map[entities.Field]float64{entities.FieldAirTemperature: 100}))
	for i := 11; i < 15; i++ {
		rs = append(rs, reading(i, map[entities.Field]float64{entities.FieldAirTemperature: 20}))
	}

	got := DetectAnomalies(rs, []entities.Field{entities.FieldAirTemperature}, DefaultConfig())
	if len(got) != 1 {
		t.Fatalf("want 1 anomaly, got %d: %+v", len(got), got)
	}
	a := got[0]
	if !a.Timestamp.Equal(t0.Add(10*time.Minute)) || a.Value != 100 || a.NodeID != "n1" {
		t.Fatalf("unexpected anomaly %+v", a)
	}
	if a.ZScore <= 2.5 {
		t.Fatalf("z = %v", a.ZScore)
	}
	if a.ExpectedHigh >= 100 || a.ExpectedLow >= a.ExpectedHigh {
		t.Fatalf("expected range [%v, %v]", a.ExpectedLow, a.ExpectedHigh)
	}
	if math.Abs(a.ExpectedHigh-(a.Mean+2.5*a.StdDev)) > 1e-9 {
		t.Fatalf("expected high not mean+threshold*std")
	}
}

func TestDetectAnomaliesSkipsMissingValues(t *testing.T) {
	var rs []entities.SensorReading
	for i := 0; i < 10; i++ {
		vals := map[entities.Field]float64{entities.FieldHumidity: 50}
		if i%2 == 0 {
			vals[entities.FieldAirTemperature] = 20
		}
		rs = append(rs, reading(i, vals))
	}
	// the gap readings must not be read as zeros
	if got := DetectAnomalies(rs, nil, DefaultConfig()); len(got) != 0 {
		t.Fatalf("missing values produced anomalies: %+v", got)
	}
}

func TestDetectAnomaliesOrderedByTime(t *testing.T) {
	var rs []entities.SensorReading
	for i := 0; i < 10; i++ {
		rs = append(rs, reading(i, map[entities.Field]float64{
			entities.FieldAirTemperature: 20,
			entities.FieldHumidity:       50,
		}))
	}
	rs[8].Values[entities.FieldAirTemperature] = 90
	rs[7].Values[entities.FieldHumidity] = 5
	// feed out of order
	rs[0], rs[9] = rs[9], rs[0]

	got := DetectAnomalies(rs, []entities.Field{entities.FieldAirTemperature, entities.FieldHumidity}, DefaultConfig())
	if len(got) < 2 {
		t.Fatalf("want at least 2 anomalies, got %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("anomalies not sorted by time: %+v", got)
		}
	}
	if got[0].Field != entities.FieldHumidity || got[0].Value != 5 {
		t.Fatalf("first anomaly = %+v", got[0])
	}
}
