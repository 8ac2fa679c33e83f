package entities

import "time"

// Field names a numeric measurement carried by a SensorReading.
type Field string

const (
	FieldAirTemperature  Field = "air_temperature_c"
	FieldHumidity        Field = "relative_humidity_pct"
	FieldTVOC            Field = "tvoc_ugm3"
	FieldCO2             Field = "co2_ppm"
	FieldPressure        Field = "pressure_hpa"
	FieldLight           Field = "light_lux"
	FieldWindSpeed       Field = "wind_speed_ms"
	FieldRainfall        Field = "rainfall_mm"
	FieldSoilMoisture    Field = "soil_moisture_m3m3"
	FieldSoilTemperature Field = "soil_temperature_c"
	FieldSoilPH          Field = "soil_ph"
	FieldSoilEC          Field = "soil_ec_dsm"
	FieldNitrogen        Field = "nitrogen_mgkg"
	FieldPhosphorus      Field = "phosphorus_mgkg"
	FieldPotassium       Field = "potassium_mgkg"
)

// MonitoredFields lists every numeric field in catalogue order.
var MonitoredFields = []Field{
	FieldAirTemperature,
	FieldHumidity,
	FieldTVOC,
	FieldCO2,
	FieldPressure,
	FieldLight,
	FieldWindSpeed,
	FieldRainfall,
	FieldSoilMoisture,
	FieldSoilTemperature,
	FieldSoilPH,
	FieldSoilEC,
	FieldNitrogen,
	FieldPhosphorus,
	FieldPotassium,
}

// KnownField reports whether f belongs to the catalogue.
func KnownField(f Field) bool {
	for _, k := range MonitoredFields {
		if k == f {
			return true
		}
	}
	return false
}

// ReadingFlag is the categorical state reported by the node itself.
type ReadingFlag string

const (
	FlagNormal      ReadingFlag = "normal"
	FlagMaintenance ReadingFlag = "maintenance"
	FlagFault       ReadingFlag = "fault"
)

// SensorReading is one aggregated sample for a node and a minute bucket.
// Values only holds fields that decoded to a finite number; anything else
// is listed in Rejected.
type SensorReading struct {
	NodeID    string            `json:"node_id"`
	ClusterID string            `json:"cluster_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Values    map[Field]float64 `json:"values"`
	Flag      ReadingFlag       `json:"flag,omitempty"`
	Rejected  []Field           `json:"rejected,omitempty"`
}

// Value returns the reading for f and whether it is present.
func (r SensorReading) Value(f Field) (float64, bool) {
	v, ok := r.Values[f]
	return v, ok
}

// Bucket returns the minute bucket the reading belongs to.
func (r SensorReading) Bucket() time.Time {
	return r.Timestamp.UTC().Truncate(time.Minute)
}
