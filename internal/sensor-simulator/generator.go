package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

const (
	// soilGridsURL: fetch singola all'avvio; NON chiamare ad ogni tick.
	soilGridsURL = "https://rest.isric.org/soilgrids/v2.0/properties/query?lat=%f&lon=%f&property=wv0010"
)

// profile drives the random walk of one field: each step reverts towards
// base by reversion and adds gaussian noise of sigma, clamped to [min, max].
type profile struct {
	base, sigma, reversion float64
	min, max               float64
}

var profiles = map[entities.Field]profile{
	entities.FieldAirTemperature:  {base: 22, sigma: 0.4, reversion: 0.05, min: -20, max: 55},
	entities.FieldHumidity:        {base: 55, sigma: 1.2, reversion: 0.05, min: 0, max: 100},
	entities.FieldTVOC:            {base: 35, sigma: 2, reversion: 0.1, min: 0, max: 1000},
	entities.FieldCO2:             {base: 420, sigma: 6, reversion: 0.1, min: 300, max: 5000},
	entities.FieldPressure:        {base: 1013, sigma: 0.3, reversion: 0.02, min: 950, max: 1060},
	entities.FieldLight:           {base: 12000, sigma: 600, reversion: 0.1, min: 0, max: 120000},
	entities.FieldWindSpeed:       {base: 3, sigma: 0.4, reversion: 0.1, min: 0, max: 40},
	entities.FieldRainfall:        {base: 0.5, sigma: 0.3, reversion: 0.2, min: 0, max: 200},
	entities.FieldSoilMoisture:    {base: 0.30, sigma: 0.004, reversion: 0.03, min: 0, max: 0.6},
	entities.FieldSoilTemperature: {base: 18, sigma: 0.2, reversion: 0.03, min: -10, max: 45},
	entities.FieldSoilPH:          {base: 6.5, sigma: 0.02, reversion: 0.05, min: 3, max: 10},
	entities.FieldSoilEC:          {base: 1.2, sigma: 0.03, reversion: 0.05, min: 0, max: 10},
	entities.FieldNitrogen:        {base: 40, sigma: 0.8, reversion: 0.05, min: 0, max: 300},
	entities.FieldPhosphorus:      {base: 25, sigma: 0.5, reversion: 0.05, min: 0, max: 200},
	entities.FieldPotassium:       {base: 180, sigma: 2.5, reversion: 0.05, min: 0, max: 800},
}

// Injection forces a hazard profile on top of the random walk.
type Injection string

const (
	InjectNone     Injection = ""
	InjectTVOC     Injection = "tvoc"     // infection trigger A
	InjectChemical Injection = "chemical" // chemical_leak
	InjectPest     Injection = "pest"     // pest_outbreak
	InjectDrought  Injection = "drought"  // drought + moisture failure
	InjectFrost    Injection = "frost"
)

var injections = map[Injection]map[entities.Field]float64{
	InjectTVOC:     {entities.FieldTVOC: 125},
	InjectChemical: {entities.FieldTVOC: 260},
	InjectPest:     {entities.FieldAirTemperature: 42, entities.FieldHumidity: 92},
	InjectDrought:  {entities.FieldSoilMoisture: 0.05, entities.FieldAirTemperature: 33, entities.FieldHumidity: 40},
	InjectFrost:    {entities.FieldAirTemperature: -3},
}

// ParseInjection validates a hazard name.
func ParseInjection(s string) (Injection, error) {
	inj := Injection(s)
	if inj == InjectNone {
		return inj, nil
	}
	if _, ok := injections[inj]; !ok {
		return InjectNone, fmt.Errorf("unknown injection %q", s)
	}
	return inj, nil
}

// DataGenerator mantiene lo stato di un nodo e lo fa evolvere ad ogni Next.
// Esegue al massimo UNA fetch opzionale a SoilGrids in fase di startup.
type DataGenerator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	base       map[entities.Field]float64
	values     map[entities.Field]float64
	injection  Injection
	dropRate   float64 // probabilità che un campo manchi dal payload
	httpClient *http.Client
}

func NewDataGenerator(seed int64, dropRate float64) *DataGenerator {
	g := &DataGenerator{
		rng:        rand.New(rand.NewSource(seed)),
		base:       make(map[entities.Field]float64, len(profiles)),
		values:     make(map[entities.Field]float64, len(profiles)),
		dropRate:   math.Max(0, math.Min(1, dropRate)),
		httpClient: &http.Client{Timeout: 8 * time.Second},
	}
	for f, p := range profiles {
		g.base[f] = p.base
		g.values[f] = p.base
	}
	return g
}

// SeedFromSoilGrids fetches the soil moisture baseline once; on failure the
// default profile stays.
func (g *DataGenerator) SeedFromSoilGrids(ctx context.Context, n entities.Node) error {
	if n.Latitude == 0 && n.Longitude == 0 {
		return nil
	}
	m, err := g.fetchSoilMoisture(ctx, n.Latitude, n.Longitude)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.base[entities.FieldSoilMoisture] = m
	g.values[entities.FieldSoilMoisture] = m
	return nil
}

// Inject sets the active hazard; InjectNone clears it.
func (g *DataGenerator) Inject(inj Injection) {
	g.mu.Lock()
	g.injection = inj
	g.mu.Unlock()
}

func (g *DataGenerator) Injection() Injection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.injection
}

// Next advances every field by one step and returns the raw reading of n.
func (g *DataGenerator) Next(n entities.Node, now time.Time) messages.SensorData {
	g.mu.Lock()
	defer g.mu.Unlock()

	over := injections[g.injection]
	vals := make(map[string]any, len(entities.MonitoredFields))
	for _, f := range entities.MonitoredFields {
		p := profiles[f]
		v := g.values[f]
		v += p.reversion*(g.base[f]-v) + p.sigma*g.rng.NormFloat64()
		v = math.Max(p.min, math.Min(p.max, v))
		g.values[f] = v

		if forced, ok := over[f]; ok {
			// piccolo rumore attorno al valore forzato
			v = forced + p.sigma*0.1*g.rng.NormFloat64()
		}
		if g.dropRate > 0 && g.rng.Float64() < g.dropRate {
			continue
		}
		vals[string(f)] = round(v, 4)
	}
	return messages.SensorData{
		ClusterID: n.ClusterID,
		NodeID:    n.ID,
		Values:    vals,
		Flag:      string(entities.FlagNormal),
		Timestamp: now.UTC(),
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

// ===== SoilGrids =====

func (g *DataGenerator) fetchSoilMoisture(ctx context.Context, lat, lon float64) (float64, error) {
	url := fmt.Sprintf(soilGridsURL, lat, lon)

	attemptOnce := func() (val float64, retry bool, err error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return -1, false, err
		}
		req.Header.Set("User-Agent", "fleetwatch-sensor-simulator/1.0")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return -1, true, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return -1, true, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var parsed any
			if err := json.Unmarshal(body, &parsed); err != nil {
				return -1, true, err
			}
			if m := extractMoistureHeuristic(parsed); m >= 0 {
				return normalizeWV(m), false, nil
			}
			return -1, false, errors.New("soilgrids: moisture field not found")
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return -1, true, fmt.Errorf("soilgrids HTTP %d", resp.StatusCode)
		default:
			return -1, false, fmt.Errorf("soilgrids HTTP %d", resp.StatusCode)
		}
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		val, retry, err := attemptOnce()
		if err == nil {
			return val, nil
		}
		lastErr = err
		if !retry {
			break
		}
		if attempt == 0 {
			select {
			case <-ctx.Done():
				return -1, ctx.Err()
			case <-time.After(time.Duration(600+g.jitter(400)) * time.Millisecond):
			}
		}
	}
	return -1, lastErr
}

func (g *DataGenerator) jitter(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

// extractMoistureHeuristic cerca un valore numerico nelle strutture tipiche:
//   - {"properties":{"layers":[{"name":"wv0010","depths":[{"values":{"Q0.5":0.27}}]}]}}
//   - {"features":[{"properties":{"layers":[...]}}]}
func extractMoistureHeuristic(v any) float64 {
	m, ok := v.(map[string]any)
	if !ok {
		return -1
	}
	if feats, ok := m["features"].([]any); ok && len(feats) > 0 {
		if f0, ok := feats[0].(map[string]any); ok {
			if p, ok := f0["properties"].(map[string]any); ok {
				if x := extractFromProperties(p); x >= 0 {
					return x
				}
			}
		}
	}
	if p, ok := m["properties"].(map[string]any); ok {
		return extractFromProperties(p)
	}
	return -1
}

func extractFromProperties(p map[string]any) float64 {
	layers, ok := p["layers"].([]any)
	if !ok || len(layers) == 0 {
		return -1
	}
	l0, ok := layers[0].(map[string]any)
	if !ok {
		return -1
	}
	depths, ok := l0["depths"].([]any)
	if !ok || len(depths) == 0 {
		return -1
	}
	d0, ok := depths[0].(map[string]any)
	if !ok {
		return -1
	}
	vals, ok := d0["values"].(map[string]any)
	if !ok {
		return -1
	}
	for _, k := range []string{"Q0.5", "mean", "Q0.95", "Q0.05", "value", "MED"} {
		if f, ok := vals[k].(float64); ok {
			return f
		}
	}
	return -1
}

// normalizeWV porta i valori SoilGrids "wv****" in m3/m3.
// Molti layer sono interi in millesimi (es. 420 => 0.420).
func normalizeWV(x float64) float64 {
	if x > 1.5 {
		x = x / 1000.0
	}
	return math.Max(0, math.Min(1, x))
}
