package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/critical"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "fleetwatch.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Thresholds.TVOCCritical != 90 || cfg.Thresholds.TVOCRecovery != 80 {
		t.Fatalf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Anomaly.WindowSize != 60 || cfg.Anomaly.Threshold != 2.5 || cfg.Anomaly.CorrelationWindow != 30*time.Minute {
		t.Fatalf("anomaly = %+v", cfg.Anomaly)
	}
	if cfg.Radius.PrimaryMeters != 100 || cfg.Radius.FallbackMeters != 300 {
		t.Fatalf("radius = %+v", cfg.Radius)
	}
	if len(cfg.HazardRules) != len(critical.DefaultRules()) || !cfg.CriticalAlertsEnabled {
		t.Fatalf("rules = %d enabled = %v", len(cfg.HazardRules), cfg.CriticalAlertsEnabled)
	}
	if cfg.Quarantine != 0 {
		t.Fatalf("quarantine = %v", cfg.Quarantine)
	}
	if cfg.ReadingLag != time.Minute {
		t.Fatalf("reading lag = %v", cfg.ReadingLag)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	p := writeFile(t, t.TempDir(), `
cluster_id: farm-north
quarantine: 15m
thresholds:
  tvoc_critical: 120
  tvoc_recovery: 100
radius:
  primary_meters: 150
  fallback_meters: 400
hazard_rules:
  - id: heat
    conditions:
      - {field: air_temperature_c, op: ">", value: 40}
    message: "Heat at {node}"
`)
	t.Setenv("FLEETWATCH_ANOMALY_WINDOW_SIZE", "30")
	t.Setenv("FLEETWATCH_CRITICAL_ALERTS_ENABLED", "false")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClusterID != "farm-north" || cfg.Quarantine != 15*time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Thresholds.TVOCCritical != 120 || cfg.Thresholds.HumidityCritical != 20 {
		t.Fatalf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Anomaly.WindowSize != 30 || cfg.CriticalAlertsEnabled {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.HazardRules) != 1 || cfg.HazardRules[0].ID != "heat" ||
		cfg.HazardRules[0].Conditions[0].Field != entities.FieldAirTemperature ||
		cfg.HazardRules[0].Conditions[0].Value != 40 {
		t.Fatalf("rules = %+v", cfg.HazardRules)
	}
	if cfg.Critical().Radius.PrimaryMeters != 150 || cfg.Health().Quarantine != 15*time.Minute {
		t.Fatal("derived configs do not follow the file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"inverted tvoc band": func(c *Config) { c.Thresholds.TVOCRecovery = 95 },
		"fallback < primary": func(c *Config) { c.Radius.FallbackMeters = 50 },
		"bad schedule":       func(c *Config) { c.TickSchedule = "every minute" },
		"duplicate rule":     func(c *Config) { c.HazardRules = append(c.HazardRules, c.HazardRules[0]) },
		"correlation min":    func(c *Config) { c.Anomaly.CorrelationMin = 1.5 },
		"empty cluster":      func(c *Config) { c.ClusterID = " " },
		"negative lag":       func(c *Config) { c.ReadingLag = -time.Minute },
		"sub-minute lag":     func(c *Config) { c.ReadingLag = 30 * time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("want ErrInvalid, got %v", err)
			}
		})
	}
}

func TestWatcherReloadKeepsPreviousOnInvalid(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "radius:\n  primary_meters: 120\n  fallback_meters: 300\n")

	w, err := NewWatcher(p, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	var seen []Config
	w.OnChange(func(c Config) { seen = append(seen, c) })

	writeFile(t, dir, "radius:\n  primary_meters: 200\n  fallback_meters: 500\n")
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := w.Current().Radius.PrimaryMeters; got != 200 {
		t.Fatalf("primary = %v", got)
	}

	writeFile(t, dir, "radius:\n  primary_meters: 200\n  fallback_meters: 10\n")
	if err := w.Reload(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
	if got := w.Current().Radius.FallbackMeters; got != 500 {
		t.Fatalf("invalid config applied: fallback = %v", got)
	}
	if len(seen) != 1 {
		t.Fatalf("OnChange calls = %d", len(seen))
	}
}

func TestWatcherReloadNotifiesSubscribers(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "tick_schedule: \"@every 1m\"\n")

	w, err := NewWatcher(p, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	var first, second []string
	w.OnChange(func(c Config) { first = append(first, c.TickSchedule) })
	w.OnChange(func(c Config) { second = append(second, c.TickSchedule) })

	writeFile(t, dir, "tick_schedule: \"*/5 * * * *\"\nreading_lag: 2m\n")
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := w.Current(); got.TickSchedule != "*/5 * * * *" || got.ReadingLag != 2*time.Minute {
		t.Fatalf("current = %q lag %v", got.TickSchedule, got.ReadingLag)
	}
	if len(first) != 1 || first[0] != "*/5 * * * *" {
		t.Fatalf("first subscriber saw %v", first)
	}
	if len(second) != 1 || second[0] != "*/5 * * * *" {
		t.Fatalf("second subscriber saw %v", second)
	}
}
