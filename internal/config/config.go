// Package config loads the engine configuration from a YAML file with
// FLEETWATCH_* environment overrides and keeps it hot-reloadable.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/fleetwatch/internal/services/analytics"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/critical"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/health"
)

var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "FLEETWATCH"

type Anomaly struct {
	Threshold         float64       `mapstructure:"threshold"`
	WindowSize        int           `mapstructure:"window_size"`
	CorrelationWindow time.Duration `mapstructure:"correlation_window"`
	CorrelationMin    float64       `mapstructure:"correlation_min"`
	CorrelationTop    int           `mapstructure:"correlation_top"`
}

type Config struct {
	ClusterID             string                `mapstructure:"cluster_id"`
	InstanceID            string                `mapstructure:"instance_id"`
	TickSchedule          string                `mapstructure:"tick_schedule"`
	ReadingLag            time.Duration         `mapstructure:"reading_lag"`
	CriticalAlertsEnabled bool                  `mapstructure:"critical_alerts_enabled"`
	Quarantine            time.Duration         `mapstructure:"quarantine"`
	Thresholds            health.Thresholds     `mapstructure:"thresholds"`
	Anomaly               Anomaly               `mapstructure:"anomaly"`
	Radius                critical.RadiusConfig `mapstructure:"radius"`
	HazardRules           []critical.HazardRule `mapstructure:"hazard_rules"`
}

// Default returns the built-in configuration.
func Default() Config {
	det := analytics.DefaultConfig()
	corr := analytics.DefaultCorrelationConfig()
	return Config{
		ClusterID:             "default",
		TickSchedule:          "@every 1m",
		ReadingLag:            time.Minute,
		CriticalAlertsEnabled: true,
		Thresholds:            health.DefaultThresholds(),
		Anomaly: Anomaly{
			Threshold:         det.Threshold,
			WindowSize:        det.WindowSize,
			CorrelationWindow: corr.Window,
			CorrelationMin:    corr.MinAbs,
			CorrelationTop:    corr.Top,
		},
		Radius:      critical.DefaultRadius(),
		HazardRules: critical.DefaultRules(),
	}
}

// setDefaults registers every scalar key so env overrides apply even when
// the file does not mention it.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("cluster_id", d.ClusterID)
	v.SetDefault("instance_id", d.InstanceID)
	v.SetDefault("tick_schedule", d.TickSchedule)
	v.SetDefault("reading_lag", d.ReadingLag)
	v.SetDefault("critical_alerts_enabled", d.CriticalAlertsEnabled)
	v.SetDefault("quarantine", d.Quarantine)

	v.SetDefault("thresholds.tvoc_critical", d.Thresholds.TVOCCritical)
	v.SetDefault("thresholds.tvoc_recovery", d.Thresholds.TVOCRecovery)
	v.SetDefault("thresholds.humidity_critical", d.Thresholds.HumidityCritical)
	v.SetDefault("thresholds.humidity_recovery", d.Thresholds.HumidityRecovery)
	v.SetDefault("thresholds.moisture_critical", d.Thresholds.MoistureCritical)
	v.SetDefault("thresholds.moisture_recovery", d.Thresholds.MoistureRecovery)

	v.SetDefault("anomaly.threshold", d.Anomaly.Threshold)
	v.SetDefault("anomaly.window_size", d.Anomaly.WindowSize)
	v.SetDefault("anomaly.correlation_window", d.Anomaly.CorrelationWindow)
	v.SetDefault("anomaly.correlation_min", d.Anomaly.CorrelationMin)
	v.SetDefault("anomaly.correlation_top", d.Anomaly.CorrelationTop)

	v.SetDefault("radius.primary_meters", d.Radius.PrimaryMeters)
	v.SetDefault("radius.fallback_meters", d.Radius.FallbackMeters)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// decode turns the current viper state into a validated Config.
func decode(v *viper.Viper) (Config, error) {
	cfg := Default()
	cfg.HazardRules = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.HazardRules) == 0 {
		cfg.HazardRules = critical.DefaultRules()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads path (optional) plus the environment.
func Load(path string) (Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v)
}

// Validate checks every option; errors wrap ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Anomaly.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("anomaly.threshold must be > 0"))
	}
	if c.Anomaly.WindowSize < 2 {
		errs = append(errs, fmt.Errorf("anomaly.window_size must be >= 2"))
	}
	if c.Anomaly.CorrelationWindow <= 0 {
		errs = append(errs, fmt.Errorf("anomaly.correlation_window must be > 0"))
	}
	if c.Anomaly.CorrelationMin <= 0 || c.Anomaly.CorrelationMin > 1 {
		errs = append(errs, fmt.Errorf("anomaly.correlation_min must be in (0, 1]"))
	}
	if c.Anomaly.CorrelationTop < 1 {
		errs = append(errs, fmt.Errorf("anomaly.correlation_top must be >= 1"))
	}
	if c.Radius.PrimaryMeters <= 0 {
		errs = append(errs, fmt.Errorf("radius.primary_meters must be > 0"))
	}
	if c.Radius.FallbackMeters < c.Radius.PrimaryMeters {
		errs = append(errs, fmt.Errorf("radius.fallback_meters %.0f below primary %.0f", c.Radius.FallbackMeters, c.Radius.PrimaryMeters))
	}
	if c.ReadingLag < 0 || c.ReadingLag%time.Minute != 0 {
		errs = append(errs, fmt.Errorf("reading_lag must be a non-negative whole number of minutes"))
	}
	if c.Quarantine < 0 {
		errs = append(errs, fmt.Errorf("quarantine must not be negative"))
	}
	if strings.TrimSpace(c.ClusterID) == "" {
		errs = append(errs, fmt.Errorf("cluster_id is required"))
	}
	if _, err := cron.ParseStandard(c.TickSchedule); err != nil {
		errs = append(errs, fmt.Errorf("tick_schedule %q: %v", c.TickSchedule, err))
	}
	seen := make(map[string]bool, len(c.HazardRules))
	for _, r := range c.HazardRules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[string(r.ID)] {
			errs = append(errs, fmt.Errorf("hazard rule %q defined twice", r.ID))
		}
		seen[string(r.ID)] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c Config) Health() health.Config {
	return health.Config{Thresholds: c.Thresholds, Quarantine: c.Quarantine}
}

func (c Config) Critical() critical.Config {
	return critical.Config{Rules: append([]critical.HazardRule(nil), c.HazardRules...), Radius: c.Radius}
}

func (c Config) Detector() analytics.Config {
	return analytics.Config{Threshold: c.Anomaly.Threshold, WindowSize: c.Anomaly.WindowSize}
}

func (c Config) Correlation() analytics.CorrelationConfig {
	return analytics.CorrelationConfig{
		Window: c.Anomaly.CorrelationWindow,
		MinAbs: c.Anomaly.CorrelationMin,
		Top:    c.Anomaly.CorrelationTop,
	}
}
