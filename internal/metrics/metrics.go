// Package metrics defines the Prometheus metrics of the monitoring services.
//
// Everything is registered with the default registry and served by
// promhttp.Handler on /metrics.
//
// Naming:
//   - fleetwatch_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TicksTotal counts monitoring ticks by result (ok, degraded, failed).
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_ticks_total",
			Help: "Total number of monitoring ticks by result.",
		},
		[]string{"result"},
	)

	TickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_tick_duration_seconds",
			Help:    "Duration of one monitoring tick in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// StatusTransitionsTotal counts health transitions by old and new status.
	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_status_transitions_total",
			Help: "Total node status transitions.",
		},
		[]string{"from", "to"},
	)

	NodesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_nodes_by_status",
			Help: "Number of known nodes per health status after the last tick.",
		},
		[]string{"status"},
	)

	CriticalAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_critical_alerts_total",
			Help: "Total critical alerts raised by hazard type.",
		},
		[]string{"hazard"},
	)

	InterClusterAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_intercluster_alerts_total",
			Help: "Total inter-cluster alerts emitted.",
		},
	)

	// ReadingsMissingTotal counts nodes skipped in a tick for lack of a reading.
	ReadingsMissingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_readings_missing_total",
			Help: "Total node readings missing at tick time.",
		},
	)

	DispatchDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_dispatch_dropped_total",
			Help: "Total tick reports dropped because the dispatch queue was full.",
		},
	)

	// ExternalAlertsTotal counts alerts merged from other instances by kind.
	ExternalAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_external_alerts_total",
			Help: "Total alerts merged from the external feed.",
		},
		[]string{"kind"},
	)

	// ReadingsIngestedTotal counts readings accepted by the persistence service.
	ReadingsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_readings_ingested_total",
			Help: "Total aggregated readings ingested.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TickDurationSeconds,
		StatusTransitionsTotal,
		NodesByStatus,
		CriticalAlertsTotal,
		InterClusterAlertsTotal,
		ReadingsMissingTotal,
		DispatchDroppedTotal,
		ExternalAlertsTotal,
		ReadingsIngestedTotal,
	)
}

// RecordTick records one finished tick.
func RecordTick(result string, d time.Duration, missing int) {
	TicksTotal.WithLabelValues(result).Inc()
	TickDurationSeconds.Observe(d.Seconds())
	ReadingsMissingTotal.Add(float64(missing))
}

func RecordTransition(from, to string) {
	StatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetNodeCounts replaces the per-status gauge values.
func SetNodeCounts(counts map[string]int, statuses []string) {
	for _, s := range statuses {
		NodesByStatus.WithLabelValues(s).Set(float64(counts[s]))
	}
}

func RecordCriticalAlert(hazard string) {
	CriticalAlertsTotal.WithLabelValues(hazard).Inc()
}

func RecordInterClusterAlerts(n int) {
	InterClusterAlertsTotal.Add(float64(n))
}

func RecordDispatchDropped() {
	DispatchDroppedTotal.Inc()
}

func RecordExternalAlert(kind string) {
	ExternalAlertsTotal.WithLabelValues(kind).Inc()
}

func RecordReadingIngested() {
	ReadingsIngestedTotal.Inc()
}
