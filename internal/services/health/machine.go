// Package health implements the per-node health state machine: absolute
// threshold triggers, hysteresis on recovery and one-hop at-risk
// propagation to the nearest neighbour.
package health

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/geo"
)

// Config of the machine.
type Config struct {
	Thresholds Thresholds
	// Quarantine is the minimum time a node stays infected. Zero recovers
	// as soon as every reading is back in range.
	Quarantine time.Duration
}

func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds()}
}

// Neighbours answers nearest-neighbour queries. *geo.DistanceMatrix
// satisfies it.
type Neighbours interface {
	Nearest(id string) (string, float64, bool)
}

var _ Neighbours = (*geo.DistanceMatrix)(nil)

// Result is what one evaluation produced.
type Result struct {
	Transitions []messages.StatusTransition
	Feed        []messages.FeedEntry
	// Infected holds the nodes that entered infected during this evaluation.
	Infected []string
}

// Machine mutates the states held by its Store.
type Machine struct {
	cfg    Config
	store  *Store
	logger *zap.Logger
	newID  func() string
}

func NewMachine(cfg Config, store *Store, logger *zap.Logger) *Machine {
	if store == nil {
		store = NewStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{cfg: cfg, store: store, logger: logger, newID: uuid.NewString}
}

// SetConfig swaps the configuration; callers do it between evaluations.
func (m *Machine) SetConfig(cfg Config) { m.cfg = cfg }

func (m *Machine) Config() Config { return m.cfg }

func (m *Machine) Store() *Store { return m.store }

// Evaluate runs one tick. Nodes without an entry in readings are skipped and
// keep their state. Infection and recovery are decided for every node first;
// propagation then looks at the resulting statuses. An offline neighbour
// never puts a node at risk, whatever its last known status.
func (m *Machine) Evaluate(nodes []entities.Node, readings map[string]entities.SensorReading, nb Neighbours, now time.Time) Result {
	ordered := append([]entities.Node(nil), nodes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var res Result
	newly := make(map[string]bool)
	offline := make(map[string]bool)
	for _, n := range ordered {
		if n.Status == entities.StatusOffline {
			offline[n.ID] = true
		}
	}

	for _, n := range ordered {
		r, ok := readings[n.ID]
		if !ok {
			continue
		}
		if m.evaluateNode(n, r, now, &res) {
			newly[n.ID] = true
			res.Infected = append(res.Infected, n.ID)
		}
	}

	if nb == nil {
		return res
	}
	for _, n := range ordered {
		if _, ok := readings[n.ID]; !ok {
			continue
		}
		m.propagate(n, nb, newly, offline, now, &res)
	}
	return res
}

// evaluateNode applies triggers and hysteresis to one node and reports
// whether it became infected.
func (m *Machine) evaluateNode(n entities.Node, r entities.SensorReading, now time.Time, res *Result) bool {
	st := m.store.state(n.ID, now)
	triggers := EvaluateTriggers(r, m.cfg.Thresholds)

	if st.Status != entities.StatusInfected {
		if len(triggers) == 0 {
			return false
		}
		old := st.Status
		st.Status = entities.StatusInfected
		st.Triggers = triggers
		at := now
		st.InfectedAt = &at
		st.TriggerCount++
		st.UpdatedAt = now
		m.transition(n, old, st, now, res)
		res.Feed = append(res.Feed, m.feed(messages.FeedInfected, n, "", worstSeverity(triggers), infectedMessage(n, triggers), now))
		return true
	}

	if len(triggers) > 0 {
		st.Triggers = triggers
		st.UpdatedAt = now
		return false
	}
	if !Normalized(r, m.cfg.Thresholds) || !m.quarantineOver(st, now) {
		// dead band: keep the triggers that put the node here
		return false
	}

	st.Status = entities.StatusOnline
	st.Triggers = nil
	st.InfectedAt = nil
	st.UpdatedAt = now
	m.transition(n, entities.StatusInfected, st, now, res)
	res.Feed = append(res.Feed, m.feed(messages.FeedRecovered, n, "", entities.SeverityInfo,
		fmt.Sprintf("node %s recovered, readings back in range", n.ID), now))
	return false
}

func (m *Machine) quarantineOver(st *entities.HealthState, now time.Time) bool {
	if m.cfg.Quarantine <= 0 || st.InfectedAt == nil {
		return true
	}
	return now.Sub(*st.InfectedAt) >= m.cfg.Quarantine
}

func (m *Machine) propagate(n entities.Node, nb Neighbours, newly, offline map[string]bool, now time.Time, res *Result) {
	st := m.store.state(n.ID, now)
	if st.Status == entities.StatusInfected {
		return
	}
	neighbour, _, ok := nb.Nearest(n.ID)
	if !ok {
		return
	}
	infected := !offline[neighbour] && m.store.Status(neighbour) == entities.StatusInfected

	switch {
	case infected && st.Status != entities.StatusAtRisk:
		old := st.Status
		st.Status = entities.StatusAtRisk
		st.UpdatedAt = now
		m.transition(n, old, st, now, res)
		if newly[neighbour] {
			res.Feed = append(res.Feed, m.feed(messages.FeedNeighborAtRisk, n, neighbour, entities.SeverityWarning,
				fmt.Sprintf("node %s at risk: nearest neighbour %s became infected", n.ID, neighbour), now))
		}
	case !infected && st.Status == entities.StatusAtRisk:
		st.Status = entities.StatusOnline
		st.UpdatedAt = now
		m.transition(n, entities.StatusAtRisk, st, now, res)
	}
}

func (m *Machine) transition(n entities.Node, old entities.NodeStatus, st *entities.HealthState, now time.Time, res *Result) {
	m.logger.Debug("status transition",
		zap.String("node_id", n.ID),
		zap.String("from", string(old)),
		zap.String("to", string(st.Status)))
	res.Transitions = append(res.Transitions, messages.StatusTransition{
		NodeID:    n.ID,
		ClusterID: n.ClusterID,
		OldStatus: old,
		NewStatus: st.Status,
		Triggers:  append([]entities.Trigger(nil), st.Triggers...),
		Timestamp: now,
	})
}

func (m *Machine) feed(kind messages.FeedKind, n entities.Node, related string, sev entities.Severity, msg string, now time.Time) messages.FeedEntry {
	return messages.FeedEntry{
		ID:        m.newID(),
		Kind:      kind,
		NodeID:    n.ID,
		ClusterID: n.ClusterID,
		RelatedID: related,
		Severity:  sev,
		Message:   msg,
		Timestamp: now,
	}
}

func infectedMessage(n entities.Node, ts []entities.Trigger) string {
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		parts = append(parts, fmt.Sprintf("%s (%s=%g, threshold %g)", t.Reason, t.Field, t.Value, t.Threshold))
	}
	return fmt.Sprintf("node %s infected: %s", n.ID, strings.Join(parts, "; "))
}
