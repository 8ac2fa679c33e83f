// Package critical raises hazard alerts for a node and routes them to the
// other clusters that own nodes close to it, with at most one notice per
// destination cluster.
package critical

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/geo"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrNoActiveAlert = errors.New("no active alert")
)

// RadiusConfig bounds tenant discovery, in metres of great-circle distance.
type RadiusConfig struct {
	PrimaryMeters  float64 `json:"primary_meters" mapstructure:"primary_meters"`
	FallbackMeters float64 `json:"fallback_meters" mapstructure:"fallback_meters"`
}

func DefaultRadius() RadiusConfig {
	return RadiusConfig{PrimaryMeters: 100, FallbackMeters: 300}
}

type Config struct {
	Rules  []HazardRule
	Radius RadiusConfig
}

func DefaultConfig() Config {
	return Config{Rules: DefaultRules(), Radius: DefaultRadius()}
}

// Outcome lists the records one call produced, ready for broadcast.
// Deactivated and Retracted entries carry Active=false.
type Outcome struct {
	Raised      []messages.CriticalAlert
	Deactivated []messages.CriticalAlert
	Emitted     []messages.InterClusterAlert
	Retracted   []messages.InterClusterAlert
}

func (o *Outcome) Merge(other Outcome) {
	o.Raised = append(o.Raised, other.Raised...)
	o.Deactivated = append(o.Deactivated, other.Deactivated...)
	o.Emitted = append(o.Emitted, other.Emitted...)
	o.Retracted = append(o.Retracted, other.Retracted...)
}

func (o Outcome) Empty() bool {
	return len(o.Raised)+len(o.Deactivated)+len(o.Emitted)+len(o.Retracted) == 0
}

// Engine owns the local alert set. Like the health store it has a single
// writer and is not safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	newID  func() string

	active  map[messages.AlertKey]*messages.CriticalAlert
	derived map[string][]messages.InterClusterAlert // by source alert id

	external *ExternalSet
}

func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		newID:    uuid.NewString,
		active:   make(map[messages.AlertKey]*messages.CriticalAlert),
		derived:  make(map[string][]messages.InterClusterAlert),
		external: NewExternalSet(),
	}
}

func (e *Engine) SetConfig(cfg Config) { e.cfg = cfg }

func (e *Engine) Config() Config { return e.cfg }

// External returns the set of alerts received from other instances.
func (e *Engine) External() *ExternalSet { return e.external }

// Evaluate applies the first matching hazard rule to a reading of src.
func (e *Engine) Evaluate(src entities.Node, r entities.SensorReading, nodes []entities.Node, now time.Time) Outcome {
	rule, ok := FirstMatch(e.cfg.Rules, r)
	if !ok {
		return Outcome{}
	}
	return e.raise(src, rule.ID, rule.Render(src, r), false, nodes, now)
}

// RaiseManual raises a test alert for nodeID.
func (e *Engine) RaiseManual(nodeID string, hazard messages.HazardType, nodes []entities.Node, now time.Time) (Outcome, error) {
	src, ok := findNode(nodes, nodeID)
	if !ok {
		return Outcome{}, fmt.Errorf("raise %s on %s: %w", hazard, nodeID, ErrUnknownNode)
	}
	msg := fmt.Sprintf("Test alert: %s at node %s (%s)", hazard, src.ID, src.ClusterID)
	return e.raise(src, hazard, msg, true, nodes, now), nil
}

// Clear deactivates the active alert for key and retracts every
// inter-cluster alert derived from it.
func (e *Engine) Clear(key messages.AlertKey, now time.Time) (Outcome, error) {
	cur, ok := e.active[key]
	if !ok {
		return Outcome{}, fmt.Errorf("clear %s on %s: %w", key.HazardType, key.SourceNodeID, ErrNoActiveAlert)
	}
	return e.deactivate(cur, now), nil
}

func (e *Engine) raise(src entities.Node, hazard messages.HazardType, msg string, manual bool, nodes []entities.Node, now time.Time) Outcome {
	var out Outcome
	key := messages.AlertKey{SourceNodeID: src.ID, HazardType: hazard}
	if prev, ok := e.active[key]; ok {
		out.Merge(e.deactivate(prev, now))
	}

	alert := &messages.CriticalAlert{
		ID:              e.newID(),
		SourceNodeID:    src.ID,
		SourceClusterID: src.ClusterID,
		HazardType:      hazard,
		Message:         msg,
		Latitude:        src.Latitude,
		Longitude:       src.Longitude,
		Active:          true,
		Manual:          manual,
		Timestamp:       now,
	}
	e.active[key] = alert
	out.Raised = append(out.Raised, *alert)

	ics := e.route(alert, src, Discover(src, nodes, e.cfg.Radius), now)
	if len(ics) > 0 {
		e.derived[alert.ID] = ics
		out.Emitted = append(out.Emitted, cloneICs(ics)...)
	}

	e.logger.Info("critical alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("node_id", src.ID),
		zap.String("cluster_id", src.ClusterID),
		zap.String("hazard", string(hazard)),
		zap.Int("destinations", len(ics)))
	return out
}

func (e *Engine) deactivate(a *messages.CriticalAlert, now time.Time) Outcome {
	var out Outcome
	delete(e.active, a.Key())

	done := *a
	done.Active = false
	at := now
	done.DeactivatedAt = &at
	out.Deactivated = append(out.Deactivated, done)

	for _, ic := range e.derived[a.ID] {
		ic.Active = false
		ic.AffectedNodeIDs = append([]string(nil), ic.AffectedNodeIDs...)
		ic.Timestamp = now
		out.Retracted = append(out.Retracted, ic)
	}
	delete(e.derived, a.ID)
	return out
}

// route groups affected nodes by cluster, skipping the source's own, and
// builds one inter-cluster alert per destination.
func (e *Engine) route(a *messages.CriticalAlert, src entities.Node, affected []entities.Node, now time.Time) []messages.InterClusterAlert {
	byCluster := make(map[string][]string)
	for _, n := range affected {
		if n.ClusterID == src.ClusterID {
			continue
		}
		byCluster[n.ClusterID] = append(byCluster[n.ClusterID], n.ID)
	}

	dests := make([]string, 0, len(byCluster))
	for c := range byCluster {
		dests = append(dests, c)
	}
	sort.Strings(dests)

	out := make([]messages.InterClusterAlert, 0, len(dests))
	for _, dest := range dests {
		ids := byCluster[dest]
		sort.Strings(ids)
		out = append(out, messages.InterClusterAlert{
			ID:                   e.newID(),
			SourceAlertID:        a.ID,
			SourceNodeID:         a.SourceNodeID,
			SourceClusterID:      a.SourceClusterID,
			DestinationClusterID: dest,
			HazardType:           a.HazardType,
			Message:              a.Message,
			AffectedNodeIDs:      ids,
			AffectedCount:        len(ids),
			Active:               true,
			Timestamp:            now,
		})
	}
	return out
}

// Discover returns the nodes of other clusters within the primary radius
// of src. When there are none it returns the single closest one within the
// fallback radius, or nothing.
func Discover(src entities.Node, nodes []entities.Node, rc RadiusConfig) []entities.Node {
	var (
		inPrimary []entities.Node
		closest   entities.Node
		best      = math.Inf(1)
	)
	for _, n := range nodes {
		if n.ID == src.ID || n.ClusterID == src.ClusterID {
			continue
		}
		d := geo.GreatCircleDistance(src.Latitude, src.Longitude, n.Latitude, n.Longitude)
		if d <= rc.PrimaryMeters {
			inPrimary = append(inPrimary, n)
		}
		if d <= rc.FallbackMeters && (d < best || (d == best && n.ID < closest.ID)) {
			closest, best = n, d
		}
	}
	if len(inPrimary) > 0 {
		return inPrimary
	}
	if math.IsInf(best, 1) {
		return nil
	}
	return []entities.Node{closest}
}

// Active returns the active local alerts ordered by node and hazard.
func (e *Engine) Active() []messages.CriticalAlert {
	out := make([]messages.CriticalAlert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceNodeID != out[j].SourceNodeID {
			return out[i].SourceNodeID < out[j].SourceNodeID
		}
		return out[i].HazardType < out[j].HazardType
	})
	return out
}

// InterCluster returns the active inter-cluster alerts derived locally.
func (e *Engine) InterCluster() []messages.InterClusterAlert {
	var out []messages.InterClusterAlert
	for _, a := range e.Active() {
		out = append(out, cloneICs(e.derived[a.ID])...)
	}
	return out
}

// Lines derives the visualization edges of the local and external sets.
func (e *Engine) Lines() []messages.AlertLine {
	out := linesOf(e.InterCluster(), false)
	return append(out, linesOf(e.external.InterCluster(), true)...)
}

func linesOf(ics []messages.InterClusterAlert, external bool) []messages.AlertLine {
	var out []messages.AlertLine
	for _, ic := range ics {
		for _, id := range ic.AffectedNodeIDs {
			out = append(out, messages.AlertLine{
				SourceNodeID:      ic.SourceNodeID,
				DestinationNodeID: id,
				HazardType:        ic.HazardType,
				External:          external,
			})
		}
	}
	return out
}

func cloneICs(in []messages.InterClusterAlert) []messages.InterClusterAlert {
	out := make([]messages.InterClusterAlert, len(in))
	for i, ic := range in {
		ic.AffectedNodeIDs = append([]string(nil), ic.AffectedNodeIDs...)
		out[i] = ic
	}
	return out
}

func findNode(nodes []entities.Node, id string) (entities.Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return entities.Node{}, false
}
