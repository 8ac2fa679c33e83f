// Package monitor runs the monitoring loop: one tick per minute bucket reads
// every online node, moves the health state machine, raises and routes
// critical alerts and hands the outcome to the dispatcher. The loop goroutine
// is the only writer of the health store, the distance matrix and the alert
// engine; everybody else reads immutable snapshots.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/config"
	"github.com/LeonardoBeccarini/fleetwatch/internal/metrics"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/critical"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/geo"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/health"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/persistence"
)

var ErrLoopStopped = errors.New("monitor loop stopped")

// NodeLister is satisfied by registry.Registry.
type NodeLister interface {
	ListNodes(ctx context.Context) ([]entities.Node, error)
}

// ReadingSource is satisfied by persistence.Service.
type ReadingSource interface {
	GetReading(ctx context.Context, nodeID string, bucket time.Time) (entities.SensorReading, error)
}

// ReportSink receives every report; it must not block.
type ReportSink interface {
	Dispatch(r TickReport) bool
}

// TickReport is everything one tick, or one manual operation, produced.
type TickReport struct {
	At          time.Time                   `json:"at"`
	Bucket      time.Time                   `json:"bucket"`
	Manual      bool                        `json:"manual,omitempty"`
	Nodes       int                         `json:"nodes"`
	Evaluated   int                         `json:"evaluated"`
	Missing     []string                    `json:"missing,omitempty"`
	External    int                         `json:"external"`
	Transitions []messages.StatusTransition `json:"transitions,omitempty"`
	Feed        []messages.FeedEntry        `json:"feed,omitempty"`
	Critical    critical.Outcome            `json:"critical"`
	Duration    time.Duration               `json:"duration"`
}

// Empty reports whether there is nothing to broadcast.
func (r TickReport) Empty() bool {
	return len(r.Transitions) == 0 && len(r.Feed) == 0 && r.Critical.Empty()
}

// NodeView is a node together with its current health.
type NodeView struct {
	entities.Node
	Triggers     []entities.Trigger `json:"triggers,omitempty"`
	InfectedAt   *time.Time         `json:"infected_at,omitempty"`
	TriggerCount int                `json:"trigger_count"`
}

// Snapshot is an immutable copy of the loop state published after every tick.
type Snapshot struct {
	At                   time.Time                    `json:"at"`
	Nodes                []NodeView                   `json:"nodes"`
	Active               []messages.CriticalAlert     `json:"active"`
	InterCluster         []messages.InterClusterAlert `json:"intercluster"`
	Lines                []messages.AlertLine         `json:"lines"`
	ExternalCritical     []messages.CriticalAlert     `json:"external_critical"`
	ExternalInterCluster []messages.InterClusterAlert `json:"external_intercluster"`
}

// Node returns the view of id.
func (s *Snapshot) Node(id string) (NodeView, bool) {
	i := sort.Search(len(s.Nodes), func(i int) bool { return s.Nodes[i].ID >= id })
	if i < len(s.Nodes) && s.Nodes[i].ID == id {
		return s.Nodes[i], true
	}
	return NodeView{}, false
}

// external is one alert from another instance waiting for the next tick.
type external struct {
	critical *messages.CriticalAlert
	inter    *messages.InterClusterAlert
}

// command runs on the loop goroutine.
type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

type Loop struct {
	logger  *zap.Logger
	nodes   NodeLister
	source  ReadingSource
	sink    ReportSink
	store   *health.Store
	machine *health.Machine
	engine  *critical.Engine

	cfg         config.Config
	matrix      *geo.DistanceMatrix
	fingerprint uint64
	lastNodes   []entities.Node

	commands chan command
	inbox    chan external

	snap     atomic.Pointer[Snapshot]
	lastTick atomic.Int64 // unix nanos of the last successful tick
	now      func() time.Time
}

// NewLoop wires the loop. sink may be nil.
func NewLoop(cfg config.Config, nodes NodeLister, source ReadingSource, sink ReportSink, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := health.NewStore()
	l := &Loop{
		logger:   logger,
		nodes:    nodes,
		source:   source,
		sink:     sink,
		store:    store,
		machine:  health.NewMachine(cfg.Health(), store, logger.Named("health")),
		engine:   critical.NewEngine(cfg.Critical(), logger.Named("critical")),
		cfg:      cfg,
		commands: make(chan command),
		inbox:    make(chan external, 1024),
		now:      time.Now,
	}
	l.snap.Store(&Snapshot{})
	return l
}

// Snapshot returns the state published by the last tick.
func (l *Loop) Snapshot() *Snapshot { return l.snap.Load() }

// LastTick returns the time of the last successful tick, zero if none.
func (l *Loop) LastTick() time.Time {
	n := l.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run owns the loop state and executes commands until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-l.commands:
			c.reply <- c.fn(ctx)
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (l *Loop) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLoopStopped, err)
	}
	c := command{fn: fn, reply: make(chan error, 1)}
	select {
	case l.commands <- c:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLoopStopped, ctx.Err())
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLoopStopped, ctx.Err())
	}
}

// RequestTick runs one tick for now on the loop goroutine.
func (l *Loop) RequestTick(ctx context.Context, now time.Time) (TickReport, error) {
	var rep TickReport
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		rep, err = l.Tick(ctx, now)
		return err
	})
	return rep, err
}

// ApplyConfig swaps the configuration by value on the loop goroutine.
func (l *Loop) ApplyConfig(ctx context.Context, cfg config.Config) error {
	return l.do(ctx, func(context.Context) error {
		l.cfg = cfg
		l.machine.SetConfig(cfg.Health())
		l.engine.SetConfig(cfg.Critical())
		l.logger.Info("configuration applied",
			zap.Bool("critical_alerts_enabled", cfg.CriticalAlertsEnabled),
			zap.Int("hazard_rules", len(cfg.HazardRules)))
		return nil
	})
}

// Enqueue queues an alert received from another instance for the next
// tick. It reports false when the inbox is full.
func (l *Loop) Enqueue(a *messages.CriticalAlert, ic *messages.InterClusterAlert) bool {
	select {
	case l.inbox <- external{critical: a, inter: ic}:
		return true
	default:
		return false
	}
}

// bucketFor returns the minute bucket evaluated by a tick at now. With the
// default one-minute lag that is the last bucket the aggregator has closed.
func (l *Loop) bucketFor(now time.Time) time.Time {
	return now.UTC().Truncate(time.Minute).Add(-l.cfg.ReadingLag)
}

// Tick evaluates one minute bucket. It must run on the loop goroutine, or
// in tests where nothing else drives the loop. The error is returned only
// when the whole tick could not run.
func (l *Loop) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	start := l.now()
	rep := TickReport{At: now, Bucket: l.bucketFor(now)}
	rep.External = l.drainInbox()

	nodes, err := l.nodes.ListNodes(ctx)
	if err != nil {
		metrics.RecordTick("error", l.now().Sub(start), 0)
		l.publish(now)
		return rep, fmt.Errorf("list nodes: %w", err)
	}
	rep.Nodes = len(nodes)
	l.refreshMatrix(nodes)

	readings := l.fetchReadings(ctx, nodes, rep.Bucket, &rep)
	rep.Evaluated = len(readings)

	res := l.machine.Evaluate(nodes, readings, l.matrix, now)
	rep.Transitions = res.Transitions
	rep.Feed = res.Feed
	for _, t := range res.Transitions {
		metrics.RecordTransition(string(t.OldStatus), string(t.NewStatus))
	}

	if l.cfg.CriticalAlertsEnabled {
		ids := make([]string, 0, len(readings))
		for id := range readings {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		byID := indexNodes(nodes)
		for _, id := range ids {
			rep.Critical.Merge(l.engine.Evaluate(byID[id], readings[id], nodes, now))
		}
	}

	rep.Duration = l.now().Sub(start)
	l.finish(&rep)
	result := "ok"
	if len(rep.Missing) > 0 {
		result = "partial"
	}
	metrics.RecordTick(result, rep.Duration, len(rep.Missing))
	l.lastTick.Store(now.UnixNano())

	l.logger.Debug("tick done",
		zap.Time("bucket", rep.Bucket),
		zap.Int("evaluated", rep.Evaluated),
		zap.Int("missing", len(rep.Missing)),
		zap.Int("transitions", len(rep.Transitions)),
		zap.Int("critical", len(rep.Critical.Raised)))
	return rep, nil
}

func (l *Loop) drainInbox() int {
	n := 0
	for {
		select {
		case e := <-l.inbox:
			if e.critical != nil {
				l.engine.External().MergeCritical(*e.critical)
			}
			if e.inter != nil {
				l.engine.External().MergeInterCluster(*e.inter)
			}
			n++
		default:
			return n
		}
	}
}

// refreshMatrix rebuilds the distance matrix when positions or membership changed.
func (l *Loop) refreshMatrix(nodes []entities.Node) {
	l.lastNodes = nodes
	fp := geo.Fingerprint(nodes)
	if l.matrix != nil && fp == l.fingerprint {
		return
	}
	l.matrix = geo.BuildMatrix(nodes)
	l.fingerprint = fp
	l.logger.Info("distance matrix rebuilt", zap.Int("nodes", l.matrix.Len()))
}

func (l *Loop) fetchReadings(ctx context.Context, nodes []entities.Node, bucket time.Time, rep *TickReport) map[string]entities.SensorReading {
	out := make(map[string]entities.SensorReading, len(nodes))
	for _, n := range nodes {
		if n.Status == entities.StatusOffline {
			continue
		}
		r, err := l.source.GetReading(ctx, n.ID, bucket)
		if err != nil {
			rep.Missing = append(rep.Missing, n.ID)
			if errors.Is(err, persistence.ErrNoReading) {
				l.logger.Debug("no reading this tick", zap.String("node_id", n.ID))
			} else {
				l.logger.Warn("reading lookup failed", zap.String("node_id", n.ID), zap.Error(err))
			}
			continue
		}
		if r.ClusterID == "" {
			r.ClusterID = n.ClusterID
		}
		out[n.ID] = r
	}
	sort.Strings(rep.Missing)
	return out
}

// finish stamps the origin, records alert metrics, publishes the snapshot
// and hands the report to the sink.
func (l *Loop) finish(rep *TickReport) {
	origin := l.cfg.InstanceID
	for i := range rep.Transitions {
		rep.Transitions[i].Origin = origin
	}
	stamp := func(as []messages.CriticalAlert) {
		for i := range as {
			as[i].Origin = origin
		}
	}
	stampIC := func(ics []messages.InterClusterAlert) {
		for i := range ics {
			ics[i].Origin = origin
		}
	}
	stamp(rep.Critical.Raised)
	stamp(rep.Critical.Deactivated)
	stampIC(rep.Critical.Emitted)
	stampIC(rep.Critical.Retracted)

	for _, a := range rep.Critical.Raised {
		metrics.RecordCriticalAlert(string(a.HazardType))
	}
	metrics.RecordInterClusterAlerts(len(rep.Critical.Emitted))

	l.publish(rep.At)
	if l.sink != nil && !rep.Empty() {
		if !l.sink.Dispatch(*rep) {
			l.logger.Warn("dispatch queue full, report dropped", zap.Time("at", rep.At))
		}
	}
}

// publish builds and stores a fresh snapshot.
func (l *Loop) publish(at time.Time) {
	snap := &Snapshot{
		At:                   at,
		Nodes:                make([]NodeView, 0, len(l.lastNodes)),
		Active:               l.engine.Active(),
		InterCluster:         l.engine.InterCluster(),
		Lines:                l.engine.Lines(),
		ExternalCritical:     l.engine.External().Critical(),
		ExternalInterCluster: l.engine.External().InterCluster(),
	}
	counts := make(map[string]int)
	for _, n := range l.lastNodes {
		v := NodeView{Node: n}
		if st, ok := l.store.Get(n.ID); ok {
			v.Triggers = st.Triggers
			v.InfectedAt = st.InfectedAt
			v.TriggerCount = st.TriggerCount
			if n.Status != entities.StatusOffline {
				v.Status = st.Status
			}
		} else if n.Status != entities.StatusOffline {
			v.Status = entities.StatusOnline
		}
		counts[string(v.Status)]++
		snap.Nodes = append(snap.Nodes, v)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	metrics.SetNodeCounts(counts, allStatuses)
	l.snap.Store(snap)
}

var allStatuses = []string{
	string(entities.StatusOnline),
	string(entities.StatusInfected),
	string(entities.StatusAtRisk),
	string(entities.StatusOffline),
}

func indexNodes(nodes []entities.Node) map[string]entities.Node {
	m := make(map[string]entities.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}
