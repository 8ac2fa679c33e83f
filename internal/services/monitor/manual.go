package monitor

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/fleetwatch/internal/services/critical"
)

// RaiseTestAlert raises an operator test alert for nodeID on the loop
// goroutine and dispatches it right away.
func (l *Loop) RaiseTestAlert(ctx context.Context, nodeID string, hazard messages.HazardType) (critical.Outcome, error) {
	var out critical.Outcome
	err := l.do(ctx, func(ctx context.Context) error {
		nodes, err := l.nodes.ListNodes(ctx)
		if err != nil {
			return err
		}
		l.refreshMatrix(nodes)
		now := l.now()
		out, err = l.engine.RaiseManual(nodeID, hazard, nodes, now)
		if err != nil {
			return err
		}
		rep := TickReport{At: now, Bucket: now.UTC().Truncate(time.Minute), Manual: true, Critical: out}
		l.finish(&rep)
		out = rep.Critical
		return nil
	})
	return out, err
}

// RetractTestAlert deactivates the active alert for (nodeID, hazard) and
// every inter-cluster alert derived from it. Observers that already hold
// the alert get explicit deactivation records.
func (l *Loop) RetractTestAlert(ctx context.Context, nodeID string, hazard messages.HazardType) (critical.Outcome, error) {
	var out critical.Outcome
	err := l.do(ctx, func(context.Context) error {
		now := l.now()
		var err error
		out, err = l.engine.Clear(messages.AlertKey{SourceNodeID: nodeID, HazardType: hazard}, now)
		if err != nil {
			return err
		}
		rep := TickReport{At: now, Bucket: now.UTC().Truncate(time.Minute), Manual: true, Critical: out}
		l.finish(&rep)
		out = rep.Critical
		return nil
	})
	return out, err
}
