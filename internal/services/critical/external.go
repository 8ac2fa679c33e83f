package critical

import (
	"sort"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

type icKey struct {
	sourceAlertID string
	destination   string
}

// clusterAlerts is the partition of one source cluster.
type clusterAlerts struct {
	critical map[messages.AlertKey]messages.CriticalAlert
	inter    map[icKey]messages.InterClusterAlert
}

// ExternalSet holds alerts received from other instances, partitioned by
// source cluster so they never collide with the local set.
type ExternalSet struct {
	byCluster map[string]*clusterAlerts
}

func NewExternalSet() *ExternalSet {
	return &ExternalSet{byCluster: make(map[string]*clusterAlerts)}
}

func (x *ExternalSet) partition(cluster string) *clusterAlerts {
	p, ok := x.byCluster[cluster]
	if !ok {
		p = &clusterAlerts{
			critical: make(map[messages.AlertKey]messages.CriticalAlert),
			inter:    make(map[icKey]messages.InterClusterAlert),
		}
		x.byCluster[cluster] = p
	}
	return p
}

// MergeCritical applies an active or deactivated alert. A deactivation only
// removes the alert it names, not a newer one in the same slot.
func (x *ExternalSet) MergeCritical(a messages.CriticalAlert) {
	p := x.partition(a.SourceClusterID)
	key := a.Key()
	if a.Active {
		p.critical[key] = a
		return
	}
	if cur, ok := p.critical[key]; ok && cur.ID == a.ID {
		delete(p.critical, key)
	}
	for k := range p.inter {
		if k.sourceAlertID == a.ID {
			delete(p.inter, k)
		}
	}
}

func (x *ExternalSet) MergeInterCluster(ic messages.InterClusterAlert) {
	p := x.partition(ic.SourceClusterID)
	key := icKey{sourceAlertID: ic.SourceAlertID, destination: ic.DestinationClusterID}
	if ic.Active {
		p.inter[key] = ic
		return
	}
	delete(p.inter, key)
}

func (x *ExternalSet) clusters() []string {
	out := make([]string, 0, len(x.byCluster))
	for c := range x.byCluster {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Critical returns the active external alerts ordered by cluster, node, hazard.
func (x *ExternalSet) Critical() []messages.CriticalAlert {
	var out []messages.CriticalAlert
	for _, c := range x.clusters() {
		part := make([]messages.CriticalAlert, 0, len(x.byCluster[c].critical))
		for _, a := range x.byCluster[c].critical {
			part = append(part, a)
		}
		sort.Slice(part, func(i, j int) bool {
			if part[i].SourceNodeID != part[j].SourceNodeID {
				return part[i].SourceNodeID < part[j].SourceNodeID
			}
			return part[i].HazardType < part[j].HazardType
		})
		out = append(out, part...)
	}
	return out
}

func (x *ExternalSet) InterCluster() []messages.InterClusterAlert {
	var out []messages.InterClusterAlert
	for _, c := range x.clusters() {
		part := make([]messages.InterClusterAlert, 0, len(x.byCluster[c].inter))
		for _, ic := range x.byCluster[c].inter {
			part = append(part, ic)
		}
		sort.Slice(part, func(i, j int) bool {
			if part[i].SourceAlertID != part[j].SourceAlertID {
				return part[i].SourceAlertID < part[j].SourceAlertID
			}
			return part[i].DestinationClusterID < part[j].DestinationClusterID
		})
		out = append(out, part...)
	}
	return out
}

// ForCluster returns the active external inter-cluster alerts addressed to dest.
func (x *ExternalSet) ForCluster(dest string) []messages.InterClusterAlert {
	var out []messages.InterClusterAlert
	for _, ic := range x.InterCluster() {
		if ic.DestinationClusterID == dest {
			out = append(out, ic)
		}
	}
	return out
}
