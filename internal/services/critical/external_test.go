package critical

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

func TestExternalSetPartitionsBySourceCluster(t *testing.T) {
	g := NewWithT(t)
	x := NewExternalSet()

	a := messages.CriticalAlert{ID: "a1", SourceNodeID: "n1", SourceClusterID: "c1", HazardType: HazardFrost, Active: true}
	b := messages.CriticalAlert{ID: "b1", SourceNodeID: "n1", SourceClusterID: "c2", HazardType: HazardFrost, Active: true}
	x.MergeCritical(a)
	x.MergeCritical(b)
	g.Expect(x.Critical()).To(HaveLen(2))

	// newer alert in the same slot, then a stale deactivation of the old one
	a2 := a
	a2.ID = "a2"
	x.MergeCritical(a2)
	stale := a
	stale.Active = false
	x.MergeCritical(stale)

	got := x.Critical()
	g.Expect(got).To(HaveLen(2))
	g.Expect(got[0].ID).To(Equal("a2"))
	g.Expect(got[1].ID).To(Equal("b1"))
}

func TestExternalSetInterClusterLifecycle(t *testing.T) {
	g := NewWithT(t)
	x := NewExternalSet()
	ic := messages.InterClusterAlert{
		ID: "i1", SourceAlertID: "a1", SourceNodeID: "n1", SourceClusterID: "c1",
		DestinationClusterID: "c9", HazardType: HazardFlood,
		AffectedNodeIDs: []string{"m1", "m2"}, AffectedCount: 2, Active: true,
	}
	x.MergeInterCluster(ic)
	x.MergeInterCluster(ic)
	g.Expect(x.InterCluster()).To(HaveLen(1))
	g.Expect(x.ForCluster("c9")).To(HaveLen(1))
	g.Expect(x.ForCluster("c1")).To(BeEmpty())
	g.Expect(linesOf(x.InterCluster(), true)).To(HaveLen(2))

	// deactivating the source alert drops what was derived from it
	x.MergeCritical(messages.CriticalAlert{ID: "a1", SourceNodeID: "n1", SourceClusterID: "c1", HazardType: HazardFlood, Active: false})
	g.Expect(x.InterCluster()).To(BeEmpty())
}
