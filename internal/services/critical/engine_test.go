package critical

import (
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/fleetwatch/internal/model/messages"
)

var now0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// ~1.11 m of latitude per 0.00001 degree
const metre = 0.00001 / 1.1119

func at(id, cluster string, northMetres float64) entities.Node {
	return entities.Node{ID: id, ClusterID: cluster, Latitude: 41.9 + northMetres*metre, Longitude: 12.5}
}

func newTestEngine() *Engine {
	e := NewEngine(DefaultConfig(), zap.NewNop())
	seq := 0
	e.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return e
}

func pest(id string) entities.SensorReading {
	return entities.SensorReading{NodeID: id, Values: map[entities.Field]float64{
		entities.FieldAirTemperature: 42,
		entities.FieldHumidity:       92,
	}}
}

func TestPestOutbreakSupersedes(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine()
	src := at("src", "c1", 0)
	nodes := []entities.Node{src}

	out := e.Evaluate(src, pest("src"), nodes, now0)
	g.Expect(out.Raised).To(HaveLen(1))
	g.Expect(out.Raised[0].HazardType).To(Equal(HazardPestOutbreak))
	g.Expect(out.Raised[0].Key()).To(Equal(messages.AlertKey{SourceNodeID: "src", HazardType: HazardPestOutbreak}))
	g.Expect(out.Raised[0].Message).To(ContainSubstring("42"))
	g.Expect(out.Deactivated).To(BeEmpty())
	first := out.Raised[0].ID

	out = e.Evaluate(src, pest("src"), nodes, now0.Add(time.Minute))
	g.Expect(out.Raised).To(HaveLen(1))
	g.Expect(out.Deactivated).To(HaveLen(1))
	g.Expect(out.Deactivated[0].ID).To(Equal(first))
	g.Expect(out.Deactivated[0].Active).To(BeFalse())
	g.Expect(out.Deactivated[0].DeactivatedAt).NotTo(BeNil())

	active := e.Active()
	g.Expect(active).To(HaveLen(1))
	g.Expect(active[0].ID).NotTo(Equal(first))
}

func TestFirstMatchingRuleWins(t *testing.T) {
	g := NewWithT(t)
	r := entities.SensorReading{Values: map[entities.Field]float64{
		entities.FieldAirTemperature: 40,
		entities.FieldHumidity:       90,
		entities.FieldTVOC:           500,
	}}
	rule, ok := FirstMatch(DefaultRules(), r)
	g.Expect(ok).To(BeTrue())
	g.Expect(rule.ID).To(Equal(HazardPestOutbreak))

	e := newTestEngine()
	src := at("src", "c1", 0)
	out := e.Evaluate(src, r, []entities.Node{src}, now0)
	g.Expect(out.Raised).To(HaveLen(1))
	g.Expect(e.Active()).To(HaveLen(1))
}

func TestMissingFieldNeverMatches(t *testing.T) {
	g := NewWithT(t)
	r := entities.SensorReading{Values: map[entities.Field]float64{entities.FieldAirTemperature: 42}}
	_, ok := FirstMatch(DefaultRules(), r)
	g.Expect(ok).To(BeFalse())
}

func TestOneInterClusterAlertPerDestination(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine()
	src := at("src", "c1", 0)
	nodes := []entities.Node{
		src,
		at("own", "c1", 10),
		at("b1", "c2", 20),
		at("b2", "c2", 40),
		at("b3", "c2", 90),
		at("x1", "c3", 60),
		at("far", "c4", 250),
	}

	out := e.Evaluate(src, pest("src"), nodes, now0)
	g.Expect(out.Emitted).To(HaveLen(2))

	byDest := map[string]messages.InterClusterAlert{}
	for _, ic := range out.Emitted {
		g.Expect(byDest).NotTo(HaveKey(ic.DestinationClusterID))
		byDest[ic.DestinationClusterID] = ic
	}
	g.Expect(byDest["c2"].AffectedNodeIDs).To(Equal([]string{"b1", "b2", "b3"}))
	g.Expect(byDest["c2"].AffectedCount).To(Equal(3))
	g.Expect(byDest["c3"].AffectedNodeIDs).To(Equal([]string{"x1"}))
	g.Expect(byDest).NotTo(HaveKey("c1"))
	g.Expect(byDest).NotTo(HaveKey("c4"))
	for _, ic := range out.Emitted {
		g.Expect(ic.SourceAlertID).To(Equal(out.Raised[0].ID))
	}

	g.Expect(e.Lines()).To(HaveLen(4))
}

func TestFallbackToSingleClosest(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine()
	src := at("src", "c1", 0)
	nodes := []entities.Node{
		src,
		at("near", "c2", 150),
		at("nearer", "c3", 120),
		at("out", "c4", 400),
	}

	out := e.Evaluate(src, pest("src"), nodes, now0)
	g.Expect(out.Emitted).To(HaveLen(1))
	g.Expect(out.Emitted[0].DestinationClusterID).To(Equal("c3"))
	g.Expect(out.Emitted[0].AffectedNodeIDs).To(Equal([]string{"nearer"}))
}

func TestDiscoverIgnoresOwnClusterBeforeFallback(t *testing.T) {
	g := NewWithT(t)
	src := at("src", "c1", 0)
	sibling := at("sibling", "c1", 50)
	foreign := at("foreign", "c2", 200)

	got := Discover(src, []entities.Node{src, sibling, foreign}, DefaultRadius())
	g.Expect(got).To(HaveLen(1))
	g.Expect(got[0].ID).To(Equal("foreign"))

	e := newTestEngine()
	out := e.Evaluate(src, pest("src"), []entities.Node{src, sibling, foreign}, now0)
	g.Expect(out.Emitted).To(HaveLen(1))
	g.Expect(out.Emitted[0].DestinationClusterID).To(Equal("c2"))
	g.Expect(out.Emitted[0].AffectedNodeIDs).To(Equal([]string{"foreign"}))
}

func TestNoCandidateStillRaises(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine()
	src := at("src", "c1", 0)

	out := e.Evaluate(src, pest("src"), []entities.Node{src, at("out", "c2", 500)}, now0)
	g.Expect(out.Raised).To(HaveLen(1))
	g.Expect(out.Emitted).To(BeEmpty())
	g.Expect(e.Lines()).To(BeEmpty())
}

func TestClearRetractsDerived(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine()
	src := at("src", "c1", 0)
	nodes := []entities.Node{src, at("b1", "c2", 30), at("x1", "c3", 50)}

	raised := e.Evaluate(src, pest("src"), nodes, now0)
	g.Expect(raised.Emitted).To(HaveLen(2))

	out, err := e.Clear(raised.Raised[0].Key(), now0.Add(time.Minute))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out.Deactivated).To(HaveLen(1))
	g.Expect(out.Retracted).To(HaveLen(2))
	for _, ic := range out.Retracted {
		g.Expect(ic.Active).To(BeFalse())
	}
	g.Expect(e.Active()).To(BeEmpty())
	g.Expect(e.InterCluster()).To(BeEmpty())

	_, err = e.Clear(raised.Raised[0].Key(), now0.Add(2*time.Minute))
	g.Expect(err).To(MatchError(ErrNoActiveAlert))
}

func TestSupersedeRetractsPreviousRouting(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine()
	src := at("src", "c1", 0)
	nodes := []entities.Node{src, at("b1", "c2", 30)}

	e.Evaluate(src, pest("src"), nodes, now0)
	out := e.Evaluate(src, pest("src"), nodes, now0.Add(time.Minute))
	g.Expect(out.Retracted).To(HaveLen(1))
	g.Expect(out.Emitted).To(HaveLen(1))
	g.Expect(e.InterCluster()).To(HaveLen(1))
	g.Expect(e.InterCluster()[0].SourceAlertID).To(Equal(out.Raised[0].ID))
}

func TestRaiseManualUnknownNode(t *testing.T) {
	g := NewWithT(t)
	e := newTestEngine()
	_, err := e.RaiseManual("ghost", HazardFrost, nil, now0)
	g.Expect(err).To(MatchError(ErrUnknownNode))

	src := at("src", "c1", 0)
	out, err := e.RaiseManual("src", HazardFrost, []entities.Node{src}, now0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out.Raised[0].Manual).To(BeTrue())
}

func TestRuleValidate(t *testing.T) {
	g := NewWithT(t)
	for _, r := range DefaultRules() {
		g.Expect(r.Validate()).To(Succeed())
	}
	bad := HazardRule{ID: "x", Conditions: []Condition{
		{Field: entities.FieldTVOC, Op: OpGT, Value: 1},
		{Field: entities.FieldTVOC, Op: OpGT, Value: 2},
		{Field: entities.FieldTVOC, Op: OpGT, Value: 3},
	}}
	g.Expect(bad.Validate()).To(MatchError(ErrInvalidRule))
	g.Expect(HazardRule{ID: "y", Conditions: []Condition{{Field: "nope", Op: OpGT}}}.Validate()).To(MatchError(ErrInvalidRule))
	g.Expect(HazardRule{ID: "z", Conditions: []Condition{{Field: entities.FieldTVOC, Op: "=="}}}.Validate()).To(MatchError(ErrInvalidRule))
}
