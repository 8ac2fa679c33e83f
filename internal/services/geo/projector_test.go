package geo

import (
	"math"
	"testing"
)

func TestProject_UnitScale(t *testing.T) {
	p := Project(45.001, 9.0, 45.0, 9.0)
	if math.Abs(p.X) > 1e-9 {
		t.Fatalf("expected x=0, got %f", p.X)
	}
	// 0.001 deg * 111320 m = 111.32 m = 11.132 units
	if math.Abs(p.Y-11.132) > 1e-6 {
		t.Fatalf("expected y=11.132, got %f", p.Y)
	}

	q := Project(45.0, 9.001, 45.0, 9.0)
	want := 111.32 * math.Cos(45*math.Pi/180) / 10
	if math.Abs(q.X-want) > 1e-6 {
		t.Fatalf("expected x=%f, got %f", want, q.X)
	}
}

func TestGreatCircleDistance(t *testing.T) {
	if d := GreatCircleDistance(10, 20, 10, 20); d != 0 {
		t.Fatalf("expected 0 for same point, got %f", d)
	}

	d := GreatCircleDistance(0, 0, 1, 0)
	if math.Abs(d-111194.93) > 1 {
		t.Fatalf("expected ~111195 m per degree, got %f", d)
	}

	ab := GreatCircleDistance(41.9, 12.5, 45.46, 9.19)
	ba := GreatCircleDistance(45.46, 9.19, 41.9, 12.5)
	if math.Abs(ab-ba) > 1e-6 {
		t.Fatalf("distance not symmetric: %f vs %f", ab, ba)
	}
	// Rome - Milan is roughly 477 km
	if ab < 470000 || ab > 485000 {
		t.Fatalf("unexpected Rome-Milan distance %f", ab)
	}
}

func TestProjectionAgreesWithHaversineAtSmallScale(t *testing.T) {
	lat1, lon1 := 41.5100, 12.3700
	lat2, lon2 := 41.5105, 12.3708
	exact := GreatCircleDistance(lat1, lon1, lat2, lon2)
	planar := PlanarDistance(Project(lat1, lon1, lat1, lon1), Project(lat2, lon2, lat1, lon1)) * MetersPerUnit
	if math.Abs(exact-planar)/exact > 0.01 {
		t.Fatalf("planar %f and haversine %f differ by more than 1%%", planar, exact)
	}
}
