// Package geo holds the two distance notions used by the engine.
//
// Project and the DistanceMatrix built on it are an equirectangular
// approximation, good for ranking neighbours and drawing. Any decision taken
// against a real-world radius must use GreatCircleDistance instead.
package geo

import "math"

const (
	// MetersPerDegreeLat is the fixed length of one degree of latitude.
	MetersPerDegreeLat = 111320.0
	// MetersPerUnit is the planar unit size: 1 unit = 10 m.
	MetersPerUnit = 10.0

	earthRadiusMeters = 6371000.0
)

// Point is a planar position in units relative to a reference.
type Point struct {
	X float64
	Y float64
}

// Project maps lat/lon onto the plane tangent at refLat/refLon.
func Project(lat, lon, refLat, refLon float64) Point {
	cosRef := math.Cos(refLat * math.Pi / 180)
	x := (lon - refLon) * MetersPerDegreeLat * cosRef
	y := (lat - refLat) * MetersPerDegreeLat
	return Point{X: x / MetersPerUnit, Y: y / MetersPerUnit}
}

// PlanarDistance is the euclidean distance between two projected points, in units.
func PlanarDistance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// GreatCircleDistance returns the haversine distance in metres.
func GreatCircleDistance(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
