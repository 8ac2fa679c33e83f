package geo

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

// DistanceMatrix is a symmetric node-id -> node-id planar distance table,
// in projection units. It is rebuilt, never patched, when the node set or a
// position changes. Full O(n²) build; fine for tens to low hundreds of nodes.
type DistanceMatrix struct {
	dist        map[string]map[string]float64
	ids         []string
	fingerprint uint64
}

// BuildMatrix projects every node around the fleet centroid and fills the table.
func BuildMatrix(nodes []entities.Node) *DistanceMatrix {
	m := &DistanceMatrix{
		dist:        make(map[string]map[string]float64, len(nodes)),
		ids:         make([]string, 0, len(nodes)),
		fingerprint: Fingerprint(nodes),
	}
	if len(nodes) == 0 {
		return m
	}

	var refLat, refLon float64
	for _, n := range nodes {
		refLat += n.Latitude
		refLon += n.Longitude
	}
	refLat /= float64(len(nodes))
	refLon /= float64(len(nodes))

	pts := make(map[string]Point, len(nodes))
	for _, n := range nodes {
		if _, dup := pts[n.ID]; dup {
			continue
		}
		pts[n.ID] = Project(n.Latitude, n.Longitude, refLat, refLon)
		m.ids = append(m.ids, n.ID)
	}
	sort.Strings(m.ids)

	for _, a := range m.ids {
		m.dist[a] = make(map[string]float64, len(m.ids))
	}
	for i, a := range m.ids {
		m.dist[a][a] = 0
		for _, b := range m.ids[i+1:] {
			d := PlanarDistance(pts[a], pts[b])
			m.dist[a][b] = d
			m.dist[b][a] = d
		}
	}
	return m
}

// Distance returns the planar distance between two nodes.
func (m *DistanceMatrix) Distance(a, b string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	row, ok := m.dist[a]
	if !ok {
		return 0, false
	}
	d, ok := row[b]
	return d, ok
}

// Nearest returns the closest other node to id. Ties go to the smaller id.
func (m *DistanceMatrix) Nearest(id string) (string, float64, bool) {
	if m == nil {
		return "", 0, false
	}
	row, ok := m.dist[id]
	if !ok {
		return "", 0, false
	}
	best, bestD := "", math.Inf(1)
	for _, other := range m.ids {
		if other == id {
			continue
		}
		if d := row[other]; d < bestD {
			best, bestD = other, d
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestD, true
}

// Len is the number of nodes in the matrix.
func (m *DistanceMatrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ids)
}

// Fingerprint identifies the node set and positions the matrix was built from.
func (m *DistanceMatrix) Fingerprint() uint64 {
	if m == nil {
		return 0
	}
	return m.fingerprint
}

// Fingerprint hashes ids and positions independently of slice order.
func Fingerprint(nodes []entities.Node) uint64 {
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, fmt.Sprintf("%s|%.7f|%.7f", n.ID, n.Latitude, n.Longitude))
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
