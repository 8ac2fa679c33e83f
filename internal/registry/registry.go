// Package registry serves the node list: identity, position and owning
// cluster from a file, plus liveness-driven offline marking.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

var ErrUnknownNode = errors.New("unknown node")

// nodeEntry is one node in the file. The file maps cluster id to its nodes:
//
//	farm-north:
//	  - {id: n1, latitude: 41.51, longitude: 12.37, elevation: 40}
type nodeEntry struct {
	ID        string  `yaml:"id"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Elevation float64 `yaml:"elevation"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	path      string
	nodes     map[string]entities.Node
	lastSeen  map[string]time.Time
	ttl       time.Duration
	startedAt time.Time
	now       func() time.Time
	logger    *zap.Logger
}

// New builds a registry from nodes. ttl <= 0 disables offline marking.
func New(nodes []entities.Node, ttl time.Duration, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		lastSeen: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
	r.startedAt = r.now()
	if err := r.set(nodes); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads the node file at path.
func Load(path string, ttl time.Duration, logger *zap.Logger) (*Registry, error) {
	nodes, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := New(nodes, ttl, logger)
	if err != nil {
		return nil, err
	}
	r.path = path
	return r, nil
}

// ReadFile parses a YAML (or JSON) node file.
func ReadFile(path string) ([]entities.Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node file: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) ([]entities.Node, error) {
	var raw map[string][]nodeEntry
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse node file: %w", err)
	}
	var out []entities.Node
	for cluster, entries := range raw {
		for _, e := range entries {
			out = append(out, entities.Node{
				ID:        strings.TrimSpace(e.ID),
				ClusterID: cluster,
				Latitude:  e.Latitude,
				Longitude: e.Longitude,
				Elevation: e.Elevation,
				Status:    entities.StatusOnline,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) set(nodes []entities.Node) error {
	m := make(map[string]entities.Node, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("node without id in cluster %q", n.ClusterID)
		}
		if n.ClusterID == "" {
			return fmt.Errorf("node %s without cluster", n.ID)
		}
		if n.Latitude < -90 || n.Latitude > 90 || n.Longitude < -180 || n.Longitude > 180 {
			return fmt.Errorf("node %s: position %.6f,%.6f out of range", n.ID, n.Latitude, n.Longitude)
		}
		if prev, dup := m[n.ID]; dup {
			return fmt.Errorf("node %s listed in %s and %s", n.ID, prev.ClusterID, n.ClusterID)
		}
		m[n.ID] = n
	}
	r.mu.Lock()
	r.nodes = m
	r.mu.Unlock()
	return nil
}

// Reload re-reads the file; on error the current list is kept.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	nodes, err := ReadFile(r.path)
	if err != nil {
		return err
	}
	if err := r.set(nodes); err != nil {
		return err
	}
	r.logger.Info("node registry reloaded", zap.String("file", r.path), zap.Int("nodes", len(nodes)))
	return nil
}

// MarkSeen records that a reading for id arrived at t.
func (r *Registry) MarkSeen(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.lastSeen[id]) {
		r.lastSeen[id] = t
	}
}

// ListNodes returns every node ordered by id. Nodes not seen within the TTL
// (counted from startup for nodes never seen) are reported offline.
func (r *Registry) ListNodes(_ context.Context) ([]entities.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := make([]entities.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		n.Status = entities.StatusOnline
		if r.ttl > 0 {
			seen, ok := r.lastSeen[n.ID]
			if !ok {
				seen = r.startedAt
			}
			if now.Sub(seen) > r.ttl {
				n.Status = entities.StatusOffline
			}
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Node returns the registered node id.
func (r *Registry) Node(id string) (entities.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return entities.Node{}, fmt.Errorf("%s: %w", id, ErrUnknownNode)
	}
	return n, nil
}
