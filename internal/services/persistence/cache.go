package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

// Cache keeps the last maxBuckets minute buckets of every node. A bucket
// holds one reading; a later reading for the same bucket replaces it.
type Cache struct {
	mu         sync.RWMutex
	maxBuckets int
	byNode     map[string]map[time.Time]entities.SensorReading
}

func NewCache(maxBuckets int) *Cache {
	if maxBuckets <= 0 {
		maxBuckets = 180
	}
	return &Cache{maxBuckets: maxBuckets, byNode: make(map[string]map[time.Time]entities.SensorReading)}
}

func (c *Cache) Put(r entities.SensorReading) {
	b := r.Bucket()
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byNode[r.NodeID]
	if !ok {
		m = make(map[time.Time]entities.SensorReading)
		c.byNode[r.NodeID] = m
	}
	m[b] = r
	if len(m) <= c.maxBuckets {
		return
	}
	// drop the oldest buckets
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	for _, k := range keys[:len(keys)-c.maxBuckets] {
		delete(m, k)
	}
}

// Get returns the reading of node for the minute bucket containing at.
func (c *Cache) Get(node string, at time.Time) (entities.SensorReading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byNode[node][at.UTC().Truncate(time.Minute)]
	return r, ok
}

// Latest returns the newest reading of every node, ordered by node id.
func (c *Cache) Latest() []entities.SensorReading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]entities.SensorReading, 0, len(c.byNode))
	for _, m := range c.byNode {
		var (
			best entities.SensorReading
			bt   time.Time
		)
		for b, r := range m {
			if b.After(bt) {
				best, bt = r, b
			}
		}
		if !bt.IsZero() {
			out = append(out, best)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// History returns the readings of node at or after since, oldest first.
func (c *Cache) History(node string, since time.Time) []entities.SensorReading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []entities.SensorReading
	for b, r := range c.byNode[node] {
		if !b.Before(since.UTC().Truncate(time.Minute)) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
