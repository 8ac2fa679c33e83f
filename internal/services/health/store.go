package health

import (
	"sort"
	"time"

	"github.com/LeonardoBeccarini/fleetwatch/internal/model/entities"
)

// Store holds exactly one HealthState per node id. It has a single writer
// (the Machine driven by the monitoring loop) and is not safe for concurrent
// use; readers get copies through Snapshot.
type Store struct {
	states map[string]*entities.HealthState
}

func NewStore() *Store {
	return &Store{states: make(map[string]*entities.HealthState)}
}

// state returns the mutable record for id, creating it online on first use.
func (s *Store) state(id string, now time.Time) *entities.HealthState {
	st, ok := s.states[id]
	if !ok {
		st = &entities.HealthState{NodeID: id, Status: entities.StatusOnline, UpdatedAt: now}
		s.states[id] = st
	}
	return st
}

// Get returns a copy of the state of id.
func (s *Store) Get(id string) (entities.HealthState, bool) {
	st, ok := s.states[id]
	if !ok {
		return entities.HealthState{}, false
	}
	return st.Clone(), true
}

// Status returns the current status of id, online when never observed.
func (s *Store) Status(id string) entities.NodeStatus {
	if st, ok := s.states[id]; ok {
		return st.Status
	}
	return entities.StatusOnline
}

func (s *Store) Len() int { return len(s.states) }

// Snapshot returns deep copies of every state ordered by node id.
func (s *Store) Snapshot() []entities.HealthState {
	out := make([]entities.HealthState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}
