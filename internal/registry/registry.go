// Package registry holds the in-memory gate records that every other
// component reads from. Only a gate's status changes after seeding.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("gate not found")

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// Flip returns the opposite status.
func (s Status) Flip() Status {
	if s == StatusOpen {
		return StatusClosed
	}
	return StatusOpen
}

// WaitUnknown marks a gate with no meaningful wait estimate.
const WaitUnknown = "N/A"

type GateRecord struct {
	ID                string  `json:"id" yaml:"id"`
	Name              string  `json:"name" yaml:"name"`
	Latitude          float64 `json:"latitude" yaml:"latitude"`
	Longitude         float64 `json:"longitude" yaml:"longitude"`
	Status            Status  `json:"status" yaml:"status"`
	EstimatedWaitTime string  `json:"estimatedWaitTime" yaml:"estimatedWaitTime"`
}

type Registry struct {
	mu    sync.RWMutex
	gates []GateRecord
	index map[string]int
}

// New seeds a registry. Ids must be unique and statuses valid.
func New(seed []GateRecord) (*Registry, error) {
	r := &Registry{
		gates: make([]GateRecord, 0, len(seed)),
		index: make(map[string]int, len(seed)),
	}
	for _, g := range seed {
		if g.ID == "" {
			return nil, errors.New("gate id is required")
		}
		if _, dup := r.index[g.ID]; dup {
			return nil, fmt.Errorf("duplicate gate id %q", g.ID)
		}
		if !g.Status.Valid() {
			return nil, fmt.Errorf("gate %q: invalid status %q", g.ID, g.Status)
		}
		if g.EstimatedWaitTime == "" {
			g.EstimatedWaitTime = WaitUnknown
		}
		r.index[g.ID] = len(r.gates)
		r.gates = append(r.gates, g)
	}
	return r, nil
}

// All returns a copy of every gate in registry order.
func (r *Registry) All() []GateRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]GateRecord, len(r.gates))
	copy(out, r.gates)
	return out
}

func (r *Registry) Get(id string) (GateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return GateRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.gates[i], nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.gates)
}

func (r *Registry) SetStatus(id string, status Status) (GateRecord, error) {
	if !status.Valid() {
		return GateRecord{}, fmt.Errorf("invalid status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return GateRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.gates[i].Status = status
	return r.gates[i], nil
}

// Toggle flips a gate's status under a single write lock and returns the
// record as written.
func (r *Registry) Toggle(id string) (GateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return GateRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.gates[i].Status = r.gates[i].Status.Flip()
	return r.gates[i], nil
}
