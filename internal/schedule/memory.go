package schedule

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
	loc     *time.Location
}

func NewMemoryStore(loc *time.Location) *MemoryStore {
	if loc == nil {
		loc = time.Local
	}
	return &MemoryStore{records: make(map[string][]Record), loc: loc}
}

func (s *MemoryStore) ByCrossing(_ context.Context, crossingID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.records[crossingID]))
	for _, r := range s.records[crossingID] {
		var at *time.Time
		if t, ok := r.ArrivalAt(); ok {
			at = &t
		}
		out = append(out, Entry{
			TrainID:     orMissing(r.TrainID),
			ArrivalTime: formatArrival(r.ArrivalTime, at, s.loc),
			TrainType:   orMissing(r.TrainType),
		})
	}
	return out, nil
}

func (s *MemoryStore) Insert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.CrossingID] = append(s.records[r.CrossingID], r)
	}
	return nil
}
