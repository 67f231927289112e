// Package search implements destination search over the gate registry.
package search

import (
	"strings"
	"sync"

	"github.com/diagnosis/railwatch/internal/registry"
)

// Source is the read side of the gate registry.
type Source interface {
	All() []registry.GateRecord
}

type ResultSet struct {
	Query     string                `json:"query"`
	Gates     []registry.GateRecord `json:"gates"`
	Attempted bool                  `json:"attempted"`
}

// Empty reports whether nothing matched.
func (rs ResultSet) Empty() bool {
	return len(rs.Gates) == 0
}

// Contains reports whether gate id is part of the result.
func (rs ResultSet) Contains(id string) bool {
	for _, g := range rs.Gates {
		if g.ID == id {
			return true
		}
	}
	return false
}

// Search returns the first gate whose name contains query (case-insensitive)
// followed by its registry successor, if any.
func Search(src Source, query string) ResultSet {
	if strings.TrimSpace(query) == "" {
		return ResultSet{Gates: []registry.GateRecord{}}
	}

	q := strings.ToLower(query)
	rs := ResultSet{Query: query, Attempted: true, Gates: []registry.GateRecord{}}
	gates := src.All()
	for i, g := range gates {
		if !strings.Contains(strings.ToLower(g.Name), q) {
			continue
		}
		rs.Gates = append(rs.Gates, g)
		if i+1 < len(gates) {
			rs.Gates = append(rs.Gates, gates[i+1])
		}
		break
	}
	return rs
}

// View is the dashboard's active search. It stores only the query and
// recomputes results from the registry on every read, so displayed results
// never disagree with the registry.
type View struct {
	src Source

	mu    sync.RWMutex
	query string
}

func NewView(src Source) *View {
	return &View{src: src}
}

// Submit replaces the active query. A blank query shows no results.
func (v *View) Submit(query string) ResultSet {
	v.mu.Lock()
	v.query = query
	v.mu.Unlock()
	return v.Current()
}

func (v *View) Clear() {
	v.mu.Lock()
	v.query = ""
	v.mu.Unlock()
}

func (v *View) Current() ResultSet {
	v.mu.RLock()
	q := v.query
	v.mu.RUnlock()
	return Search(v.src, q)
}
