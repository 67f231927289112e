package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/railwatch/internal/registry"
)

func seeded(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New(registry.DefaultGates())
	require.NoError(t, err)
	return r
}

func ids(rs ResultSet) []string {
	out := []string{}
	for _, g := range rs.Gates {
		out = append(out, g.ID)
	}
	return out
}

func TestSearch(t *testing.T) {
	reg := seeded(t)

	tests := []struct {
		name      string
		query     string
		want      []string
		attempted bool
	}{
		{"match with successor", "Elm", []string{"gate2", "gate3"}, true},
		{"last gate has no successor", "Pine", []string{"gate4"}, true},
		{"no match", "xyz", []string{}, true},
		{"case insensitive", "main STREET", []string{"gate1", "gate2"}, true},
		{"first match wins", "st", []string{"gate1", "gate2"}, true},
		{"empty", "", []string{}, false},
		{"whitespace", "   ", []string{}, false},
		{"trailing space is part of the query", "Gate ", []string{}, true},
		{"inner space matches", "n street", []string{"gate1", "gate2"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := Search(reg, tt.query)
			assert.Equal(t, tt.want, ids(rs))
			assert.Equal(t, tt.attempted, rs.Attempted)
		})
	}
}

func TestSearch_SuccessorNeedNotMatch(t *testing.T) {
	rs := Search(seeded(t), "Junction")
	assert.Equal(t, []string{"gate3", "gate4"}, ids(rs))
	assert.True(t, rs.Contains("gate4"))
}

func TestView_KeepsQueryAsEntered(t *testing.T) {
	v := NewView(seeded(t))
	rs := v.Submit(" Elm")
	assert.Equal(t, " Elm", rs.Query)
	assert.True(t, rs.Attempted)
	assert.Empty(t, rs.Gates)

	rs = v.Submit("  ")
	assert.False(t, rs.Attempted)
}

func TestView_TracksRegistryMutations(t *testing.T) {
	reg := seeded(t)
	v := NewView(reg)

	rs := v.Submit("Elm")
	require.Equal(t, []string{"gate2", "gate3"}, ids(rs))
	assert.Equal(t, registry.StatusClosed, rs.Gates[1].Status)

	_, err := reg.Toggle("gate3")
	require.NoError(t, err)

	cur := v.Current()
	g, _ := reg.Get("gate3")
	assert.Equal(t, g.Status, cur.Gates[1].Status)
	assert.Equal(t, registry.StatusOpen, cur.Gates[1].Status)
}

func TestView_ClearResetsAttempted(t *testing.T) {
	v := NewView(seeded(t))
	assert.True(t, v.Submit("xyz").Attempted)

	v.Clear()
	rs := v.Current()
	assert.False(t, rs.Attempted)
	assert.True(t, rs.Empty())

	v.Submit("xyz")
	assert.False(t, v.Submit("  ").Attempted)
}
