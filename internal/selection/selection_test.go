package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neuhoffm/firecms/internal/datasource"
)

func ent(id string) datasource.Entity {
	return datasource.Entity{ID: id, Path: "products"}
}

func ids(s *Set) []string {
	var out []string
	for _, e := range s.Items() {
		out = append(out, e.ID)
	}
	return out
}

func TestToggle_PreservesOrder(t *testing.T) {
	s := New()
	assert.True(t, s.Toggle(ent("a")))
	assert.True(t, s.Toggle(ent("b")))
	assert.True(t, s.Toggle(ent("c")))
	assert.False(t, s.Toggle(ent("b")))
	assert.Equal(t, []string{"a", "c"}, ids(s))

	s.Toggle(ent("b"))
	assert.Equal(t, []string{"a", "c", "b"}, ids(s))
	assert.True(t, s.Contains(ent("c")))
}

func TestIdentityIncludesPath(t *testing.T) {
	s := New(ent("a"))
	other := datasource.Entity{ID: "a", Path: "orders"}
	assert.False(t, s.Contains(other))
	s.Add(other)
	assert.Equal(t, 2, s.Len())
}

func TestAdd_Duplicate(t *testing.T) {
	s := New(ent("a"), ent("b"))
	upd := ent("a")
	upd.Values = map[string]any{"name": "x"}
	assert.False(t, s.Add(upd))
	assert.Equal(t, []string{"a", "b"}, ids(s))
	assert.Equal(t, "x", s.Items()[0].Values["name"])
}

func TestRemoveAndClear(t *testing.T) {
	s := New(ent("a"), ent("b"), ent("c"))
	assert.True(t, s.Remove(ent("a")))
	assert.False(t, s.Remove(ent("a")))
	assert.True(t, s.Remove(ent("c")))
	assert.Equal(t, []string{"b"}, ids(s))

	s.Clear()
	assert.Zero(t, s.Len())
	assert.False(t, s.Contains(ent("b")))
}
