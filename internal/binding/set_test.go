package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/ir"
)

func TestSetLookupIgnoresCaseAndMarker(t *testing.T) {
	s := NewSet([]ir.RoleDef{
		{Name: "?actor", Type: "actor"},
		{Name: "?Obj", Type: "object", Return: true},
		{Name: "tmp", Local: true},
	})

	c, ok := s.Lookup("obj")
	require.True(t, ok)
	assert.Equal(t, "object", c.Type)

	_, ok = s.Lookup("?OBJ")
	assert.True(t, ok)

	_, ok = s.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, 3, s.Len())
	assert.Len(t, s.Args(), 2)
	require.Len(t, s.ReturnCells(), 1)
	assert.Equal(t, "?Obj", s.ReturnCells()[0].Name)
}

func TestSetAddReplacesInPlace(t *testing.T) {
	var s Set
	s.Add(New("a", ""))
	s.Add(New("b", ""))
	s.Add(New("A", "object"))

	require.Equal(t, 2, s.Len())
	assert.Equal(t, "object", s.Cells()[0].Type)
}

func TestSetResolveFeedsSubstitute(t *testing.T) {
	s := NewSet([]ir.RoleDef{{Name: "?a", Type: "actor"}, {Name: "?o", Type: "object"}})
	c, _ := s.Lookup("o")
	require.NoError(t, c.Bind(ir.IRString("cup1")))

	p := ir.MustParsePredicate("holding(?a:actor, ?o:object)").Substitute(s.Resolve)
	assert.Equal(t, "holding(?a:actor,cup1:object)", p.String())

	assert.Equal(t, map[string]any{"o": "cup1"}, s.Values())
}

func TestNilSetIsEmpty(t *testing.T) {
	var s *Set
	assert.Equal(t, 0, s.Len())
	_, ok := s.Lookup("x")
	assert.False(t, ok)
	assert.Empty(t, s.Args())
}
