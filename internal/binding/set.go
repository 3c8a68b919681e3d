package binding

import (
	"strings"

	"github.com/roach88/ade/internal/ir"
)

// Key normalizes a variable name for lookup: "?Obj" and "obj" share a key.
func Key(name string) string {
	return ir.FoldName(strings.TrimPrefix(strings.TrimSpace(name), "?"))
}

// Set is an ordered collection of cells addressed case-insensitively.
// The zero value is ready to use.
type Set struct {
	cells []*Cell
	index map[string]int
}

// NewSet creates cells for each role in order.
func NewSet(roles []ir.RoleDef) *Set {
	s := &Set{}
	for _, r := range roles {
		s.Add(FromRole(r))
	}
	return s
}

// Add appends c, replacing an existing cell with the same name in place.
func (s *Set) Add(c *Cell) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	k := Key(c.Name)
	if i, ok := s.index[k]; ok {
		s.cells[i] = c
		return
	}
	s.index[k] = len(s.cells)
	s.cells = append(s.cells, c)
}

// Lookup returns the cell named name.
func (s *Set) Lookup(name string) (*Cell, bool) {
	if s == nil || s.index == nil {
		return nil, false
	}
	i, ok := s.index[Key(name)]
	if !ok {
		return nil, false
	}
	return s.cells[i], true
}

// Len returns the number of cells.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.cells)
}

// Cells returns the cells in declaration order.
func (s *Set) Cells() []*Cell {
	if s == nil {
		return nil
	}
	return s.cells
}

// Args returns the non-local cells in order: the positional parameters.
func (s *Set) Args() []*Cell {
	var out []*Cell
	for _, c := range s.Cells() {
		if !c.Local {
			out = append(out, c)
		}
	}
	return out
}

// ReturnCells returns the cells flagged as return slots.
func (s *Set) ReturnCells() []*Cell {
	var out []*Cell
	for _, c := range s.Cells() {
		if c.Return {
			out = append(out, c)
		}
	}
	return out
}

// Resolve implements the lookup function used by ir.Predicate.Substitute:
// bound cells resolve to the string form of their deep value.
func (s *Set) Resolve(name string) (string, bool) {
	c, ok := s.Lookup(name)
	if !ok || !c.IsBound() {
		return "", false
	}
	return ir.ValueString(c.GetDeep()), true
}

// Values returns the deep values of bound cells keyed by normalized name.
func (s *Set) Values() map[string]any {
	out := make(map[string]any, s.Len())
	for _, c := range s.Cells() {
		if c.IsBound() || c.Terminal().Default != nil {
			out[Key(c.Name)] = ir.ToNative(c.GetDeep())
		}
	}
	return out
}
