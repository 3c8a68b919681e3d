// Package binding implements variable cells for action roles and arguments.
//
// A Cell holds either a terminal value or an alias to another Cell. Alias
// chains are resolved by iteration and are guaranteed acyclic: AliasTo
// rejects any link that would close a loop.
package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/ade/internal/ir"
)

// ErrAliasCycle is returned by AliasTo when the new link would create a cycle.
var ErrAliasCycle = errors.New("binding: alias cycle")

type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotValue
	slotAlias
)

// slot is the tagged union {Value, Alias}.
type slot struct {
	kind  slotKind
	value ir.IRValue
	alias *Cell
}

// Cell is a named, optionally typed variable.
type Cell struct {
	Name    string
	Type    string
	Default ir.IRValue
	Local   bool
	Return  bool

	slot slot
}

// New creates an unbound cell.
func New(name, typ string) *Cell {
	return &Cell{Name: name, Type: typ}
}

// FromRole creates an unbound cell from a role declaration.
func FromRole(r ir.RoleDef) *Cell {
	return &Cell{Name: r.Name, Type: r.Type, Default: r.Default, Local: r.Local, Return: r.Return}
}

// Bind overwrites this cell's own slot with v, dropping any alias.
// When the cell has a numeric type, v is coerced; on failure the raw value
// is stored and a *CoercionError is returned.
func (c *Cell) Bind(v ir.IRValue) error {
	cv, err := Coerce(c.Type, v)
	if err != nil {
		c.slot = slot{kind: slotValue, value: v}
		return &CoercionError{Name: c.Name, Type: c.Type, Value: ir.ValueString(v), Err: err}
	}
	c.slot = slot{kind: slotValue, value: cv}
	return nil
}

// BindDeep writes v into the terminal cell of the alias chain so every cell
// aliasing it observes the new value.
func (c *Cell) BindDeep(v ir.IRValue) error {
	return c.Terminal().Bind(v)
}

// AliasTo makes c an alias of other.
func (c *Cell) AliasTo(other *Cell) error {
	if other == nil {
		return fmt.Errorf("binding %s: alias target is nil", c.Name)
	}
	for cur := other; cur != nil; cur = cur.next() {
		if cur == c {
			return fmt.Errorf("binding %s -> %s: %w", c.Name, other.Name, ErrAliasCycle)
		}
	}
	c.slot = slot{kind: slotAlias, alias: other}
	return nil
}

// Unbind clears the cell's own slot.
func (c *Cell) Unbind() {
	c.slot = slot{}
}

func (c *Cell) next() *Cell {
	if c.slot.kind == slotAlias {
		return c.slot.alias
	}
	return nil
}

// Terminal follows the alias chain to the cell holding a value (or the last
// unbound cell in the chain).
func (c *Cell) Terminal() *Cell {
	cur := c
	for cur.slot.kind == slotAlias {
		cur = cur.slot.alias
	}
	return cur
}

// IsAlias reports whether the cell's own slot is an alias.
func (c *Cell) IsAlias() bool {
	return c.slot.kind == slotAlias
}

// Alias returns the aliased cell, or nil.
func (c *Cell) Alias() *Cell {
	return c.next()
}

// IsBound reports whether the chain ends in a value.
func (c *Cell) IsBound() bool {
	return c.Terminal().slot.kind == slotValue
}

// Get returns the cell's own value without following aliases.
// It returns nil for alias or unbound cells.
func (c *Cell) Get() ir.IRValue {
	if c.slot.kind == slotValue {
		return c.slot.value
	}
	return nil
}

// GetDeep returns the terminal value, coerced to the terminal cell's type.
// An unbound chain yields the terminal cell's default. If coercion fails the
// raw stored value is returned.
func (c *Cell) GetDeep() ir.IRValue {
	v, _ := c.GetDeepChecked()
	return v
}

// GetDeepChecked is GetDeep but reports coercion failures.
func (c *Cell) GetDeepChecked() (ir.IRValue, error) {
	t := c.Terminal()
	raw := t.Default
	if t.slot.kind == slotValue {
		raw = t.slot.value
	}
	if raw == nil {
		return nil, nil
	}
	v, err := Coerce(t.Type, raw)
	if err != nil {
		return raw, &CoercionError{Name: t.Name, Type: t.Type, Value: ir.ValueString(raw), Err: err}
	}
	return v, nil
}

// GetTypeDeep returns the declared type of the terminal cell.
func (c *Cell) GetTypeDeep() string {
	return c.Terminal().Type
}

// GetNameDeep returns the name of the terminal cell.
func (c *Cell) GetNameDeep() string {
	return c.Terminal().Name
}

// Clone returns a copy of the cell. An alias stays pointed at the same target.
func (c *Cell) Clone() *Cell {
	cp := *c
	return &cp
}

// String renders "name:type=value" for logs.
func (c *Cell) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	if c.Type != "" {
		b.WriteByte(':')
		b.WriteString(c.Type)
	}
	if c.IsBound() {
		b.WriteByte('=')
		b.WriteString(ir.ValueString(c.GetDeep()))
	} else if c.IsAlias() {
		b.WriteString("->")
		b.WriteString(c.GetNameDeep())
	}
	return b.String()
}
