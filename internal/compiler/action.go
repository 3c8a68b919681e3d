package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ade/internal/ir"
)

// CompileAction parses a CUE value into an ActionDef. The type name is the
// value's last path selector.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`action: pickup: { roles: [{name: "o", type: "object"}], script: ["grasp ?o"] }`)
//	def, err := CompileAction(v.LookupPath(cue.ParsePath("action.pickup")))
func CompileAction(v cue.Value) (*ir.ActionDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ir.ActionDef{Type: labelOf(v)}
	if def.Type == "" {
		return nil, &CompileError{Field: "action", Message: "action must be a named field", Pos: v.Pos()}
	}
	field := func(name string) string { return fmt.Sprintf("action.%s.%s", def.Type, name) }

	var err error
	if def.Super, err = optString(v, "super"); err != nil {
		return nil, err
	}
	if def.Description, err = optString(v, "description"); err != nil {
		return nil, err
	}
	if def.Roles, err = parseRoles(v, field("roles")); err != nil {
		return nil, err
	}

	script, err := optStrings(v, "script")
	if err != nil {
		return nil, err
	}
	def.Events = ir.TokenizeAll(script)

	// "conditions" is accepted as a synonym of "pre".
	for _, name := range []string{"pre", "conditions"} {
		conds, err := optStrings(v, name)
		if err != nil {
			return nil, err
		}
		def.StartConditions = append(def.StartConditions, conds...)
	}
	if def.OverAllConditions, err = optStrings(v, "overall"); err != nil {
		return nil, err
	}
	if def.Effects, err = optStrings(v, "effects"); err != nil {
		return nil, err
	}
	if def.SuccessEffects, err = optStrings(v, "success"); err != nil {
		return nil, err
	}
	if def.FailureEffects, err = optStrings(v, "failure"); err != nil {
		return nil, err
	}
	if def.Locks, err = optStrings(v, "locks"); err != nil {
		return nil, err
	}

	if def.Cost, err = optFloat(v, "cost"); err != nil {
		return nil, err
	}
	if def.Benefit, err = optFloat(v, "benefit"); err != nil {
		return nil, err
	}
	if u := v.LookupPath(cue.ParsePath("urgency")); u.Exists() {
		if def.MinUrgency, err = optFloat(u, "min"); err != nil {
			return nil, err
		}
		if def.MaxUrgency, err = optFloat(u, "max"); err != nil {
			return nil, err
		}
	}
	if def.TimeoutMillis, err = parseTimeout(v, field("timeout")); err != nil {
		return nil, err
	}

	if def.Transparent, err = optBool(v, "transparent"); err != nil {
		return nil, err
	}
	if def.Primitive, err = optBool(v, "primitive"); err != nil {
		return nil, err
	}

	return def, nil
}

// parseRoles extracts the role list. Each role is {name, type, default?,
// local?, return?}; a bare string "name:type" is accepted as shorthand.
func parseRoles(v cue.Value, field string) ([]ir.RoleDef, error) {
	rolesVal := v.LookupPath(cue.ParsePath("roles"))
	if !rolesVal.Exists() {
		return nil, nil
	}
	iter, err := rolesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var roles []ir.RoleDef
	for i := 0; iter.Next(); i++ {
		rv := iter.Value()
		if s, err := rv.String(); err == nil {
			t, err := ir.ParseTerm(s)
			if err != nil {
				return nil, &CompileError{Field: fmt.Sprintf("%s[%d]", field, i), Message: err.Error(), Pos: rv.Pos()}
			}
			roles = append(roles, ir.RoleDef{Name: t.Name, Type: t.Type})
			continue
		}

		var role ir.RoleDef
		if role.Name, err = optString(rv, "name"); err != nil {
			return nil, err
		}
		if role.Name == "" {
			return nil, &CompileError{Field: fmt.Sprintf("%s[%d].name", field, i), Message: "role name is required", Pos: rv.Pos()}
		}
		if role.Type, err = optString(rv, "type"); err != nil {
			return nil, err
		}
		if d := rv.LookupPath(cue.ParsePath("default")); d.Exists() {
			if role.Default, err = ToIRValue(d); err != nil {
				return nil, err
			}
		}
		if role.Local, err = optBool(rv, "local"); err != nil {
			return nil, err
		}
		if role.Return, err = optBool(rv, "return"); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// parseTimeout accepts milliseconds as an int or a duration string.
func parseTimeout(v cue.Value, field string) (int64, error) {
	tv := v.LookupPath(cue.ParsePath("timeout"))
	if !tv.Exists() {
		return 0, nil
	}
	if ms, err := tv.Int64(); err == nil {
		return ms, nil
	}
	s, err := tv.String()
	if err != nil {
		return 0, &CompileError{Field: field, Message: "timeout must be milliseconds or a duration string", Pos: tv.Pos()}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &CompileError{Field: field, Message: err.Error(), Pos: tv.Pos()}
	}
	return d.Milliseconds(), nil
}

// ToIRValue converts a concrete CUE value into an IRValue.
func ToIRValue(v cue.Value) (ir.IRValue, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.FloatKind, cue.NumberKind:
		if n, err := v.Int64(); err == nil {
			return ir.IRInt(n), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRFloat(f), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			elem, err := ToIRValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := ToIRValue(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func labelOf(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	sel := sels[len(sels)-1]
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

func optString(v cue.Value, name string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", kindError(name, f, err)
	}
	return s, nil
}

// optStrings reads a list of strings; a single string is a one-element list.
func optStrings(v cue.Value, name string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return nil, nil
	}
	if s, err := f.String(); err == nil {
		return []string{s}, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, kindError(name, f, err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, kindError(name, iter.Value(), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optFloat(v cue.Value, name string) (float64, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return 0, nil
	}
	if n, err := f.Int64(); err == nil {
		return float64(n), nil
	}
	x, err := f.Float64()
	if err != nil {
		return 0, kindError(name, f, err)
	}
	return x, nil
}

func optBool(v cue.Value, name string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, kindError(name, f, err)
	}
	return b, nil
}

// kindError reports a field holding the wrong kind of value.
func kindError(field string, v cue.Value, err error) error {
	var ce *CompileError
	if errors.As(formatCUEError(err), &ce) {
		ce.Field = field
		return ce
	}
	return &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
