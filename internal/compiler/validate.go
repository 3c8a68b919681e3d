package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/ade/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrEmptyType          = "E101" // type name is required
	ErrDuplicateType      = "E102" // type defined twice across sources
	ErrUrgencyRange       = "E103" // urgency min exceeds max
	ErrNegativeValue      = "E104" // negative cost, benefit or timeout
	ErrUnbalancedBlock    = "E105" // if/endif or while/endwhile mismatch
	ErrUndeclaredVariable = "E106" // script variable is not a role
	ErrInvalidPredicate   = "E107" // condition or effect does not parse
	ErrInvalidRole        = "E108" // role without name or duplicated
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled spec for structural problems.
// Returns all errors found (does not fail-fast).
func Validate(spec *Spec) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for _, def := range spec.Defs {
		key := ir.FoldName(def.Type)
		if key != "" && seen[key] {
			errs = append(errs, ValidationError{
				Field:   def.Type,
				Message: fmt.Sprintf("type %q is defined more than once", def.Type),
				Code:    ErrDuplicateType,
			})
		}
		seen[key] = true
		errs = append(errs, validateDef(&def)...)
	}
	return errs
}

func validateDef(def *ir.ActionDef) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("%s.%s", def.Type, field),
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if strings.TrimSpace(def.Type) == "" {
		return []ValidationError{{Field: "type", Message: "type name is required", Code: ErrEmptyType}}
	}

	if def.MaxUrgency != 0 && def.MinUrgency > def.MaxUrgency {
		add("urgency", ErrUrgencyRange, "min %v exceeds max %v", def.MinUrgency, def.MaxUrgency)
	}
	if def.Cost < 0 {
		add("cost", ErrNegativeValue, "cost must not be negative")
	}
	if def.Benefit < 0 {
		add("benefit", ErrNegativeValue, "benefit must not be negative")
	}
	if def.TimeoutMillis < 0 {
		add("timeout", ErrNegativeValue, "timeout must not be negative")
	}

	roles := make(map[string]bool)
	for i, r := range def.Roles {
		key := ir.FoldName(r.Name)
		switch {
		case key == "":
			add(fmt.Sprintf("roles[%d]", i), ErrInvalidRole, "role name is required")
		case roles[key]:
			add(fmt.Sprintf("roles[%d]", i), ErrInvalidRole, "duplicate role %q", r.Name)
		}
		roles[key] = true
	}

	for _, group := range []struct {
		field string
		preds []string
	}{
		{"pre", def.StartConditions},
		{"overall", def.OverAllConditions},
		{"effects", def.Effects},
		{"success", def.SuccessEffects},
		{"failure", def.FailureEffects},
	} {
		for i, text := range group.preds {
			if _, err := ir.ParsePredicate(text); err != nil {
				add(fmt.Sprintf("%s[%d]", group.field, i), ErrInvalidPredicate, "%v", err)
			}
		}
	}

	errs = append(errs, validateScript(def, roles)...)
	return errs
}

// varPattern matches "?name" variable references inside script tokens.
var varPattern = regexp.MustCompile(`\?([A-Za-z_][A-Za-z0-9_-]*)`)

// validateScript checks block structure and that every variable the script
// reads is a role or was introduced by an earlier "set".
func validateScript(def *ir.ActionDef, roles map[string]bool) []ValidationError {
	var (
		errs  []ValidationError
		open  []string
		known = make(map[string]bool, len(roles))
	)
	for k := range roles {
		known[k] = true
	}
	add := func(i int, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("%s.script[%d]", def.Type, i),
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	for i, ev := range def.Events {
		if len(ev) == 0 {
			continue
		}
		head := ir.FoldName(ev[0])
		switch head {
		case "if", "while":
			open = append(open, head)
		case "elseif", "else":
			if len(open) == 0 || open[len(open)-1] != "if" {
				add(i, ErrUnbalancedBlock, "%s outside if", head)
			}
		case "endif", "endwhile":
			want := strings.TrimPrefix(head, "end")
			if len(open) == 0 || open[len(open)-1] != want {
				add(i, ErrUnbalancedBlock, "%s without matching %s", head, want)
				continue
			}
			open = open[:len(open)-1]
		case "set":
			if len(ev) > 1 && strings.HasPrefix(ev[1], "?") {
				known[ir.FoldName(strings.TrimPrefix(ev[1], "?"))] = true
			}
		}

		for _, tok := range ev[1:] {
			for _, m := range varPattern.FindAllStringSubmatch(tok, -1) {
				name := ir.FoldName(m[1])
				if !known[name] {
					add(i, ErrUndeclaredVariable, "variable ?%s is not a role", m[1])
					known[name] = true
				}
			}
		}
	}
	for _, kw := range open {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("%s.script", def.Type),
			Message: fmt.Sprintf("%s is never closed", kw),
			Code:    ErrUnbalancedBlock,
		})
	}
	return errs
}
