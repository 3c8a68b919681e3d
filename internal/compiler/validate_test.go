package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/ade/internal/ir"
)

func codes(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidate_Clean(t *testing.T) {
	spec := &Spec{Defs: []ir.ActionDef{{
		Type:    "count",
		Roles:   []ir.RoleDef{{Name: "limit", Type: "number"}},
		Events:  ir.TokenizeAll([]string{"set ?n 0", "while ?n < ?limit", "tick ?n", "set ?n ?n + 1", "endwhile"}),
		Effects: []string{"counted(self)"},
	}}}
	assert.Empty(t, Validate(spec))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  ir.ActionDef
		want string
	}{
		{"empty type", ir.ActionDef{}, ErrEmptyType},
		{"urgency range", ir.ActionDef{Type: "a", MinUrgency: 3, MaxUrgency: 1}, ErrUrgencyRange},
		{"negative cost", ir.ActionDef{Type: "a", Cost: -1}, ErrNegativeValue},
		{"negative timeout", ir.ActionDef{Type: "a", TimeoutMillis: -5}, ErrNegativeValue},
		{"duplicate role", ir.ActionDef{Type: "a", Roles: []ir.RoleDef{{Name: "x"}, {Name: "X"}}}, ErrInvalidRole},
		{"bad predicate", ir.ActionDef{Type: "a", Effects: []string{"broken("}}, ErrInvalidPredicate},
		{"unclosed if", ir.ActionDef{Type: "a", Events: ir.TokenizeAll([]string{"if ready", "go"})}, ErrUnbalancedBlock},
		{"stray endwhile", ir.ActionDef{Type: "a", Events: ir.TokenizeAll([]string{"if ready", "endwhile", "endif"})}, ErrUnbalancedBlock},
		{"else outside if", ir.ActionDef{Type: "a", Events: ir.TokenizeAll([]string{"else"})}, ErrUnbalancedBlock},
		{"undeclared variable", ir.ActionDef{Type: "a", Events: ir.TokenizeAll([]string{"grasp ?thing"})}, ErrUndeclaredVariable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&Spec{Defs: []ir.ActionDef{tt.def}})
			assert.Contains(t, codes(errs), tt.want)
		})
	}
}

func TestValidate_DuplicateType(t *testing.T) {
	errs := Validate(&Spec{Defs: []ir.ActionDef{{Type: "cup"}, {Type: "Cup"}}})
	assert.Equal(t, []string{ErrDuplicateType}, codes(errs))
}

func TestValidate_UndeclaredReportedOnce(t *testing.T) {
	def := ir.ActionDef{Type: "a", Events: ir.TokenizeAll([]string{"grasp ?x", "drop ?x"})}
	errs := Validate(&Spec{Defs: []ir.ActionDef{def}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "a.script[0]", errs[0].Field)
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "a.cost", Message: "cost must not be negative", Code: ErrNegativeValue}
	assert.Equal(t, "[E104] a.cost: cost must not be negative", e.Error())
}
