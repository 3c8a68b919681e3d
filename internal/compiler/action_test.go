package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/ir"
)

func compileCUE(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src, cue.Filename("test.cue"))
	require.NoError(t, v.Err())
	return v
}

func TestCompileAction_AllFields(t *testing.T) {
	v := compileCUE(t, `
action: pickup: {
	super:       "manipulate"
	description: "pick an object up"
	roles: [
		{name: "o", type: "object"},
		{name: "speed", type: "number", default: 0.5},
		{name: "grip", type: "object", local: true},
		{name: "result", type: "object", return: true},
	]
	script: ["approach ?o", "grasp ?o ?speed"]
	pre: ["reachable(?o)"]
	conditions: ["free(hand)"]
	overall: ["alive(self)"]
	effects: ["holding(self, ?o)"]
	success: ["picked(?o)"]
	failure: ["dropped(?o)"]
	cost: 2
	benefit: 5.5
	urgency: {min: 1, max: 3}
	timeout: "1.5s"
	locks: ["hand"]
	transparent: true
}
`)
	def, err := CompileAction(v.LookupPath(cue.ParsePath("action.pickup")))
	require.NoError(t, err)

	assert.Equal(t, "pickup", def.Type)
	assert.Equal(t, "manipulate", def.Super)
	assert.Equal(t, "pick an object up", def.Description)
	require.Len(t, def.Roles, 4)
	assert.Equal(t, ir.RoleDef{Name: "o", Type: "object"}, def.Roles[0])
	assert.Equal(t, ir.IRFloat(0.5), def.Roles[1].Default)
	assert.True(t, def.Roles[2].Local)
	assert.True(t, def.Roles[3].Return)
	assert.Equal(t, [][]string{{"approach", "?o"}, {"grasp", "?o", "?speed"}}, def.Events)
	assert.Equal(t, []string{"reachable(?o)", "free(hand)"}, def.StartConditions)
	assert.Equal(t, []string{"alive(self)"}, def.OverAllConditions)
	assert.Equal(t, []string{"holding(self, ?o)"}, def.Effects)
	assert.Equal(t, []string{"picked(?o)"}, def.SuccessEffects)
	assert.Equal(t, []string{"dropped(?o)"}, def.FailureEffects)
	assert.Equal(t, 2.0, def.Cost)
	assert.Equal(t, 5.5, def.Benefit)
	assert.Equal(t, 1.0, def.MinUrgency)
	assert.Equal(t, 3.0, def.MaxUrgency)
	assert.Equal(t, int64(1500), def.TimeoutMillis)
	assert.Equal(t, []string{"hand"}, def.Locks)
	assert.True(t, def.Transparent)
	assert.False(t, def.Primitive)
}

func TestCompileAction_Shorthand(t *testing.T) {
	v := compileCUE(t, `
action: grasp: {
	roles: ["o:object", "force"]
	script: "noop"
	timeout: 2000
	primitive: true
}
`)
	def, err := CompileAction(v.LookupPath(cue.ParsePath("action.grasp")))
	require.NoError(t, err)
	assert.Equal(t, []ir.RoleDef{{Name: "o", Type: "object"}, {Name: "force"}}, def.Roles)
	assert.Equal(t, [][]string{{"noop"}}, def.Events)
	assert.Equal(t, int64(2000), def.TimeoutMillis)
	assert.True(t, def.Primitive)
	assert.Empty(t, def.Super, "defaults are applied by Compile")
}

func TestCompileAction_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"role without name", `action: a: roles: [{type: "object"}]`, "action.a.roles[0].name"},
		{"bad timeout", `action: a: timeout: "soon"`, "action.a.timeout"},
		{"timeout wrong kind", `action: a: timeout: true`, "action.a.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := compileCUE(t, tt.src)
			_, err := CompileAction(v.LookupPath(cue.ParsePath("action.a")))
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
			assert.Contains(t, ce.Error(), "test.cue:")
		})
	}
}

func TestCompileAction_WrongType(t *testing.T) {
	v := compileCUE(t, `action: a: cost: "high"`)
	_, err := CompileAction(v.LookupPath(cue.ParsePath("action.a")))
	var ce *CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "cost", ce.Field)
}

func TestToIRValue(t *testing.T) {
	v := compileCUE(t, `
x: {
	s: "hi"
	i: 3
	f: 0.25
	b: false
	n: null
	l: [1, "two"]
	o: {k: true}
}
`)
	got, err := ToIRValue(v.LookupPath(cue.ParsePath("x")))
	require.NoError(t, err)
	obj, ok := got.(ir.IRObject)
	require.True(t, ok)
	assert.Equal(t, ir.IRString("hi"), obj["s"])
	assert.Equal(t, ir.IRInt(3), obj["i"])
	assert.Equal(t, ir.IRFloat(0.25), obj["f"])
	assert.Equal(t, ir.IRBool(false), obj["b"])
	assert.Equal(t, ir.IRNull{}, obj["n"])
	assert.Equal(t, ir.IRArray{ir.IRInt(1), ir.IRString("two")}, obj["l"])
	assert.Equal(t, ir.IRObject{"k": ir.IRBool(true)}, obj["o"])
}
