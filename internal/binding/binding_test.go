package binding

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/ir"
)

func TestAliasRoundTrip(t *testing.T) {
	y := New("y", "")
	require.NoError(t, y.Bind(ir.IRInt(5)))
	x := New("x", "")
	require.NoError(t, x.AliasTo(y))

	assert.Equal(t, ir.IRInt(5), x.GetDeep())

	require.NoError(t, x.BindDeep(ir.IRInt(7)))
	assert.Equal(t, ir.IRInt(7), y.GetDeep())
	assert.True(t, x.IsAlias(), "BindDeep keeps the alias structure")
}

func TestAliasChainResolvesThroughEveryLink(t *testing.T) {
	z := New("z", "object")
	require.NoError(t, z.Bind(ir.IRString("cup1")))
	y := New("y", "")
	require.NoError(t, y.AliasTo(z))
	x := New("x", "")
	require.NoError(t, x.AliasTo(y))

	assert.Equal(t, ir.IRString("cup1"), x.GetDeep())
	assert.Equal(t, "object", x.GetTypeDeep())
	assert.Equal(t, "z", x.GetNameDeep())
	assert.Same(t, z, x.Terminal())
	assert.Nil(t, x.Get(), "Get does not follow aliases")
}

func TestAliasCycleRejected(t *testing.T) {
	a := New("a", "")
	b := New("b", "")
	c := New("c", "")
	require.NoError(t, a.AliasTo(b))
	require.NoError(t, b.AliasTo(c))

	err := c.AliasTo(a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAliasCycle))
	assert.False(t, c.IsAlias())

	assert.ErrorIs(t, a.AliasTo(a), ErrAliasCycle)
}

func TestBindDropsAlias(t *testing.T) {
	y := New("y", "")
	require.NoError(t, y.Bind(ir.IRString("old")))
	x := New("x", "")
	require.NoError(t, x.AliasTo(y))

	require.NoError(t, x.Bind(ir.IRString("new")))
	assert.False(t, x.IsAlias())
	assert.Equal(t, ir.IRString("old"), y.GetDeep())
	assert.Equal(t, ir.IRString("new"), x.GetDeep())
}

func TestDefaultUsedWhenUnbound(t *testing.T) {
	c := FromRole(ir.RoleDef{Name: "speed", Type: "double", Default: ir.IRString("0.5")})
	assert.False(t, c.IsBound())
	assert.Equal(t, ir.IRFloat(0.5), c.GetDeep())
}

func TestNumericCoercion(t *testing.T) {
	tests := []struct {
		typ  string
		in   ir.IRValue
		want ir.IRValue
	}{
		{"double", ir.IRString("2.5"), ir.IRFloat(2.5)},
		{"double", ir.IRInt(3), ir.IRFloat(3)},
		{"long", ir.IRString(" 42 "), ir.IRInt(42)},
		{"integer", ir.IRFloat(7.9), ir.IRInt(7)},
		{"int", ir.IRString("1e3"), ir.IRInt(1000)},
		{"object", ir.IRString("cup1"), ir.IRString("cup1")},
	}
	for _, tt := range tests {
		c := New("v", tt.typ)
		require.NoError(t, c.Bind(tt.in), "%s <- %v", tt.typ, tt.in)
		assert.Equal(t, tt.want, c.GetDeep(), "%s <- %v", tt.typ, tt.in)
	}
}

func TestIntegerCoercionRange(t *testing.T) {
	c := New("n", "long")
	assert.True(t, IsCoercionError(c.Bind(ir.IRFloat(math.Exp2(63)))), "2^63 overflows int64")
	assert.True(t, IsCoercionError(c.Bind(ir.IRFloat(math.Inf(1)))))
	require.NoError(t, c.Bind(ir.IRFloat(-math.Exp2(63))))
	assert.Equal(t, ir.IRInt(math.MinInt64), c.GetDeep())
}

func TestCoercionFailureKeepsRawLiteral(t *testing.T) {
	c := New("speed", "double")
	err := c.Bind(ir.IRString("fast"))
	require.Error(t, err)
	assert.True(t, IsCoercionError(err))

	var ce *CoercionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "speed", ce.Name)
	assert.Equal(t, "fast", ce.Value)

	// Not silently defaulted to zero.
	assert.Equal(t, ir.IRString("fast"), c.GetDeep())
	_, err = c.GetDeepChecked()
	assert.True(t, IsCoercionError(err))
}

func TestCoercionThroughAliasUsesTerminalType(t *testing.T) {
	n := New("n", "long")
	s := New("s", "")
	require.NoError(t, s.AliasTo(n))

	require.NoError(t, s.BindDeep(ir.IRString("12")))
	assert.Equal(t, ir.IRInt(12), n.Get())
}

func TestCloneKeepsAliasTarget(t *testing.T) {
	y := New("y", "")
	require.NoError(t, y.Bind(ir.IRInt(1)))
	x := New("x", "")
	require.NoError(t, x.AliasTo(y))

	cp := x.Clone()
	require.NoError(t, cp.BindDeep(ir.IRInt(9)))
	assert.Equal(t, ir.IRInt(9), x.GetDeep())

	require.NoError(t, cp.Bind(ir.IRInt(2)))
	assert.Equal(t, ir.IRInt(9), x.GetDeep(), "rebinding the clone leaves the original alone")
}

func TestCellString(t *testing.T) {
	y := New("?o", "object")
	require.NoError(t, y.Bind(ir.IRString("cup1")))
	assert.Equal(t, "?o:object=cup1", y.String())

	x := New("?x", "")
	require.NoError(t, x.AliasTo(New("target", "")))
	assert.Equal(t, "?x->target", x.String())
}
