package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	obj := IRObject{
		"zeta":  IRInt(1),
		"alpha": IRString("a"),
		"mid":   IRBool(true),
	}
	data, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","mid":true,"zeta":1}`, string(data))
}

func TestMarshalCanonicalFloats(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.5, "1.5"},
		{2, "2"},
		{-0.25, "-0.25"},
		{1e21, "1e+21"},
	}
	for _, tt := range tests {
		data, err := MarshalCanonical(IRFloat(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(data))
	}

	_, err := MarshalCanonical(IRFloat(math.NaN()))
	assert.Error(t, err)
	_, err = MarshalCanonical(IRFloat(math.Inf(1)))
	assert.Error(t, err)
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	data, err := MarshalCanonical(IRString("<a&b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(data))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	data, err := MarshalCanonical(IRString("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(data))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	data, err := MarshalCanonical(IRString("e\u0301"))
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(data))
}

func TestMarshalCanonicalRejectsNull(t *testing.T) {
	_, err := MarshalCanonical(IRNull{})
	assert.Error(t, err)
	_, err = MarshalCanonical(IRArray{IRInt(1), IRNull{}})
	assert.Error(t, err)
}

func TestUnmarshalIRValueNumbers(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"n":3,"f":0.5,"s":"x","b":false,"l":[1,null]}`))
	require.NoError(t, err)
	obj, ok := v.(IRObject)
	require.True(t, ok)
	assert.Equal(t, IRInt(3), obj["n"])
	assert.Equal(t, IRFloat(0.5), obj["f"])
	assert.Equal(t, IRString("x"), obj["s"])
	assert.Equal(t, IRBool(false), obj["b"])
	assert.Equal(t, IRArray{IRInt(1), IRNull{}}, obj["l"])
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "cup1", ValueString(IRString("cup1")))
	assert.Equal(t, "42", ValueString(IRInt(42)))
	assert.Equal(t, "0.5", ValueString(IRFloat(0.5)))
	assert.Equal(t, "true", ValueString(IRBool(true)))
	assert.Equal(t, "", ValueString(nil))
	assert.Equal(t, `{"a":1}`, ValueString(IRObject{"a": IRInt(1)}))
}
