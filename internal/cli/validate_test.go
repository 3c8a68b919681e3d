package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/compiler"
)

func TestValidate_Valid(t *testing.T) {
	stdout, _, code := execute(t, "validate", kitchenSpec)
	assert.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "✓ All specs valid")
}

func TestValidate_NegativeCost(t *testing.T) {
	stdout, _, code := execute(t, "validate", filepath.Join("testdata", "invalid"))
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✗ Validation failed")
	assert.Contains(t, stdout, compiler.ErrNegativeValue)
}

func TestValidate_NegativeCostJSON(t *testing.T) {
	stdout, _, code := execute(t, "--format", "json", "validate", filepath.Join("testdata", "invalid"))
	assert.Equal(t, ExitFailure, code)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrNegativeValue, resp.Error.Code)
}

func TestValidate_CycleIsWarning(t *testing.T) {
	stdout, _, code := execute(t, "validate", filepath.Join("testdata", "cyclic"))
	assert.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "warning CYCLE")
}

func TestValidateSpec(t *testing.T) {
	spec, err := compiler.Load(filepath.Join("testdata", "cyclic"))
	require.NoError(t, err)

	result := ValidateSpec(spec)
	assert.True(t, result.Valid)
	require.NotEmpty(t, result.Warnings)

	var cycle *Warning
	for i := range result.Warnings {
		if result.Warnings[i].Code == "CYCLE" {
			cycle = &result.Warnings[i]
		}
	}
	require.NotNil(t, cycle)
	assert.Contains(t, cycle.Path, "open")
}

func TestValidate_MissingPath(t *testing.T) {
	_, _, code := execute(t, "validate", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, code)
}
