package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLoadDir_UnifiesFiles(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "types.cue", "package specs\n\ntype: cup: {}\n")
	writeSpec(t, dir, "actions.cue", "package specs\n\naction: wash: effects: [\"clean(?c:cup)\"]\n")

	spec, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, spec.Defs, 2)
}

func TestLoadDir_WithoutPackageClause(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "types.cue", "type: cup: {}\n")
	writeSpec(t, dir, "actions.cue", "action: wash: effects: [\"clean(?c:cup)\"]\n")

	spec, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, spec.Defs, 2)

	spec, err = Load(dir)
	require.NoError(t, err)
	assert.Len(t, spec.Defs, 2)
}

func TestLoadDir_Errors(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = LoadDir(t.TempDir())
	assert.ErrorContains(t, err, "no CUE files")
}

func TestLoadFiles_Merges(t *testing.T) {
	dir := t.TempDir()
	a := writeSpec(t, dir, "a.cue", `type: cup: {}`)
	b := writeSpec(t, dir, "b.cue", `fact: "ready": true`)

	spec, err := Load(a)
	require.NoError(t, err)
	assert.Len(t, spec.Defs, 1)

	spec, err = LoadFiles(a, b)
	require.NoError(t, err)
	assert.Len(t, spec.Defs, 1)
	assert.Len(t, spec.Facts, 1)
}

func TestLoadFiles_SyntaxError(t *testing.T) {
	path := writeSpec(t, t.TempDir(), "bad.cue", `action: {`)
	_, err := LoadFiles(path)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "bad.cue")
}

func TestFindCUEFiles_Sorted(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "b.cue", ``)
	writeSpec(t, dir, "a.cue", ``)
	writeSpec(t, dir, "notes.txt", ``)

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.cue", filepath.Base(files[0]))
}
