package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/x\n"), 0o644))
	nested := filepath.Join(root, "internal", "config")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := ModuleRoot(nested)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotResolved)
}

func TestModuleRootFromThisPackage(t *testing.T) {
	got, err := ModuleRoot("")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(got, "go.mod"))
}
