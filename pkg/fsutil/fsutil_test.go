package fsutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirCreatesAllAncestors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, Mkdir(context.Background(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMkdirExistingDirectoryIsSuccess(t *testing.T) {
	path := t.TempDir()
	assert.NoError(t, Mkdir(context.Background(), path))
}

func TestMkdirFailsOnNonDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0660))

	assert.Error(t, Mkdir(context.Background(), path))
}

func TestRemoveRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0770))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0660))

	require.NoError(t, RemoveRecursive(filepath.Join(dir, "a")))
	_, err := os.Stat(filepath.Join(dir, "a"))
	assert.True(t, os.IsNotExist(err))

	// a missing path is fine
	assert.NoError(t, RemoveRecursive(filepath.Join(dir, "gone")))
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Error(err)
		}
	})
}

func TestProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0770))
	sub := filepath.Join(root, "pkg", "deep")
	require.NoError(t, os.MkdirAll(sub, 0770))

	chdir(t, sub)

	found, err := ProjectRoot()
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	foundResolved, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, resolved, foundResolved)
}
