package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPostScript(t *testing.T) {
	dir := t.TempDir()
	err := runPostScript(context.Background(), "dep", dir, "echo done > marker.txt\n")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(content))
}

func TestRunPostScriptStopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	err := runPostScript(context.Background(), "dep", dir, "false\necho nope > marker.txt\n")
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "marker.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunPostScriptParseError(t *testing.T) {
	err := runPostScript(context.Background(), "dep", t.TempDir(), "if then fi (")
	assert.Error(t, err)
}
