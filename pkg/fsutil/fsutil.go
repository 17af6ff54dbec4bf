// Package fsutil bundles the few filesystem operations build scripts need
// directly instead of shelling out.
package fsutil

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Mkdir creates path and all missing ancestors. An existing directory at
// path counts as success; anything else occupying the path is an error.
func Mkdir(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			zerolog.Ctx(ctx).Info().Msgf("%s already exists, not creating", path)
			return nil
		}

		return eris.Errorf("%s already exists and is not a directory", path)
	}
	if !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "failed to check %s", path)
	}

	if err := os.MkdirAll(path, 0770); err != nil {
		return eris.Wrapf(err, "failed to create %s", path)
	}

	return nil
}

// RemoveRecursive deletes path and everything below it. A missing path is
// not an error.
func RemoveRecursive(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return eris.Wrapf(err, "failed to delete %s", path)
	}

	return nil
}

// ProjectRoot walks up from the current working directory until it finds a
// .git entry and returns that directory. Build scripts run from anywhere
// inside the tree, so the search is anchored at the caller's cwd.
func ProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	for {
		_, err := os.Stat(filepath.Join(dir, ".git"))
		if err == nil {
			return dir, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrap(err, "error occurred while searching for the project root")
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", eris.New("project root not found")
		}
		dir = parent
	}
}
