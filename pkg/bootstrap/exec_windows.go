//go:build windows

package bootstrap

import (
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
)

// Windows can't replace a running process image, so the closest equivalent
// is spawning the fresh binary with identical arguments and exiting with
// its status. Externally there is still only one active build script.
func replaceImage(binary string, argv []string) error {
	cmd := exec.Command(binary, argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if eris.As(err, &exitErr) {
		os.Exit(exitErr.ExitCode())
	}
	if err != nil {
		return eris.Wrapf(err, "failed to run %s", binary)
	}

	os.Exit(0)
	return nil
}
