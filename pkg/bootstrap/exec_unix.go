//go:build !windows

package bootstrap

import (
	"os"
	"syscall"
)

// replaceImage swaps the current process image for binary. The process
// identity is reused, so arbitrarily many successive rebuilds still leave
// at most one live process.
func replaceImage(binary string, argv []string) error {
	return syscall.Exec(binary, argv, os.Environ())
}
