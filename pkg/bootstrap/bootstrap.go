// Package bootstrap implements the self-rebuild step every build script
// runs first: if the script's source is newer than the running binary, the
// source is recompiled into the binary's own path and the process image is
// replaced by the fresh build. On the rebuild path control never returns to
// the caller.
package bootstrap

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/nobuild/nob/pkg/proc"
)

// Rebuilder carries the pieces of the bootstrap that tests need to swap
// out. The defaults compile with the Go toolchain and really replace the
// process image.
type Rebuilder struct {
	// BuildCommand produces the compiler invocation for source -> output.
	BuildCommand func(source, output string) *proc.Command

	// Run executes the compile command.
	Run func(ctx context.Context, cmd *proc.Command) (int, error)

	// Exec replaces the current process with binary, passing argv through.
	Exec func(binary string, argv []string) error

	// Executable resolves the running binary's own path.
	Executable func() (string, error)
}

func New() *Rebuilder {
	return &Rebuilder{
		BuildCommand: func(source, output string) *proc.Command {
			return proc.New("go", "build", "-o", output, source)
		},
		Run: func(ctx context.Context, cmd *proc.Command) (int, error) {
			return cmd.RunSync(ctx)
		},
		Exec:       replaceImage,
		Executable: os.Executable,
	}
}

// RebuildIfStale compares the running binary against source and rebuilds on
// staleness. args is the original argument vector (args[0] included) and is
// passed through to the fresh build unconditionally. With the default Exec
// this function only returns when the binary was already up to date; any
// returned error means the bootstrap failed and the process must not
// continue with stale logic.
func (r *Rebuilder) RebuildIfStale(ctx context.Context, args []string, source string) error {
	binary, err := r.Executable()
	if err != nil {
		return eris.Wrap(err, "failed to resolve the running executable")
	}

	binInfo, err := os.Stat(binary)
	if err != nil {
		return eris.Wrapf(err, "failed to check %s", binary)
	}

	srcInfo, err := os.Stat(source)
	if err != nil {
		return eris.Wrapf(err, "failed to check %s", source)
	}

	if !srcInfo.ModTime().After(binInfo.ModTime()) {
		return nil
	}

	zerolog.Ctx(ctx).Info().
		Str("source", source).
		Msgf("%s is stale, rebuilding", binary)

	status, err := r.Run(ctx, r.BuildCommand(source, binary))
	if err != nil {
		return err
	}
	if status != 0 {
		return eris.Errorf("rebuild of %s exited with status %d", source, status)
	}

	if err := r.Exec(binary, args); err != nil {
		return eris.Wrapf(err, "failed to restart %s", binary)
	}

	// only reachable with a stubbed Exec
	return nil
}

// RebuildIfStale is the package-level convenience used at the top of build
// scripts. A failed bootstrap aborts the process: running outdated build
// logic risks corrupting build state.
func RebuildIfStale(ctx context.Context, args []string, source string) {
	if err := New().RebuildIfStale(ctx, args, source); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("self-rebuild failed")
		os.Exit(1)
	}
}
