package cmd

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// runPostScript executes a dependency's post hook inside its destination
// directory. Hooks run with -e, so the first failing command aborts.
func runPostScript(ctx context.Context, name, dir, script string) error {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), name+":post")
	if err != nil {
		return eris.Wrapf(err, "failed to parse the post script of %s", name)
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
		interp.ExecHandlers(rerouteBuiltins),
		interp.OpenHandler(openHandler),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize the hook runner")
	}

	if err := runner.Run(ctx, file); err != nil {
		return eris.Wrapf(err, "post script of %s failed", name)
	}

	return nil
}

func rerouteBuiltins(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) > 0 {
			switch args[0] {
			case "mv", "rm", "mkdir":
				// always use our cross-platform implementations for these so
				// hooks behave consistently everywhere
				if exe, err := os.Executable(); err == nil {
					args = append([]string{exe}, args...)
				}
			}
		}

		return next(ctx, args)
	}
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}
