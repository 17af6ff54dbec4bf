// Package proc implements the synchronous process execution layer used by
// build scripts: a reusable Command that collects argument tokens, spawns
// exactly one child per run and either inherits the console or drains the
// child's stdout through a pipe.
package proc

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Command describes one external program invocation: an ordered token list
// (token 0 is the program) plus an optional working directory for the child.
// A Command is not safe for concurrent runs; callers have to serialize.
type Command struct {
	tokens []string
	dir    string
}

// New returns a Command preloaded with the given tokens.
func New(tokens ...string) *Command {
	cmd := &Command{}
	return cmd.Add(tokens...)
}

// Add appends the given tokens in call order.
func (c *Command) Add(tokens ...string) *Command {
	c.tokens = append(c.tokens, tokens...)
	return c
}

// SetWorkingDir overrides the directory the child changes into before it
// starts. The parent's working directory is never touched.
func (c *Command) SetWorkingDir(dir string) {
	c.dir = dir
}

// Reset clears the token list and the working directory override. A reset
// Command behaves like a newly constructed one.
func (c *Command) Reset() {
	c.tokens = c.tokens[:0]
	c.dir = ""
}

// Tokens returns a copy of the current token list.
func (c *Command) Tokens() []string {
	tokens := make([]string, len(c.tokens))
	copy(tokens, c.tokens)
	return tokens
}

func (c *Command) String() string {
	return strings.Join(c.tokens, " ")
}

// RunSync spawns the command, blocks until the child exits and returns its
// normalized status: the exit code (0-255) for a normal exit, 128+signal
// when the child was killed by a signal. The status is 0 only for a clean
// exit. A non-nil error means the child could not be spawned or waited for
// at all; the status is meaningless in that case.
func (c *Command) RunSync(ctx context.Context) (int, error) {
	cmd, err := c.prepare(ctx, "run")
	if err != nil {
		return -1, err
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return -1, eris.Wrapf(err, "failed to start %s", c.tokens[0])
	}

	return c.waitStatus(cmd)
}

// RunSyncCapture behaves like RunSync but redirects the child's stdout
// through a pipe and writes everything received into sink until the stream
// ends. Reads interrupted by a signal are retried; any other read or write
// failure aborts the run.
func (c *Command) RunSyncCapture(ctx context.Context, sink io.Writer) (int, error) {
	cmd, err := c.prepare(ctx, "run captured")
	if err != nil {
		return -1, err
	}

	cmd.Stderr = os.Stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return -1, eris.Wrap(err, "failed to create stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return -1, eris.Wrapf(err, "failed to start %s", c.tokens[0])
	}

	buf := make([]byte, 4096)
	for {
		n, err := pipe.Read(buf)
		if err != nil && n < 1 {
			if err == io.EOF {
				break
			}
			if eris.Is(err, syscall.EINTR) {
				continue
			}

			_, _ = c.waitStatus(cmd)
			return -1, eris.Wrapf(err, "failed to read output of %s", c.tokens[0])
		}

		if _, err := sink.Write(buf[:n]); err != nil {
			_, _ = c.waitStatus(cmd)
			return -1, eris.Wrap(err, "failed to write captured output")
		}
	}

	return c.waitStatus(cmd)
}

func (c *Command) prepare(ctx context.Context, mode string) (*exec.Cmd, error) {
	if len(c.tokens) == 0 {
		return nil, eris.New("no command tokens")
	}

	zerolog.Ctx(ctx).Info().
		Str("dir", c.dir).
		Bool("command", true).
		Msgf("%s: %s", mode, c)

	cmd := exec.Command(c.tokens[0], c.tokens[1:]...)
	cmd.Dir = c.dir
	return cmd, nil
}

func (c *Command) waitStatus(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !eris.As(err, &exitErr) {
		return -1, eris.Wrapf(err, "failed to wait for %s", c.tokens[0])
	}

	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		// never collides with a normal exit code of 0
		return 128 + int(status.Signal()), nil
	}

	return exitErr.ExitCode(), nil
}
