package executor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
)

// Command describes a single external process invocation.
//
// Dir must be absolute; the process never inherits a working directory from
// the calling process state.
type Command struct {
	Dir  string
	Name string
	Args []string

	// Stdout receives the process output. Nil discards it.
	Stdout io.Writer
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v (in %s)", c.Name, c.Args, c.Dir)
}

// Runner starts external processes. It is the seam tests use to avoid
// invoking git or cargo.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec. Stderr is always discarded.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) error {
	if ctx == nil {
		return fmt.Errorf("run %s: nil context", c.Name)
	}
	if c.Dir != "" && !filepath.IsAbs(c.Dir) {
		return fmt.Errorf("run %s: working directory must be absolute, got %q", c.Name, c.Dir)
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = nil
	cmd.Stdout = c.Stdout
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("run %s: %w", c.Name, ctx.Err())
		}
		return fmt.Errorf("run %s: %w", c.Name, err)
	}
	return nil
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) error

func (f RunnerFunc) Run(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}
