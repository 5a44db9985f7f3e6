// Package executor materializes a package checkout and attempts to build it
// in place.
//
// Failures are isolated: a failed clone or build is recorded on the returned
// Checkout and never aborts the caller's batch.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"asmharvest/internal/locator"
)

var (
	// ErrUnresolvable is returned when the location cannot be cloned at all.
	ErrUnresolvable = errors.New("repository location is unresolvable")

	// ErrInaccessible is returned when a monorepo subdirectory does not exist
	// in the checkout.
	ErrInaccessible = errors.New("package subdirectory is inaccessible")
)

// Checkout is the filesystem result of Execute.
type Checkout struct {
	// Root is the clone destination.
	Root string
	// SourceDir is where the package source lives: Root, or Root/InnerPath.
	SourceDir string

	CloneErr error
	BuildErr error
	// Built is true when the build tool was invoked and exited cleanly.
	Built bool
}

// Exists reports whether the package source directory is present on disk.
func (c Checkout) Exists() bool {
	info, err := os.Stat(c.SourceDir)
	return err == nil && info.IsDir()
}

type Options struct {
	Git          string
	Build        []string
	CloneDepth   int
	CloneTimeout time.Duration
	BuildTimeout time.Duration
	Logger       *slog.Logger
}

type Executor struct {
	runner Runner
	opts   Options
}

func New(runner Runner, opts Options) (*Executor, error) {
	if runner == nil {
		return nil, errors.New("executor: runner is nil")
	}
	if opts.Git == "" {
		return nil, errors.New("executor: git command is required")
	}
	if len(opts.Build) == 0 || opts.Build[0] == "" {
		return nil, errors.New("executor: build command is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{runner: runner, opts: opts}, nil
}

// Execute clones loc into dest and builds the package source.
//
// A clone failure does not stop the build attempt; the build simply finds
// nothing. For subdirectory locations a missing inner path returns
// ErrInaccessible together with the (partial) Checkout.
func (e *Executor) Execute(ctx context.Context, loc locator.Location, dest string) (Checkout, error) {
	if !loc.Resolvable() {
		return Checkout{}, ErrUnresolvable
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return Checkout{}, fmt.Errorf("resolve checkout path %q: %w", dest, err)
	}
	co := Checkout{Root: root, SourceDir: root}
	if loc.Kind == locator.KindSubdirectory {
		co.SourceDir = filepath.Join(root, filepath.FromSlash(loc.InnerPath))
		if !within(root, co.SourceDir) {
			e.opts.Logger.Warn("package subdirectory escapes the checkout", "path", loc.InnerPath, "root", root)
			return co, fmt.Errorf("%w: %s is outside the checkout", ErrInaccessible, loc.InnerPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return co, fmt.Errorf("create workspace directory: %w", err)
	}

	co.CloneErr = e.clone(ctx, loc, root)
	if co.CloneErr != nil {
		e.opts.Logger.Debug("clone failed", "url", loc.GitURL(), "dest", root, "error", co.CloneErr)
	}
	if ctx.Err() != nil {
		return co, ctx.Err()
	}

	if loc.Kind == locator.KindSubdirectory && !co.Exists() {
		e.opts.Logger.Info("package subdirectory not found in checkout", "path", loc.InnerPath, "root", root)
		return co, fmt.Errorf("%w: %s", ErrInaccessible, loc.InnerPath)
	}

	co.BuildErr = e.build(ctx, co.SourceDir)
	co.Built = co.BuildErr == nil
	if co.BuildErr != nil {
		e.opts.Logger.Debug("build failed", "dir", co.SourceDir, "error", co.BuildErr)
	}
	if ctx.Err() != nil {
		return co, ctx.Err()
	}
	return co, nil
}

// within reports whether dir is root or lies below it.
func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return filepath.IsLocal(rel)
}

func (e *Executor) clone(ctx context.Context, loc locator.Location, dest string) error {
	args := []string{"clone", "--quiet"}
	if e.opts.CloneDepth > 0 {
		args = append(args, "--depth", strconv.Itoa(e.opts.CloneDepth))
	}
	args = append(args, loc.GitURL(), dest)

	cctx, cancel := withOptionalTimeout(ctx, e.opts.CloneTimeout)
	defer cancel()
	return e.runner.Run(cctx, Command{
		Dir:  filepath.Dir(dest),
		Name: e.opts.Git,
		Args: args,
	})
}

func (e *Executor) build(ctx context.Context, dir string) error {
	bctx, cancel := withOptionalTimeout(ctx, e.opts.BuildTimeout)
	defer cancel()
	return e.runner.Run(bctx, Command{
		Dir:  dir,
		Name: e.opts.Build[0],
		Args: e.opts.Build[1:],
	})
}

// Remove deletes a checkout root.
func Remove(co Checkout) error {
	if co.Root == "" {
		return nil
	}
	if err := os.RemoveAll(co.Root); err != nil {
		return fmt.Errorf("remove checkout %s: %w", co.Root, err)
	}
	return nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
