// Package engine drives the harvest: it lists packages from the registry,
// then resolves, checks out, builds and measures them one at a time, and
// finally writes the source and build tables.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"asmharvest/internal/config"
	"asmharvest/internal/executor"
	"asmharvest/internal/fetcher"
	"asmharvest/internal/locator"
	"asmharvest/internal/measure"
	"asmharvest/internal/output"
	"asmharvest/internal/registry"
	"asmharvest/internal/result"
)

// Exit codes returned by Run.
const (
	ExitOK      = 0
	ExitPartial = 2
	ExitFatal   = 3
)

func exitCodeForRun(fatal, partial bool) int {
	// 0 = every listed package was processed
	// 2 = partial run (registry listing failed or the run was cancelled)
	// 3 = fatal error (no tables were produced)
	if fatal {
		return ExitFatal
	}
	if partial {
		return ExitPartial
	}
	return ExitOK
}

// PackageSource lists the packages to process.
type PackageSource interface {
	Fetch(ctx context.Context) ([]registry.PackageRef, error)
}

// Materializer clones and builds a package.
type Materializer interface {
	Execute(ctx context.Context, loc locator.Location, dest string) (executor.Checkout, error)
}

// Measurer reports the assembly line counts of a directory.
type Measurer interface {
	Measure(ctx context.Context, crate, dir string) (measure.Report, bool, error)
}

// Prober looks up repository metadata before a clone.
type Prober interface {
	Probe(ctx context.Context, owner, repo string) (fetcher.RepoInfo, error)
}

type Engine struct {
	Source   PackageSource
	Executor Materializer
	Measurer Measurer

	// Prober is optional; nil disables the GitHub probe.
	Prober Prober

	Logger *slog.Logger

	// Test seams.
	removeCheckout func(executor.Checkout) error
	writeTable     func(path string, reports []measure.Report) error
	now            func() time.Time
}

func NewEngine(source PackageSource, exec Materializer, measurer Measurer) *Engine {
	return &Engine{
		Source:   source,
		Executor: exec,
		Measurer: measurer,
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// setupOutputManager opens every sink the config asks for. When one cannot be
// opened the sinks created so far are closed again.
func setupOutputManager(cfg *config.Config) (*output.Manager, error) {
	var sinks []output.Sink
	fail := func(err error) (*output.Manager, error) {
		_ = output.NewManager(sinks...).Close()
		return nil, err
	}

	if !cfg.Output.NoConsole {
		sinks = append(sinks, output.NewConsoleSink(nil, cfg.Output.ConsoleFormat))
	}
	for _, format := range cfg.Output.Emit {
		es, err := output.NewEmitSink(os.Stdout, format)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, es)
	}
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, fs)
	}
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, rs)
	}
	return output.NewManager(sinks...), nil
}

// runSettings is echoed in the run.started event and the Markdown summary.
func runSettings(cfg *config.Config) map[string]string {
	return map[string]string{
		"registry":  cfg.Registry.URL,
		"pages":     fmt.Sprintf("[%d, %d)", cfg.Registry.StartPage, cfg.Registry.EndPage),
		"per_page":  strconv.Itoa(cfg.Registry.PerPage),
		"sort":      cfg.Registry.Sort,
		"workdir":   cfg.Workspace.Dir,
		"build_cmd": cfg.Tools.Build,
		"build_dir": cfg.Workspace.BuildDir,
		"delete":    strconv.FormatBool(cfg.Workspace.DeleteAfter),
		"dry_run":   strconv.FormatBool(cfg.Registry.DryRun),
	}
}

// Run executes a full harvest and returns the process exit code.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	log := e.logger()

	outMgr, err := setupOutputManager(cfg)
	if err != nil {
		log.Error("cannot create output sinks", "error", err)
		return exitCodeForRun(true, false)
	}
	defer func() {
		if err := outMgr.Close(); err != nil {
			log.Error("closing output sinks", "error", err)
		}
	}()

	_ = outMgr.Write(output.Event{Type: output.EventRunStarted, Settings: runSettings(cfg)})

	run, err := e.Harvest(ctx, cfg, outMgr)
	partial := err != nil
	if err != nil {
		log.Warn("harvest incomplete", "error", err)
	}

	fatal := false
	if !cfg.Registry.DryRun {
		if err := e.writeTables(cfg, run); err != nil {
			log.Error("cannot write tables", "error", err)
			fatal = true
		}
	}

	code := exitCodeForRun(fatal, partial)
	_ = outMgr.Write(output.Event{
		Type: output.EventRunFinished,
		RunSummary: &output.RunSummary{
			Packages:   len(run.Packages),
			SourceRows: len(run.Source),
			BuildRows:  len(run.Build),
			ExitCode:   code,
		},
	})
	return code
}

func (e *Engine) writeTables(cfg *config.Config, run result.Run) error {
	write := e.writeTable
	if write == nil {
		write = output.WriteTable
	}
	var errs []error
	if err := write(cfg.Output.SourceCSV, run.Source); err != nil {
		errs = append(errs, err)
	}
	if err := write(cfg.Output.BuildCSV, run.Build); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		e.logger().Info("tables written", "source", cfg.Output.SourceCSV, "source_rows", len(run.Source), "build", cfg.Output.BuildCSV, "build_rows", len(run.Build))
	}
	return errors.Join(errs...)
}

// Harvest lists packages and processes them sequentially, writing each
// result.Package to out as it completes.
//
// A registry failure yields an empty run and a non-nil error; per-package
// faults never stop the loop. Cancellation stops before the next package and
// returns the packages processed so far together with ctx.Err().
func (e *Engine) Harvest(ctx context.Context, cfg *config.Config, out *output.Manager) (result.Run, error) {
	log := e.logger()
	var run result.Run

	if e.Source == nil || e.Executor == nil || e.Measurer == nil {
		return run, errors.New("engine: source, executor and measurer are required")
	}

	refs, err := e.Source.Fetch(ctx)
	if err != nil {
		log.Error("registry listing failed; producing empty tables", "error", err)
		return run, fmt.Errorf("list packages: %w", err)
	}
	listed := len(refs)
	refs = FilterPackages(refs, cfg)
	log.Info("packages listed", "listed", listed, "selected", len(refs))

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			log.Warn("harvest cancelled", "processed", i, "remaining", len(refs)-i)
			return run, err
		}
		p := e.processPackage(ctx, cfg, ref)
		run.Add(p)
		if out != nil {
			_ = out.Write(p)
		}
		log.Debug("package processed", "crate", p.Crate, "outcome", p.Outcome, "reason", p.Reason, "duration", p.Duration)
	}
	return run, ctx.Err()
}

func (e *Engine) processPackage(ctx context.Context, cfg *config.Config, ref registry.PackageRef) result.Package {
	start := e.clock()
	p := e.measurePackage(ctx, cfg, ref)
	p.Duration = e.clock().Sub(start)
	return p
}

func (e *Engine) measurePackage(ctx context.Context, cfg *config.Config, ref registry.PackageRef) result.Package {
	log := e.logger().With("crate", ref.ID)

	if !ref.HasRepository() {
		return result.Skipped(ref.ID, "", "no repository URL")
	}
	loc := locator.Resolve(ref.Repository)
	p := result.Package{
		Crate:      ref.ID,
		Repository: ref.Repository,
		Location:   loc.Kind.String(),
		CloneURL:   loc.CloneURL,
		InnerPath:  loc.InnerPath,
	}
	if !loc.Resolvable() {
		p.Outcome = result.OutcomeSkipped
		p.Reason = "unresolvable repository URL"
		return p
	}
	if cfg.Registry.DryRun {
		p.Outcome = result.OutcomeSkipped
		p.Reason = "dry run: " + loc.String()
		return p
	}

	if e.Prober != nil && loc.Host() == "github.com" {
		if owner, repo, ok := loc.OwnerRepo(); ok {
			info, err := e.Prober.Probe(ctx, owner, repo)
			switch {
			case err != nil:
				log.Warn("github probe failed; cloning anyway", "repo", owner+"/"+repo, "error", err)
			case !info.Found:
				p.Probe = &info
				p.Outcome = result.OutcomeSkipped
				p.Reason = "repository not found on GitHub"
				return p
			default:
				p.Probe = &info
				if info.Archived {
					log.Info("repository is archived", "repo", info.FullName)
				}
			}
		}
	}

	co, err := e.Executor.Execute(ctx, loc, cfg.CheckoutDir(ref.ID))
	if cfg.Workspace.DeleteAfter {
		defer e.cleanup(log, co)
	}
	switch {
	case errors.Is(err, executor.ErrInaccessible):
		p.Outcome = result.OutcomeSkipped
		p.Reason = fmt.Sprintf("subdirectory %s not found in checkout", loc.InnerPath)
		return p
	case err != nil && ctx.Err() != nil:
		p.Outcome = result.OutcomeFailed
		p.Reason = "cancelled"
		return p
	case err != nil:
		p.Outcome = result.OutcomeFailed
		p.Reason = err.Error()
		return p
	}

	src, ok, err := e.Measurer.Measure(ctx, ref.ID, co.SourceDir)
	if err != nil {
		p.Outcome = result.OutcomeFailed
		p.Reason = fmt.Sprintf("measure source: %v", err)
		return p
	}
	if ok {
		p.Source = &src
	}

	build, ok, err := e.Measurer.Measure(ctx, ref.ID, buildOutputDir(co, loc, cfg.Workspace.BuildDir))
	if err != nil {
		p.Outcome = result.OutcomeFailed
		p.Reason = fmt.Sprintf("measure build output: %v", err)
		return p
	}
	if ok {
		p.Build = &build
	}

	switch {
	case co.CloneErr != nil:
		p.Outcome = result.OutcomePartial
		p.Reason = fmt.Sprintf("clone failed: %v", co.CloneErr)
	case co.BuildErr != nil:
		p.Outcome = result.OutcomePartial
		p.Reason = fmt.Sprintf("build failed: %v", co.BuildErr)
	default:
		p.Outcome = result.OutcomeMeasured
	}
	return p
}

// buildOutputDir returns the build directory for a checkout. A package inside
// a workspace usually builds into the workspace root, so a subdirectory
// package without its own build directory falls back to the checkout root.
func buildOutputDir(co executor.Checkout, loc locator.Location, buildDir string) string {
	dir := filepath.Join(co.SourceDir, buildDir)
	if loc.Kind != locator.KindSubdirectory {
		return dir
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return filepath.Join(co.Root, buildDir)
}

func (e *Engine) cleanup(log *slog.Logger, co executor.Checkout) {
	remove := e.removeCheckout
	if remove == nil {
		remove = executor.Remove
	}
	if err := remove(co); err != nil {
		log.Warn("cannot remove checkout", "root", co.Root, "error", err)
	}
}
