package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"asmharvest/internal/config"
	"asmharvest/internal/engine"
	"asmharvest/internal/executor"
	"asmharvest/internal/fetcher"
	"asmharvest/internal/flags"
	gh "asmharvest/internal/github"
	"asmharvest/internal/measure"
	"asmharvest/internal/registry"
)

// resolveToken is replaced in tests.
var resolveToken = gh.ResolveToken

var scrapeCmd = &cobra.Command{
	Use:   "scrape <pages>",
	Short: "Harvest assembly line counts from crates.io packages",
	Long: `Harvest assembly line counts from crates.io packages.

<pages> is the exclusive upper page bound: pages --start-page .. <pages>-1 are
requested, so "scrape 2" processes the first listing page.

For every listed package the repository URL is resolved, the repository is
cloned into --workdir/<crate>, the build command runs in the package directory,
and the line counter is run twice: on the source tree and on the build output
directory (--build-dir). Packages are processed one at a time; a failing clone
or build never stops the run.

Output:
	--source-csv and --build-csv receive the two tables (always written, even when
	the registry listing fails; skipped with --dry-run).
	Console progress is controlled by --console-format (text or ndjson).
	--out / --emit write package results (json) or lifecycle events (ndjson).
	--report writes a Markdown summary.

GitHub probe:
	With --github-probe=auto (default) and a token from GITHUB_TOKEN, GH_TOKEN or
	'gh auth token', github.com repositories are looked up before cloning and
	repositories that no longer exist are skipped.

Exit codes:
	0 = every listed package was processed
	2 = partial run (registry listing failed or the run was cancelled)
	3 = fatal error (invalid flags, or the tables could not be written)

Examples:
	asmharvest scrape 2
	asmharvest scrape 11 --delete --depth 1 --report summary.md
	asmharvest scrape 3 --dry-run --exclude '*windows*,*-sys'
	asmharvest scrape 2 --no-console --emit ndjson
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pages, err := parsePages(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(engine.ExitFatal)
		}
		cfg.Registry.EndPage = pages

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(engine.ExitFatal)
		}

		os.Exit(runScrape(cfg))
	},
}

func runScrape(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Runtime.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Runtime.Timeout)
		defer cancel()
	}

	eng, err := buildEngine(ctx, cfg, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return engine.ExitFatal
	}
	return eng.Run(ctx, cfg)
}

func parsePages(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("pages must be an integer, got %q", raw)
	}
	return n, nil
}

// buildEngine wires the registry client, executor, measurer and optional
// GitHub prober from a validated config.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	client, err := registry.NewClient(cfg.Registry.URL,
		registry.WithPerPage(cfg.Registry.PerPage),
		registry.WithSort(cfg.Registry.Sort),
		registry.WithRateLimit(cfg.Registry.RateLimit),
		registry.WithRequestTimeout(cfg.Runtime.HTTPTimeout),
		registry.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	source := registry.Paginator{Pager: client, StartPage: cfg.Registry.StartPage, EndPage: cfg.Registry.EndPage}

	runner := executor.ExecRunner{}
	exec, err := executor.New(runner, executor.Options{
		Git:          cfg.Tools.Git,
		Build:        cfg.BuildCommand(),
		CloneDepth:   cfg.Workspace.CloneDepth,
		CloneTimeout: cfg.Runtime.CloneTimeout,
		BuildTimeout: cfg.Runtime.BuildTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	measurer := measure.NewMeasurer(measure.LocOracle{Path: cfg.Tools.Loc, Runner: runner}, cfg.Runtime.MeasureTimeout)

	eng := engine.NewEngine(source, exec, measurer)
	eng.Logger = logger

	prober, err := buildProber(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if prober != nil {
		eng.Prober = prober
	}
	return eng, nil
}

// buildProber returns nil when the GitHub probe is disabled. In auto mode the
// probe runs only when a token is available; "on" probes unauthenticated when
// there is none.
func buildProber(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*fetcher.Fetcher, error) {
	if cfg.Tools.GitHubProbe == "off" {
		return nil, nil
	}
	token, source, err := resolveToken(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("resolve GitHub token: %w", err)
	}
	if token == "" {
		if cfg.Tools.GitHubProbe == "auto" {
			logger.Debug("github probe disabled: no token")
			return nil, nil
		}
		logger.Warn("github probe running without a token; the API allows 60 requests per hour")
	} else {
		logger.Debug("github probe enabled", "token_source", string(source))
	}

	client, err := gh.NewClient(ctx, token, gh.WithLogger(logger), gh.WithTimeout(cfg.Runtime.HTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("create GitHub client: %w", err)
	}
	budget := fetcher.NewRequestBudget()
	if cfg.Runtime.HTTPTimeout > 0 {
		budget.SetMaxWait(cfg.Runtime.HTTPTimeout)
	}
	return fetcher.NewFetcher(client, budget), nil
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	// MAINTAINER NOTE: If you add/change/remove harvest-affecting flags here,
	// keep the settings echoed in run.started in sync:
	// internal/engine/engine.go:runSettings.

	// Registry
	scrapeCmd.Flags().StringVar(&cfg.Registry.URL, flags.FlagRegistryURL, cfg.Registry.URL, "Registry root URL")
	scrapeCmd.Flags().IntVar(&cfg.Registry.StartPage, flags.FlagStartPage, cfg.Registry.StartPage, "First listing page to request")
	scrapeCmd.Flags().IntVar(&cfg.Registry.PerPage, flags.FlagPerPage, cfg.Registry.PerPage, "Packages per listing page (1-100)")
	scrapeCmd.Flags().StringVar(&cfg.Registry.Sort, flags.FlagSort, cfg.Registry.Sort, "Listing order: downloads|recent-downloads|recent-updates|new|alpha")
	scrapeCmd.Flags().Float64Var(&cfg.Registry.RateLimit, flags.FlagRateLimit, cfg.Registry.RateLimit, "Maximum registry requests per second (0 = unlimited)")
	scrapeCmd.Flags().StringSliceVar(&cfg.Registry.Include, flags.FlagInclude, nil, "Only process crates matching these patterns (repeatable; comma-separated accepted; Go path.Match style)")
	scrapeCmd.Flags().StringSliceVar(&cfg.Registry.Exclude, flags.FlagExclude, cfg.Registry.Exclude, "Skip crates matching these patterns (repeatable; comma-separated accepted)")
	scrapeCmd.Flags().IntVar(&cfg.Registry.MaxPackages, flags.FlagMaxPackages, 0, "Maximum number of packages to process (0 = unlimited)")
	scrapeCmd.Flags().BoolVar(&cfg.Registry.DryRun, flags.FlagDryRun, false, "List and resolve packages without cloning, building or writing tables")

	// Workspace
	scrapeCmd.Flags().StringVar(&cfg.Workspace.Dir, flags.FlagWorkdir, cfg.Workspace.Dir, "Directory that receives one checkout per crate")
	scrapeCmd.Flags().BoolVar(&cfg.Workspace.DeleteAfter, flags.FlagDelete, false, "Delete each checkout after it has been measured")
	scrapeCmd.Flags().IntVar(&cfg.Workspace.CloneDepth, flags.FlagDepth, cfg.Workspace.CloneDepth, "git clone --depth (0 = full history)")
	scrapeCmd.Flags().StringVar(&cfg.Workspace.BuildDir, flags.FlagBuildDir, cfg.Workspace.BuildDir, "Build output directory, relative to the package directory")

	// Tools
	scrapeCmd.Flags().StringVar(&cfg.Tools.Git, flags.FlagGit, cfg.Tools.Git, "git executable")
	scrapeCmd.Flags().StringVar(&cfg.Tools.Build, flags.FlagBuild, cfg.Tools.Build, "Build command, run in the package directory")
	scrapeCmd.Flags().StringVar(&cfg.Tools.Loc, flags.FlagLoc, cfg.Tools.Loc, "Line-counting executable (loc-compatible output)")
	scrapeCmd.Flags().StringVar(&cfg.Tools.GitHubProbe, flags.FlagGitHubProbe, cfg.Tools.GitHubProbe, "GitHub repository probe: auto|on|off")

	// Output
	scrapeCmd.Flags().StringVar(&cfg.Output.SourceCSV, flags.FlagSourceCSV, cfg.Output.SourceCSV, "Source-tree table path")
	scrapeCmd.Flags().StringVar(&cfg.Output.BuildCSV, flags.FlagBuildCSV, cfg.Output.BuildCSV, "Build-output table path")
	scrapeCmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, cfg.Output.ConsoleFormat, "Console output format: text|ndjson")
	scrapeCmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown summary to this path")
	scrapeCmd.Flags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	scrapeCmd.Flags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	scrapeCmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit an additional structured stream to stdout: json|ndjson")
	scrapeCmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console progress (use with --emit/--out/--report)")

	// Runtime
	scrapeCmd.Flags().DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Overall run timeout (0 = none)")
	scrapeCmd.Flags().DurationVar(&cfg.Runtime.HTTPTimeout, flags.FlagHTTPTimeout, cfg.Runtime.HTTPTimeout, "Per-request timeout for registry and GitHub calls (0 = none)")
	scrapeCmd.Flags().DurationVar(&cfg.Runtime.CloneTimeout, flags.FlagCloneTimeout, cfg.Runtime.CloneTimeout, "Per-clone timeout (0 = none)")
	scrapeCmd.Flags().DurationVar(&cfg.Runtime.BuildTimeout, flags.FlagBuildTimeout, cfg.Runtime.BuildTimeout, "Per-build timeout (0 = none)")
	scrapeCmd.Flags().DurationVar(&cfg.Runtime.MeasureTimeout, flags.FlagMeasureTimeout, cfg.Runtime.MeasureTimeout, "Per line-count timeout (0 = none)")
}
