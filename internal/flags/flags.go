package flags

// Package flags defines canonical CLI flag names shared by the cobra wiring
// and the code that echoes a run's settings back (the Markdown summary).
// IMPORTANT: These are flag *names* without leading dashes.
const (
	// Registry
	FlagRegistryURL = "registry-url"
	FlagStartPage   = "start-page"
	FlagPerPage     = "per-page"
	FlagSort        = "sort"
	FlagRateLimit   = "rate-limit"
	FlagInclude     = "include"
	FlagExclude     = "exclude"
	FlagMaxPackages = "max-packages"
	FlagDryRun      = "dry-run"

	// Workspace
	FlagWorkdir  = "workdir"
	FlagDelete   = "delete"
	FlagDepth    = "depth"
	FlagBuildDir = "build-dir"

	// Tools
	FlagGit   = "git"
	FlagBuild = "build-cmd"
	FlagLoc   = "loc"

	// GitHub probe
	FlagGitHubProbe = "github-probe"

	// Output
	FlagSourceCSV     = "source-csv"
	FlagBuildCSV      = "build-csv"
	FlagConsoleFormat = "console-format"
	FlagReport        = "report"
	FlagOut           = "out"
	FlagOutFormat     = "out-format"
	FlagEmit          = "emit"
	FlagNoConsole     = "no-console"

	// Runtime
	FlagTimeout        = "timeout"
	FlagHTTPTimeout    = "http-timeout"
	FlagCloneTimeout   = "clone-timeout"
	FlagBuildTimeout   = "build-timeout"
	FlagMeasureTimeout = "measure-timeout"
	FlagVerbose        = "verbose"
)
