package config

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields that affect a
	// harvest, keep these in sync:
	// - CLI flags in internal/cli/scrape.go
	// - the settings echoed in the Markdown summary (internal/output/report.go)
	Registry  Registry
	Workspace Workspace
	Tools     Tools
	Output    Output
	Runtime   Runtime
}

type Registry struct {
	// URL is the registry root (see --registry-url).
	URL string

	// StartPage is the first page requested (see --start-page). Must be >= 1.
	StartPage int

	// EndPage is the exclusive upper page bound, taken from the positional
	// <pages> argument: pages [StartPage, EndPage) are requested.
	EndPage int

	// PerPage is the listing page size (see --per-page).
	PerPage int

	// Sort is the listing order (see --sort).
	// Allowed values: downloads, recent-downloads, recent-updates, new, alpha.
	Sort string

	// RateLimit caps registry requests per second (see --rate-limit). 0 disables it.
	RateLimit float64

	// Include keeps only crates whose id matches one of these path.Match patterns.
	Include []string

	// Exclude drops crates whose id matches one of these path.Match patterns.
	Exclude []string

	// MaxPackages limits how many packages are processed (0 = unlimited).
	MaxPackages int

	// DryRun fetches and resolves packages without cloning (see --dry-run).
	DryRun bool
}

type Workspace struct {
	// Dir is where checkouts are created, one subdirectory per crate id (see --workdir).
	Dir string

	// DeleteAfter removes each checkout once it has been measured (see --delete).
	DeleteAfter bool

	// CloneDepth is passed to git clone --depth; 0 clones the full history.
	CloneDepth int

	// BuildDir is the build-output directory name relative to the source dir (see --build-dir).
	BuildDir string
}

type Tools struct {
	// Git is the git executable.
	Git string

	// Build is the build command line, split on whitespace (see --build-cmd).
	Build string

	// Loc is the line-counting executable.
	Loc string

	// GitHubProbe controls the repository metadata probe (see --github-probe).
	// Allowed values: auto, on, off. auto probes when a token is available.
	GitHubProbe string
}

type Output struct {
	// SourceCSV and BuildCSV are the two measurement tables.
	SourceCSV string
	BuildCSV  string

	// ConsoleFormat controls the progress sink format (see --console-format).
	// Allowed values: text, ndjson.
	ConsoleFormat string

	// Report writes a Markdown summary to this path (see --report).
	Report string

	// Out writes structured output to this path (see --out).
	Out string

	// OutFormat selects the format for --out (json or ndjson); inferred from
	// the extension when empty.
	OutFormat string

	// Emit writes an additional structured stream to stdout: json|ndjson.
	Emit []string

	// NoConsole suppresses the progress sink.
	NoConsole bool
}

type Runtime struct {
	// Timeout bounds the whole run (0 = no limit).
	Timeout time.Duration

	// Per-call timeouts; 0 disables the bound for that call.
	HTTPTimeout    time.Duration
	CloneTimeout   time.Duration
	BuildTimeout   time.Duration
	MeasureTimeout time.Duration

	// Verbose enables debug logging.
	Verbose bool
}

func New() *Config {
	return &Config{
		Registry: Registry{
			URL:       "https://crates.io",
			StartPage: 1,
			PerPage:   100,
			Sort:      "downloads",
			RateLimit: 1,
			Exclude:   []string{"*windows*"},
		},
		Workspace: Workspace{
			Dir:        "crates",
			CloneDepth: 1,
			BuildDir:   "target",
		},
		Tools: Tools{
			Git:         "git",
			Build:       "cargo build --quiet",
			Loc:         "loc",
			GitHubProbe: "auto",
		},
		Output: Output{
			SourceCSV:     "asm_data.csv",
			BuildCSV:      "asm_build_data.csv",
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			HTTPTimeout:    30 * time.Second,
			CloneTimeout:   10 * time.Minute,
			BuildTimeout:   30 * time.Minute,
			MeasureTimeout: 5 * time.Minute,
		},
	}
}

var validSorts = []string{"downloads", "recent-downloads", "recent-updates", "new", "alpha"}

func (c *Config) Validate() error {
	c.Registry.Include = splitCommaList(c.Registry.Include)
	c.Registry.Exclude = splitCommaList(c.Registry.Exclude)
	c.Output.Emit = splitCommaList(c.Output.Emit)

	// Registry
	u, err := url.Parse(strings.TrimSpace(c.Registry.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid --registry-url: %q", c.Registry.URL)
	}
	c.Registry.URL = strings.TrimRight(u.String(), "/")

	if c.Registry.StartPage < 1 {
		return errors.New("--start-page must be >= 1")
	}
	if c.Registry.EndPage < 1 {
		return errors.New("pages must be >= 1")
	}
	if c.Registry.EndPage < c.Registry.StartPage {
		return fmt.Errorf("pages (%d) must not be lower than --start-page (%d)", c.Registry.EndPage, c.Registry.StartPage)
	}
	if c.Registry.PerPage < 1 || c.Registry.PerPage > 100 {
		return errors.New("--per-page must be between 1 and 100")
	}
	c.Registry.Sort = normalizeEnumValue(c.Registry.Sort)
	if !contains(validSorts, c.Registry.Sort) {
		return fmt.Errorf("unsupported --sort: %s (must be one of: %s)", c.Registry.Sort, strings.Join(validSorts, ", "))
	}
	if c.Registry.RateLimit < 0 {
		return errors.New("--rate-limit must be >= 0")
	}
	if c.Registry.MaxPackages < 0 {
		return errors.New("--max-packages must be >= 0")
	}
	for _, p := range append(append([]string{}, c.Registry.Include...), c.Registry.Exclude...) {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid crate pattern %q: %w", p, err)
		}
	}

	// Workspace
	if strings.TrimSpace(c.Workspace.Dir) == "" {
		return errors.New("--workdir must not be empty")
	}
	if c.Workspace.CloneDepth < 0 {
		return errors.New("--depth must be >= 0")
	}
	c.Workspace.BuildDir = strings.TrimSpace(c.Workspace.BuildDir)
	if c.Workspace.BuildDir == "" || filepath.IsAbs(c.Workspace.BuildDir) || strings.HasPrefix(filepath.Clean(c.Workspace.BuildDir), "..") {
		return fmt.Errorf("--build-dir must be a relative path inside the package, got %q", c.Workspace.BuildDir)
	}

	// Tools
	if strings.TrimSpace(c.Tools.Git) == "" {
		return errors.New("--git must not be empty")
	}
	if len(c.BuildCommand()) == 0 {
		return errors.New("--build-cmd must not be empty")
	}
	if strings.TrimSpace(c.Tools.Loc) == "" {
		return errors.New("--loc must not be empty")
	}
	c.Tools.GitHubProbe = normalizeEnumValue(c.Tools.GitHubProbe)
	if c.Tools.GitHubProbe == "" {
		c.Tools.GitHubProbe = "auto"
	}
	if !contains([]string{"auto", "on", "off"}, c.Tools.GitHubProbe) {
		return fmt.Errorf("unsupported --github-probe: %s (must be one of: auto, on, off)", c.Tools.GitHubProbe)
	}

	// Output
	if strings.TrimSpace(c.Output.SourceCSV) == "" || strings.TrimSpace(c.Output.BuildCSV) == "" {
		return errors.New("--source-csv and --build-csv must not be empty")
	}
	if filepath.Clean(c.Output.SourceCSV) == filepath.Clean(c.Output.BuildCSV) {
		return errors.New("--source-csv and --build-csv must be different files")
	}
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, ndjson)", c.Output.ConsoleFormat)
	}
	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", emit)
		}
		c.Output.Emit[i] = v
	}
	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			switch ext := strings.ToLower(filepath.Ext(c.Output.Out)); ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			case "":
				return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
			default:
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	// Runtime
	for name, d := range map[string]time.Duration{
		"--timeout":         c.Runtime.Timeout,
		"--http-timeout":    c.Runtime.HTTPTimeout,
		"--clone-timeout":   c.Runtime.CloneTimeout,
		"--build-timeout":   c.Runtime.BuildTimeout,
		"--measure-timeout": c.Runtime.MeasureTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}

	return nil
}

// BuildCommand returns the build command line split into argv.
func (c *Config) BuildCommand() []string {
	return strings.Fields(c.Tools.Build)
}

// CheckoutDir returns the checkout destination for a crate id.
func (c *Config) CheckoutDir(crate string) string {
	return filepath.Join(c.Workspace.Dir, sanitizeCrateID(crate))
}

// sanitizeCrateID keeps crate ids from escaping the workspace directory.
func sanitizeCrateID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, id)
	if id == "" || id == "." || id == ".." {
		return "_"
	}
	return id
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
