package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"asmharvest/internal/config"
	"asmharvest/internal/executor"
	"asmharvest/internal/fetcher"
	"asmharvest/internal/measure"
	"asmharvest/internal/measure/measuretest"
	"asmharvest/internal/output"
	"asmharvest/internal/registry"
	"asmharvest/internal/result"
)

const randAsm = "// rand\n.globl f\nf:\n\n  ret\n"

// repoFixture describes what a simulated clone puts on disk and what the
// simulated build adds. Paths are relative to the clone root.
type repoFixture struct {
	files      map[string]string
	buildFiles map[string]string
	buildErr   error
}

// scriptedRunner stands in for git and cargo. Cloning a URL that has no
// fixture fails without creating anything, like git does for a missing repo.
type scriptedRunner struct {
	repos    map[string]repoFixture
	calls    []executor.Command
	onBuild  func()
	lastRoot string
	lastRepo repoFixture
}

func (r *scriptedRunner) Run(ctx context.Context, c executor.Command) error {
	r.calls = append(r.calls, c)
	if c.Name == "git" {
		url, dest := c.Args[len(c.Args)-2], c.Args[len(c.Args)-1]
		fx, ok := r.repos[url]
		r.lastRoot, r.lastRepo = dest, fx
		if !ok {
			return fmt.Errorf("git clone %s: exit status 128", url)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		for p, content := range fx.files {
			if err := measuretest.WriteFile(dest, p, content); err != nil {
				return err
			}
		}
		return nil
	}

	if r.onBuild != nil {
		r.onBuild()
	}
	if _, err := os.Stat(c.Dir); err != nil {
		return fmt.Errorf("cargo: %w", err)
	}
	for p, content := range r.lastRepo.buildFiles {
		if err := measuretest.WriteFile(r.lastRoot, p, content); err != nil {
			return err
		}
	}
	return r.lastRepo.buildErr
}

func (r *scriptedRunner) commands(name string) int {
	n := 0
	for _, c := range r.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

type sliceSource struct {
	refs []registry.PackageRef
	err  error
}

func (s sliceSource) Fetch(ctx context.Context) ([]registry.PackageRef, error) {
	return s.refs, s.err
}

type fakeProber struct {
	infos map[string]fetcher.RepoInfo
	err   error
	calls []string
}

func (p *fakeProber) Probe(ctx context.Context, owner, repo string) (fetcher.RepoInfo, error) {
	key := owner + "/" + repo
	p.calls = append(p.calls, key)
	if p.err != nil {
		return fetcher.RepoInfo{}, p.err
	}
	if info, ok := p.infos[key]; ok {
		return info, nil
	}
	return fetcher.RepoInfo{FullName: key, Found: false}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New()
	cfg.Registry.EndPage = 2
	cfg.Workspace.Dir = filepath.Join(dir, "crates")
	cfg.Output.SourceCSV = filepath.Join(dir, "asm_data.csv")
	cfg.Output.BuildCSV = filepath.Join(dir, "asm_build_data.csv")
	cfg.Output.NoConsole = true
	return cfg
}

func newTestEngine(t *testing.T, src PackageSource, runner *scriptedRunner) *Engine {
	t.Helper()
	exec, err := executor.New(runner, executor.Options{
		Git:    "git",
		Build:  []string{"cargo", "build", "--quiet"},
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("executor.New failed: %v", err)
	}
	e := NewEngine(src, exec, measure.NewMeasurer(&measuretest.DirOracle{}, 0))
	e.Logger = discardLogger()
	return e
}

func TestHarvest_FastrandFromRegistryPage(t *testing.T) {
	// Page 1 lists 100 crates; only fastrand has a repository.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			t.Errorf("unexpected page request %q", r.URL.RawQuery)
		}
		var b strings.Builder
		b.WriteString(`{"crates":[`)
		for i := 0; i < 100; i++ {
			if i > 0 {
				b.WriteString(",")
			}
			if i == 42 {
				b.WriteString(`{"id":"fastrand","repository":"https://github.com/smol-rs/fastrand"}`)
				continue
			}
			fmt.Fprintf(&b, `{"id":"crate-%d","repository":null}`, i)
		}
		b.WriteString(`],"meta":{"total":100}}`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, b.String())
	}))
	defer srv.Close()

	client, err := registry.NewClient(srv.URL, registry.WithRateLimit(0), registry.WithHTTPClient(srv.Client()), registry.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	tests := []struct {
		name       string
		buildFiles map[string]string
		wantBuild  []measure.Report
	}{
		{
			name:       "build_without_assembly",
			buildFiles: map[string]string{"target/debug/fastrand.d": "deps"},
			wantBuild:  nil,
		},
		{
			name:       "build_with_assembly",
			buildFiles: map[string]string{"target/release/build/out/rand.s": ".globl g\ng:\n  ret\n"},
			wantBuild:  []measure.Report{{Crate: "fastrand", Language: "Assembly", Files: 1, Lines: 3, Blank: 0, Comment: 0, Code: 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			runner := &scriptedRunner{repos: map[string]repoFixture{
				"https://github.com/smol-rs/fastrand": {
					files:      map[string]string{"src/lib.rs": "pub fn f() {}\n", "src/rand.S": randAsm},
					buildFiles: tt.buildFiles,
				},
			}}
			e := newTestEngine(t, registry.Paginator{Pager: client, StartPage: 1, EndPage: 2}, runner)

			run, err := e.Harvest(context.Background(), cfg, nil)
			if err != nil {
				t.Fatalf("Harvest returned error: %v", err)
			}

			if len(run.Packages) != 100 {
				t.Fatalf("expected 100 processed packages, got %d", len(run.Packages))
			}
			wantSource := []measure.Report{{Crate: "fastrand", Language: "Assembly", Files: 1, Lines: 5, Blank: 1, Comment: 1, Code: 3}}
			if diff := cmp.Diff(wantSource, run.Source); diff != "" {
				t.Fatalf("source table mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantBuild, run.Build); diff != "" {
				t.Fatalf("build table mismatch (-want +got):\n%s", diff)
			}
			if runner.commands("git") != 1 || runner.commands("cargo") != 1 {
				t.Fatalf("expected one clone and one build, got calls %v", runner.calls)
			}
			if got := run.Packages[42]; got.Outcome != result.OutcomeMeasured || got.Location != "direct" {
				t.Fatalf("unexpected fastrand result: %+v", got)
			}
			if tally := run.Tally(); tally[result.OutcomeSkipped] != 99 {
				t.Fatalf("expected 99 skipped packages, got %v", tally)
			}
		})
	}
}

func TestHarvest_MissingMonorepoSubdirectoryYieldsNoReports(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/org/repo": {
			files: map[string]string{"crates/bar/src/x.S": randAsm, "top.s": randAsm},
		},
	}}
	src := sliceSource{refs: []registry.PackageRef{
		{ID: "foo", Repository: "https://github.com/org/repo/tree/main/crates/foo"},
		{ID: "next", Repository: "https://github.com/org/missing"},
	}}
	e := newTestEngine(t, src, runner)

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if len(run.Source) != 0 || len(run.Build) != 0 {
		t.Fatalf("expected no reports, got source=%v build=%v", run.Source, run.Build)
	}

	foo := run.Packages[0]
	if foo.Location != "subdirectory" || foo.CloneURL != "https://github.com/org/repo" || foo.InnerPath != "crates/foo" {
		t.Fatalf("unexpected location for foo: %+v", foo)
	}
	if foo.Outcome != result.OutcomeSkipped || !strings.Contains(foo.Reason, "crates/foo") {
		t.Fatalf("unexpected outcome for foo: %+v", foo)
	}
	if len(run.Packages) != 2 || run.Packages[1].Crate != "next" {
		t.Fatalf("the run must continue to the next package: %+v", run.Packages)
	}
	// foo is never built; next fails to clone and its build finds nothing.
	if runner.commands("git") != 2 || runner.commands("cargo") != 1 {
		t.Fatalf("unexpected commands: %v", runner.calls)
	}
	if next := run.Packages[1]; next.Outcome != result.OutcomePartial || !strings.HasPrefix(next.Reason, "clone failed") {
		t.Fatalf("unexpected outcome for next: %+v", next)
	}
}

func TestHarvest_ParentSegmentsNeverLeaveTheCheckout(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/org/asm":  {files: map[string]string{"src/a.s": randAsm}},
		"https://github.com/org/repo": {files: map[string]string{"README.md": "x"}},
	}}
	src := sliceSource{refs: []registry.PackageRef{
		{ID: "asmcrate", Repository: "https://github.com/org/asm"},
		{ID: "evil", Repository: "https://github.com/org/repo/tree/main/.."},
		{ID: "outside", Repository: "https://github.com/org/repo/tree/main/../../../../outside"},
	}}
	e := newTestEngine(t, src, runner)

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if len(run.Source) != 1 || run.Source[0].Crate != "asmcrate" {
		t.Fatalf("only asmcrate may own a source row, got %+v", run.Source)
	}
	for _, p := range run.Packages[1:] {
		if p.Outcome != result.OutcomeSkipped || p.HasAssembly() {
			t.Fatalf("%s must be skipped without reports: %+v", p.Crate, p)
		}
	}
	if runner.commands("git") != 1 || runner.commands("cargo") != 1 {
		t.Fatalf("only asmcrate may be cloned and built: %v", runner.calls)
	}
	for _, c := range runner.calls {
		if c.Name == "cargo" && c.Dir != cfg.CheckoutDir("asmcrate") {
			t.Fatalf("build ran outside asmcrate's checkout: %q", c.Dir)
		}
	}
}

func TestHarvest_SubdirectoryMeasuresWorkspaceBuildDir(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/rust-lang/stdarch": {
			files:      map[string]string{"crates/core_arch/src/x86/asm.s": randAsm, "README.md": "x"},
			buildFiles: map[string]string{"target/debug/build/core_arch/out/gen.s": ".globl h\nh:\n  ret\n"},
		},
	}}
	src := sliceSource{refs: []registry.PackageRef{
		{ID: "core_arch", Repository: "https://github.com/rust-lang/stdarch/tree/master/crates/core_arch"},
	}}
	e := newTestEngine(t, src, runner)

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if len(run.Source) != 1 || run.Source[0].Files != 1 || run.Source[0].Code != 3 {
		t.Fatalf("unexpected source table: %+v", run.Source)
	}
	if len(run.Build) != 1 || run.Build[0].Crate != "core_arch" || run.Build[0].Lines != 3 {
		t.Fatalf("expected workspace build output to be measured, got %+v", run.Build)
	}
	build := runner.calls[1]
	if want := filepath.Join(cfg.Workspace.Dir, "core_arch", "crates", "core_arch"); build.Dir != want {
		t.Fatalf("build ran in %q, want %q", build.Dir, want)
	}
}

func TestHarvest_UnresolvableRunsNothing(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{}
	src := sliceSource{refs: []registry.PackageRef{
		{ID: "no-repo"},
		{ID: "na", Repository: "N/A"},
		{ID: "ftp", Repository: "ftp://example.com/x/y"},
	}}
	e := newTestEngine(t, src, runner)

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no external command may run for unresolvable packages: %v", runner.calls)
	}
	for _, p := range run.Packages {
		if p.Outcome != result.OutcomeSkipped || p.Location != "unresolvable" || p.HasAssembly() {
			t.Fatalf("unexpected result: %+v", p)
		}
	}
	if run.Packages[0].Reason != "no repository URL" || run.Packages[1].Reason != "unresolvable repository URL" {
		t.Fatalf("unexpected reasons: %+v", run.Packages)
	}
}

func TestHarvest_BuildFailureIsPartial(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/BLAKE3-team/BLAKE3": {
			files:    map[string]string{"c/blake3_avx2_x86-64_unix.S": randAsm},
			buildErr: errors.New("exit status 101"),
		},
	}}
	src := sliceSource{refs: []registry.PackageRef{{ID: "blake3", Repository: "https://github.com/BLAKE3-team/BLAKE3"}}}
	e := newTestEngine(t, src, runner)

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	p := run.Packages[0]
	if p.Outcome != result.OutcomePartial || !strings.Contains(p.Reason, "exit status 101") {
		t.Fatalf("unexpected result: %+v", p)
	}
	if len(run.Source) != 1 || len(run.Build) != 0 {
		t.Fatalf("expected source row only, got source=%v build=%v", run.Source, run.Build)
	}
}

func TestHarvest_DeleteAfterRemovesCheckouts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workspace.DeleteAfter = true
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/a/one": {files: map[string]string{"a.s": randAsm}},
		"https://github.com/a/two": {files: map[string]string{"lib.rs": "fn x() {}\n"}},
	}}
	src := sliceSource{refs: []registry.PackageRef{
		{ID: "one", Repository: "https://github.com/a/one"},
		{ID: "two", Repository: "https://github.com/a/two"},
	}}
	e := newTestEngine(t, src, runner)

	var removed []string
	e.removeCheckout = func(co executor.Checkout) error {
		removed = append(removed, filepath.Base(co.Root))
		return executor.Remove(co)
	}

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"one", "two"}, removed); diff != "" {
		t.Fatalf("removed checkouts mismatch (-want +got):\n%s", diff)
	}
	for _, id := range []string{"one", "two"} {
		if _, err := os.Stat(cfg.CheckoutDir(id)); !os.IsNotExist(err) {
			t.Fatalf("checkout %s still present (err=%v)", id, err)
		}
	}
	if len(run.Source) != 1 || run.Source[0].Crate != "one" {
		t.Fatalf("measurement must happen before deletion: %+v", run.Source)
	}
}

func TestHarvest_KeepsCheckoutsByDefault(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/a/one": {files: map[string]string{"a.s": randAsm}},
	}}
	e := newTestEngine(t, sliceSource{refs: []registry.PackageRef{{ID: "one", Repository: "https://github.com/a/one"}}}, runner)
	e.removeCheckout = func(executor.Checkout) error {
		t.Fatalf("checkout removed without --delete")
		return nil
	}
	if _, err := e.Harvest(context.Background(), cfg, nil); err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if _, err := os.Stat(cfg.CheckoutDir("one")); err != nil {
		t.Fatalf("checkout must be kept: %v", err)
	}
}

func TestHarvest_CancellationStopsBeforeNextPackage(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &scriptedRunner{
		repos: map[string]repoFixture{
			"https://github.com/a/one": {files: map[string]string{"a.s": randAsm}},
			"https://github.com/a/two": {files: map[string]string{"b.s": randAsm}},
		},
		onBuild: cancel,
	}
	src := sliceSource{refs: []registry.PackageRef{
		{ID: "one", Repository: "https://github.com/a/one"},
		{ID: "two", Repository: "https://github.com/a/two"},
	}}
	e := newTestEngine(t, src, runner)

	run, err := e.Harvest(ctx, cfg, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(run.Packages) != 1 || run.Packages[0].Outcome != result.OutcomeFailed || run.Packages[0].Reason != "cancelled" {
		t.Fatalf("unexpected packages after cancel: %+v", run.Packages)
	}
	if runner.commands("git") != 1 {
		t.Fatalf("second package must not be cloned: %v", runner.calls)
	}
}

func TestHarvest_GitHubProbe(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/live/repo": {files: map[string]string{"a.s": randAsm}},
		"https://gitlab.com/g/repo":    {files: map[string]string{"a.s": randAsm}},
	}}
	src := sliceSource{refs: []registry.PackageRef{
		{ID: "gone", Repository: "https://github.com/deleted/repo"},
		{ID: "live", Repository: "https://github.com/live/repo"},
		{ID: "lab", Repository: "https://gitlab.com/g/repo"},
	}}
	prober := &fakeProber{infos: map[string]fetcher.RepoInfo{
		"live/repo": {FullName: "live/repo", Archived: true, Found: true},
	}}
	e := newTestEngine(t, src, runner)
	e.Prober = prober

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}

	if diff := cmp.Diff([]string{"deleted/repo", "live/repo"}, prober.calls); diff != "" {
		t.Fatalf("only github.com locations are probed (-want +got):\n%s", diff)
	}
	gone := run.Packages[0]
	if gone.Outcome != result.OutcomeSkipped || gone.Reason != "repository not found on GitHub" || gone.Probe == nil || gone.Probe.Found {
		t.Fatalf("unexpected result for a 404 repository: %+v", gone)
	}
	if runner.commands("git") != 2 {
		t.Fatalf("a repository missing on GitHub must not be cloned: %v", runner.calls)
	}
	if live := run.Packages[1]; live.Probe == nil || !live.Probe.Archived || live.Outcome != result.OutcomeMeasured {
		t.Fatalf("unexpected result for live: %+v", live)
	}
}

func TestHarvest_ProbeErrorStillClones(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/a/one": {files: map[string]string{"a.s": randAsm}},
	}}
	e := newTestEngine(t, sliceSource{refs: []registry.PackageRef{{ID: "one", Repository: "https://github.com/a/one"}}}, runner)
	e.Prober = &fakeProber{err: errors.New("rate limited")}

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if run.Packages[0].Outcome != result.OutcomeMeasured || run.Packages[0].Probe != nil {
		t.Fatalf("unexpected result: %+v", run.Packages[0])
	}
}

func TestHarvest_DryRunRunsNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.DryRun = true
	runner := &scriptedRunner{}
	src := sliceSource{refs: []registry.PackageRef{
		{ID: "serde", Repository: "https://github.com/serde-rs/serde"},
		{ID: "serde_derive", Repository: "https://github.com/serde-rs/serde/tree/master/serde_derive"},
	}}
	e := newTestEngine(t, src, runner)

	run, err := e.Harvest(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("dry run must not run commands: %v", runner.calls)
	}
	want := []string{
		"dry run: direct https://github.com/serde-rs/serde",
		"dry run: subdirectory https://github.com/serde-rs/serde -> serde_derive",
	}
	for i, p := range run.Packages {
		if p.Reason != want[i] {
			t.Fatalf("package %d reason = %q, want %q", i, p.Reason, want[i])
		}
	}
}

func TestHarvest_WritesPackagesToOutput(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, sliceSource{refs: []registry.PackageRef{{ID: "a"}, {ID: "b"}}}, &scriptedRunner{})

	rec := &recordingSink{}
	mgr := output.NewManager()
	_ = mgr.AddSink(rec)

	if _, err := e.Harvest(context.Background(), cfg, mgr); err != nil {
		t.Fatalf("Harvest returned error: %v", err)
	}
	if len(rec.packages) != 2 || rec.packages[0].Crate != "a" || rec.packages[1].Crate != "b" {
		t.Fatalf("unexpected streamed packages: %+v", rec.packages)
	}
}

type recordingSink struct {
	packages []result.Package
	events   []output.Event
}

func (s *recordingSink) Write(v any) error {
	switch t := v.(type) {
	case result.Package:
		s.packages = append(s.packages, t)
	case output.Event:
		s.events = append(s.events, t)
	}
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestRun_RegistryFailureWritesEmptyTables(t *testing.T) {
	cfg := testConfig(t)
	runner := &scriptedRunner{}
	e := newTestEngine(t, sliceSource{err: &registry.StatusError{Page: 1, StatusCode: http.StatusServiceUnavailable}}, runner)

	if code := e.Run(context.Background(), cfg); code != ExitPartial {
		t.Fatalf("Run() = %d, want %d", code, ExitPartial)
	}
	for _, path := range []string{cfg.Output.SourceCSV, cfg.Output.BuildCSV} {
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("table %s not written: %v", path, err)
		}
		if string(b) != ",Crate,Language,Files,Lines,Blank,Comment,Code\n" {
			t.Fatalf("expected header-only table, got %q", string(b))
		}
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no package may be processed after a registry failure")
	}
}

func TestRun_CompletedRunWritesTablesAndOutputs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Out = filepath.Join(filepath.Dir(cfg.Output.SourceCSV), "events.ndjson")
	cfg.Output.OutFormat = "ndjson"
	cfg.Output.Report = filepath.Join(filepath.Dir(cfg.Output.SourceCSV), "summary.md")
	runner := &scriptedRunner{repos: map[string]repoFixture{
		"https://github.com/smol-rs/fastrand": {files: map[string]string{"src/rand.S": randAsm}},
	}}
	e := newTestEngine(t, sliceSource{refs: []registry.PackageRef{{ID: "fastrand", Repository: "https://github.com/smol-rs/fastrand"}}}, runner)

	if code := e.Run(context.Background(), cfg); code != ExitOK {
		t.Fatalf("Run() = %d, want %d", code, ExitOK)
	}

	b, err := os.ReadFile(cfg.Output.SourceCSV)
	if err != nil {
		t.Fatalf("source table not written: %v", err)
	}
	if !strings.Contains(string(b), "0,fastrand,Assembly,1,5,1,1,3\n") {
		t.Fatalf("unexpected source table: %q", string(b))
	}

	events, err := os.ReadFile(cfg.Output.Out)
	if err != nil {
		t.Fatalf("events not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(events)), "\n")
	if len(lines) != 3 || !strings.Contains(lines[0], "run.started") || !strings.Contains(lines[1], "package.finished") || !strings.Contains(lines[2], `"source_rows":1`) {
		t.Fatalf("unexpected event stream:\n%s", events)
	}
	if !strings.Contains(lines[2], `"exit_code":0`) || strings.Contains(lines[0], "exit_code") {
		t.Fatalf("exit_code belongs on run.finished only, even when zero:\n%s", events)
	}

	report, err := os.ReadFile(cfg.Output.Report)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !strings.Contains(string(report), "| fastrand | 1 | 3 | 1 | 1 |") {
		t.Fatalf("unexpected report:\n%s", report)
	}
}

func TestRun_DryRunSkipsTables(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.DryRun = true
	e := newTestEngine(t, sliceSource{refs: []registry.PackageRef{{ID: "a", Repository: "https://github.com/a/a"}}}, &scriptedRunner{})

	if code := e.Run(context.Background(), cfg); code != ExitOK {
		t.Fatalf("Run() = %d, want %d", code, ExitOK)
	}
	if _, err := os.Stat(cfg.Output.SourceCSV); !os.IsNotExist(err) {
		t.Fatalf("dry run must not write tables (err=%v)", err)
	}
}

func TestRun_TableWriteFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, sliceSource{}, &scriptedRunner{})
	e.writeTable = func(string, []measure.Report) error { return errors.New("read-only file system") }

	if code := e.Run(context.Background(), cfg); code != ExitFatal {
		t.Fatalf("Run() = %d, want %d", code, ExitFatal)
	}
}

func TestRun_BadOutputPathIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Out = filepath.Join(filepath.Dir(cfg.Output.SourceCSV), "events.txt")
	e := newTestEngine(t, sliceSource{}, &scriptedRunner{})

	if code := e.Run(context.Background(), cfg); code != ExitFatal {
		t.Fatalf("Run() = %d, want %d", code, ExitFatal)
	}
}

func TestHarvest_RequiresComponents(t *testing.T) {
	e := &Engine{Logger: discardLogger()}
	if _, err := e.Harvest(context.Background(), config.New(), nil); err == nil {
		t.Fatalf("expected error for missing components")
	}
}

func TestExitCodeForRun(t *testing.T) {
	tests := []struct {
		fatal, partial bool
		want           int
	}{
		{false, false, ExitOK},
		{false, true, ExitPartial},
		{true, false, ExitFatal},
		{true, true, ExitFatal},
	}
	for _, tt := range tests {
		if got := exitCodeForRun(tt.fatal, tt.partial); got != tt.want {
			t.Fatalf("exitCodeForRun(%v, %v) = %d, want %d", tt.fatal, tt.partial, got, tt.want)
		}
	}
}
