package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"asmharvest/internal/measure"
	"asmharvest/internal/result"
)

// ReportSink renders a Markdown summary of the harvest on Close.
type ReportSink struct {
	path         string
	file         *os.File
	mu           sync.Mutex
	packages     []result.Package
	settings     map[string]string
	exitCode     int
	haveExitCode bool
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := createWithParents(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case result.Package:
		s.packages = append(s.packages, t)
	case Event:
		switch t.Type {
		case EventRunStarted:
			s.settings = t.Settings
		case EventRunFinished:
			if t.RunSummary != nil {
				s.exitCode = t.ExitCode
				s.haveExitCode = true
			}
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var run result.Run
	for _, p := range s.packages {
		run.Add(p)
	}

	var b strings.Builder
	b.WriteString("# Assembly Harvest Report\n\n")

	// --- Summary ---
	tally := run.Tally()
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Packages processed: %d\n", len(run.Packages))
	fmt.Fprintf(&b, "- Outcomes: %d measured, %d partial, %d skipped, %d failed\n",
		tally[result.OutcomeMeasured], tally[result.OutcomePartial], tally[result.OutcomeSkipped], tally[result.OutcomeFailed])
	fmt.Fprintf(&b, "- Crates with assembly in source: %d\n", len(run.Source))
	fmt.Fprintf(&b, "- Crates with assembly in build output: %d\n", len(run.Build))
	if s.haveExitCode {
		fmt.Fprintf(&b, "- Exit code: %d\n", s.exitCode)
	}
	b.WriteString("\n")

	writeTopTable(&b, "Top crates by assembly code (source)", run.Source, 10)
	writeTopTable(&b, "Top crates by assembly code (build output)", run.Build, 10)

	// --- Build-only assembly ---
	b.WriteString("## Assembly only in build output\n\n")
	buildOnly := buildOnlyCrates(run.Source, run.Build)
	if len(buildOnly) == 0 {
		b.WriteString("- None\n\n")
	} else {
		fmt.Fprintf(&b, "- %s\n\n", formatCrateList(buildOnly, 10))
	}

	// --- Not fully measured ---
	b.WriteString("## Packages not fully measured\n\n")
	byReason := make(map[string][]string)
	for _, p := range run.Packages {
		if p.Outcome == result.OutcomeMeasured {
			continue
		}
		reason := normalizeReason(p.Reason)
		byReason[reason] = append(byReason[reason], p.Crate)
	}
	if len(byReason) == 0 {
		b.WriteString("- None\n\n")
	} else {
		reasons := make([]string, 0, len(byReason))
		for r := range byReason {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool {
			if len(byReason[reasons[i]]) != len(byReason[reasons[j]]) {
				return len(byReason[reasons[i]]) > len(byReason[reasons[j]])
			}
			return reasons[i] < reasons[j]
		})
		for _, r := range reasons {
			fmt.Fprintf(&b, "- **%s**: %s\n", r, formatCrateList(byReason[r], 5))
		}
		b.WriteString("\n")
	}

	// --- Settings ---
	if len(s.settings) > 0 {
		b.WriteString("## Settings\n\n")
		keys := make([]string, 0, len(s.settings))
		for k := range s.settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: `%s`\n", k, s.settings[k])
		}
		b.WriteString("\n")
	}

	if _, err := s.file.WriteString(b.String()); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func writeTopTable(b *strings.Builder, title string, reports []measure.Report, n int) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(reports) == 0 {
		b.WriteString("No assembly found.\n\n")
		return
	}
	b.WriteString("| Crate | Files | Code | Comment | Blank |\n")
	b.WriteString("| --- | ---: | ---: | ---: | ---: |\n")
	for _, r := range topByCode(reports, n) {
		fmt.Fprintf(b, "| %s | %d | %d | %d | %d |\n", r.Crate, r.Files, r.Code, r.Comment, r.Blank)
	}
	b.WriteString("\n")
}

// topByCode returns the n reports with the most code lines, ties broken by
// crate id. The input is not modified.
func topByCode(reports []measure.Report, n int) []measure.Report {
	all := append([]measure.Report(nil), reports...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Code != all[j].Code {
			return all[i].Code > all[j].Code
		}
		return all[i].Crate < all[j].Crate
	})
	if len(all) > n {
		return all[:n]
	}
	return all
}

func buildOnlyCrates(source, build []measure.Report) []string {
	seen := make(map[string]struct{}, len(source))
	for _, r := range source {
		seen[r.Crate] = struct{}{}
	}
	var out []string
	for _, r := range build {
		if _, ok := seen[r.Crate]; !ok {
			out = append(out, r.Crate)
		}
	}
	sort.Strings(out)
	return out
}

// normalizeReason collapses whitespace and truncates long reasons so similar
// failures group together.
func normalizeReason(reason string) string {
	s := strings.Join(strings.Fields(reason), " ")
	if s == "" {
		return "unknown"
	}
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}

func formatCrateList(crates []string, max int) string {
	if len(crates) == 0 {
		return ""
	}
	if len(crates) <= max {
		return fmt.Sprintf("%d crates (%s)", len(crates), strings.Join(crates, ", "))
	}
	return fmt.Sprintf("%d crates (%s, +%d more)", len(crates), strings.Join(crates[:max], ", "), len(crates)-max)
}
