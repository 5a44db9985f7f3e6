// Package result holds the per-package and per-run harvest records shared by
// the engine and the output sinks.
package result

import (
	"time"

	"asmharvest/internal/fetcher"
	"asmharvest/internal/measure"
)

type Outcome string

const (
	// OutcomeMeasured: checkout and build succeeded and both scopes were measured.
	OutcomeMeasured Outcome = "measured"
	// OutcomePartial: source measured, but the clone or build failed.
	OutcomePartial Outcome = "partial"
	// OutcomeSkipped: nothing to measure (no usable repository location).
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed: measurement itself failed.
	OutcomeFailed Outcome = "failed"
)

// Package is the record of processing one registry package.
type Package struct {
	Crate      string  `json:"crate"`
	Repository string  `json:"repository,omitempty"`
	Location   string  `json:"location"`
	CloneURL   string  `json:"clone_url,omitempty"`
	InnerPath  string  `json:"inner_path,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`

	Source *measure.Report   `json:"source,omitempty"`
	Build  *measure.Report   `json:"build,omitempty"`
	Probe  *fetcher.RepoInfo `json:"probe,omitempty"`

	Duration time.Duration `json:"duration_ns,omitempty"`
}

// HasAssembly reports whether either scope produced a report.
func (p Package) HasAssembly() bool {
	return p.Source != nil || p.Build != nil
}

// Run is the whole harvest: the two report tables in processing order plus
// the per-package log.
type Run struct {
	Source   []measure.Report `json:"source"`
	Build    []measure.Report `json:"build"`
	Packages []Package        `json:"packages"`
}

// Add appends p and any reports it carries.
func (r *Run) Add(p Package) {
	r.Packages = append(r.Packages, p)
	if p.Source != nil {
		r.Source = append(r.Source, *p.Source)
	}
	if p.Build != nil {
		r.Build = append(r.Build, *p.Build)
	}
}

// Tally counts packages per outcome.
func (r *Run) Tally() map[Outcome]int {
	out := make(map[Outcome]int, 4)
	for _, p := range r.Packages {
		out[p.Outcome]++
	}
	return out
}

func Skipped(crate, repository, reason string) Package {
	return Package{Crate: crate, Repository: repository, Location: "unresolvable", Outcome: OutcomeSkipped, Reason: reason}
}
