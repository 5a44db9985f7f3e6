// Package measure counts assembly lines in a directory tree using an external
// line-counting tool.
package measure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"asmharvest/internal/executor"
)

// DefaultLanguage is the language row the measurer looks for.
const DefaultLanguage = "Assembly"

// Report is the per-package, per-scope assembly line count.
type Report struct {
	Crate    string `json:"crate"`
	Language string `json:"language"`
	Files    int    `json:"files"`
	Lines    int    `json:"lines"`
	Blank    int    `json:"blank"`
	Comment  int    `json:"comment"`
	Code     int    `json:"code"`
}

// Oracle runs the line counter against dir and returns its raw output.
type Oracle interface {
	Count(ctx context.Context, dir string) ([]byte, error)
}

// LocOracle invokes a `loc`-compatible executable through an executor.Runner.
type LocOracle struct {
	Path   string
	Runner executor.Runner
}

func (o LocOracle) Count(ctx context.Context, dir string) ([]byte, error) {
	if o.Path == "" {
		return nil, errors.New("loc oracle: executable path is empty")
	}
	r := o.Runner
	if r == nil {
		r = executor.ExecRunner{}
	}
	var buf bytes.Buffer
	if err := r.Run(ctx, executor.Command{Dir: dir, Name: o.Path, Args: []string{dir}, Stdout: &buf}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type Measurer struct {
	oracle   Oracle
	language string
	timeout  time.Duration
}

func NewMeasurer(oracle Oracle, timeout time.Duration) *Measurer {
	return &Measurer{oracle: oracle, language: DefaultLanguage, timeout: timeout}
}

// Measure returns the assembly report for dir. The boolean is false when
// nothing was detected, including when dir does not exist; a zero-valued
// report is never returned as present.
func (m *Measurer) Measure(ctx context.Context, crate, dir string) (Report, bool, error) {
	if m == nil || m.oracle == nil {
		return Report{}, false, errors.New("measurer: oracle is nil")
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Report{}, false, nil
	}

	mctx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	out, err := m.oracle.Count(mctx, dir)
	if err != nil {
		return Report{}, false, fmt.Errorf("count lines in %s: %w", dir, err)
	}

	row, ok := FindLanguage(ParseRows(out), m.language)
	if !ok {
		return Report{}, false, nil
	}
	return Report{
		Crate:    crate,
		Language: row.Language,
		Files:    row.Files,
		Lines:    row.Lines,
		Blank:    row.Blank,
		Comment:  row.Comment,
		Code:     row.Code,
	}, true, nil
}
