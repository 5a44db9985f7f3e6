package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"asmharvest/internal/measure"
	"asmharvest/internal/result"
)

// ConsoleSink prints human progress ("text") or streams lifecycle events
// ("ndjson").
type ConsoleSink struct {
	writer io.Writer
	format string // "text", "ndjson"
	mu     sync.Mutex
}

var outcomeColors = map[result.Outcome]*color.Color{
	result.OutcomeMeasured: color.New(color.FgGreen, color.Bold),
	result.OutcomePartial:  color.New(color.FgYellow, color.Bold),
	result.OutcomeSkipped:  color.New(color.FgHiBlack),
	result.OutcomeFailed:   color.New(color.FgRed, color.Bold),
}

func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &ConsoleSink{writer: w, format: format}
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "ndjson":
		return encodeStream(s.writer, v)
	case "text":
		var line string
		switch t := v.(type) {
		case result.Package:
			line = formatPackageLine(t)
		case Event:
			if t.Type != EventRunFinished || t.RunSummary == nil {
				return nil
			}
			line = fmt.Sprintf("done: %d packages, %d source rows, %d build rows", t.Packages, t.SourceRows, t.BuildRows)
		default:
			return nil
		}
		if _, err := fmt.Fprintln(s.writer, line); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}

func formatPackageLine(p result.Package) string {
	tag := "[" + strings.ToUpper(string(p.Outcome)) + "]"
	if c, ok := outcomeColors[p.Outcome]; ok {
		tag = c.Sprint(tag)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", tag, p.Crate)
	if p.Source != nil {
		b.WriteString("  source " + formatCounts(*p.Source))
	}
	if p.Build != nil {
		b.WriteString("  build " + formatCounts(*p.Build))
	}
	if p.Reason != "" {
		b.WriteString(" - " + p.Reason)
	}
	return b.String()
}

func formatCounts(r measure.Report) string {
	return fmt.Sprintf("%d files/%d code", r.Files, r.Code)
}
