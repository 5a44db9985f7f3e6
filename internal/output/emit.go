package output

import (
	"fmt"
	"io"
	"sync"

	"asmharvest/internal/result"
)

// EmitSink writes an additional structured stream, usually to stdout.
//
// Formats:
//   - json: aggregates package results and writes a single JSON array on Close
//   - ndjson: streams Event values (one JSON object per line)
type EmitSink struct {
	writer   io.Writer
	format   string // "json" | "ndjson"
	mu       sync.Mutex
	packages []result.Package
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	if !validFormat(format) {
		return nil, fmt.Errorf("unsupported emit format: %s", format)
	}
	return &EmitSink{writer: w, format: format, packages: []result.Package{}}, nil
}

func (s *EmitSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "ndjson" {
		return encodeStream(s.writer, v)
	}
	if p, ok := v.(result.Package); ok {
		s.packages = append(s.packages, p)
	}
	return nil
}

func (s *EmitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		return encodeIndented(s.writer, s.packages)
	}
	return nil
}
