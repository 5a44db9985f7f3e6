package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink is an EmitSink whose destination is a file it owns.
type FileSink struct {
	*EmitSink
	file *os.File
}

// NewFileSink creates path (and its parents). An empty format is inferred
// from the extension: .json aggregates, .ndjson and .jsonl stream.
func NewFileSink(path string, format string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("output path required")
	}
	if format == "" {
		var err error
		if format, err = formatFromExt(path); err != nil {
			return nil, err
		}
	}
	if !validFormat(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	f, err := createWithParents(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	es, err := NewEmitSink(f, format)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &FileSink{EmitSink: es, file: f}, nil
}

// Close flushes the aggregated array (json) and closes the file.
func (s *FileSink) Close() error {
	return errors.Join(s.EmitSink.Close(), s.file.Close())
}

func formatFromExt(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return "json", nil
	case ".ndjson", ".jsonl":
		return "ndjson", nil
	default:
		return "", fmt.Errorf("cannot infer output format from file extension %q", ext)
	}
}

func validFormat(format string) bool {
	return format == "json" || format == "ndjson"
}

func createWithParents(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}
