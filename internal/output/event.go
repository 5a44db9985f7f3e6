package output

import (
	"encoding/json"
	"io"

	"asmharvest/internal/result"
)

const (
	EventRunStarted      = "run.started"
	EventPackageFinished = "package.finished"
	EventRunFinished     = "run.finished"
)

// Event is a lifecycle record for NDJSON streaming output.
//
// Streaming sinks emit one JSON object per line: run.started, then one
// package.finished per processed package, then run.finished. JSON aggregate
// mode writes only the result.Package values as an array.
type Event struct {
	Type  string `json:"type"`
	Crate string `json:"crate,omitempty"`
	*result.Package

	// run.started
	Settings map[string]string `json:"settings,omitempty"`

	// run.finished
	*RunSummary
}

// RunSummary closes a run. Its fields are always encoded, zero values
// included.
type RunSummary struct {
	Packages   int `json:"packages"`
	SourceRows int `json:"source_rows"`
	BuildRows  int `json:"build_rows"`
	ExitCode   int `json:"exit_code"`
}

func eventFromPackage(p result.Package) Event {
	return Event{Type: EventPackageFinished, Crate: p.Crate, Package: &p}
}

type flusher interface {
	Flush() error
}

// encodeLine writes v as one JSON line and flushes w when it buffers.
func encodeLine(w io.Writer, v any) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return err
	}
	return flushIfPossible(w)
}

// encodeStream handles the ndjson case shared by the streaming sinks.
func encodeStream(w io.Writer, v any) error {
	switch t := v.(type) {
	case Event:
		return encodeLine(w, t)
	case result.Package:
		return encodeLine(w, eventFromPackage(t))
	default:
		return nil
	}
}

func encodeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return flushIfPossible(w)
}

func flushIfPossible(w io.Writer) error {
	f, ok := w.(flusher)
	if !ok {
		return nil
	}
	return f.Flush()
}
