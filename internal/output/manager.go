package output

import (
	"errors"
	"fmt"
)

// Sink receives harvest records (result.Package values and lifecycle Events).
type Sink interface {
	Write(v any) error
	Close() error
}

// Manager fans every record out to the registered sinks.
//
// A sink whose Write fails is muted for the rest of the run. Muted sinks are
// still closed.
type Manager struct {
	sinks []Sink
	muted []bool
}

func NewManager(sinks ...Sink) *Manager {
	m := &Manager{}
	for _, s := range sinks {
		_ = m.AddSink(s)
	}
	return m
}

func (m *Manager) AddSink(s Sink) error {
	switch {
	case m == nil:
		return errors.New("output manager is nil")
	case s == nil:
		return errors.New("sink must not be nil")
	}
	m.sinks = append(m.sinks, s)
	m.muted = append(m.muted, false)
	return nil
}

// Len returns the number of registered sinks, muted ones included.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return len(m.sinks)
}

// Write delivers v to every sink that has not failed yet and joins the new
// failures.
func (m *Manager) Write(v any) error {
	if m == nil {
		return errors.New("output manager is nil")
	}
	var errs []error
	for i, s := range m.sinks {
		if m.muted[i] {
			continue
		}
		if err := s.Write(v); err != nil {
			m.muted[i] = true
			errs = append(errs, fmt.Errorf("write %T (sink muted): %w", s, err))
		}
	}
	return joinSinkErrors("writing to", errs)
}

func (m *Manager) Close() error {
	if m == nil {
		return errors.New("output manager is nil")
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", s, err))
		}
	}
	return joinSinkErrors("closing", errs)
}

func joinSinkErrors(op string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("errors %s sinks: %w", op, errors.Join(errs...))
}
