// Package mock implements counters.Facility as a deterministic test
// double: each call to Stop or Accumulate advances every counter in the
// set by a fixed per-event step, so tests can assert exact values instead
// of ranges.
package mock

import (
	"fmt"
	"sync"

	"github.com/anupzope-go/perfoscope/internal/counters"
	"github.com/anupzope-go/perfoscope/internal/domain"
)

type eventSet struct {
	events  []counters.EventCode
	running bool
}

// Facility is the deterministic fixed-step counter double.
type Facility struct {
	mu        sync.Mutex
	steps     map[counters.EventCode]int64
	names     map[string]counters.EventCode
	nextCode  counters.EventCode
	sets      map[counters.Handle]*eventSet
	nextSet   counters.Handle
	Unknown   map[string]bool // names that should resolve to ErrUnknownEvent
}

// New returns a mock facility. Each event's per-Stop/Accumulate increment
// is its registration order through NameToEvent, starting at 1.
func New() *Facility {
	return &Facility{
		steps:   make(map[counters.EventCode]int64),
		names:   make(map[string]counters.EventCode),
		sets:    make(map[counters.Handle]*eventSet),
		Unknown: make(map[string]bool),
	}
}

func (f *Facility) LibraryInit() error      { return nil }
func (f *Facility) ThreadRegister() error   { return nil }
func (f *Facility) ThreadUnregister() error { return nil }

func (f *Facility) NameToEvent(name string) (counters.EventCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unknown[name] {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, name)
	}
	if code, ok := f.names[name]; ok {
		return code, nil
	}
	f.nextCode++
	code := f.nextCode
	f.names[name] = code
	f.steps[code] = int64(code)
	return code, nil
}

func (f *Facility) NewEventSet() (counters.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSet++
	f.sets[f.nextSet] = &eventSet{}
	return f.nextSet, nil
}

func (f *Facility) AddEvent(h counters.Handle, ev counters.EventCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[h]
	if !ok {
		return fmt.Errorf("%w: event set %d", domain.ErrCounterRuntimeError, h)
	}
	set.events = append(set.events, ev)
	return nil
}

func (f *Facility) Start(h counters.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[h]
	if !ok {
		return fmt.Errorf("%w: event set %d", domain.ErrCounterRuntimeError, h)
	}
	set.running = true
	return nil
}

func (f *Facility) Stop(h counters.Handle, out []int64) error {
	if err := f.Accumulate(h, out); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[h]
	if !ok {
		return fmt.Errorf("%w: event set %d", domain.ErrCounterRuntimeError, h)
	}
	set.running = false
	return nil
}

func (f *Facility) Reset(h counters.Handle) error { return nil }

func (f *Facility) Accumulate(h counters.Handle, out []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[h]
	if !ok {
		return fmt.Errorf("%w: event set %d", domain.ErrCounterRuntimeError, h)
	}
	if len(out) != len(set.events) {
		return fmt.Errorf("%w: output slice length %d, want %d", domain.ErrCounterRuntimeError, len(out), len(set.events))
	}
	if !set.running {
		return nil
	}
	for i, ev := range set.events {
		out[i] += f.steps[ev]
	}
	return nil
}

func (f *Facility) CleanupEventSet(h counters.Handle) error { return nil }

func (f *Facility) DestroyEventSet(h counters.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sets, h)
	return nil
}
