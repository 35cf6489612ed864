// Package noop implements counters.Facility with hardware-counter
// measurement turned off: every operation succeeds and produces zeroed
// output, so a profile built on it still exercises wall-clock timing and
// persistence without touching perf_event_open.
package noop

import "github.com/anupzope-go/perfoscope/internal/counters"

// Facility is the hardware-counter-off implementation.
type Facility struct {
	nextCode counters.EventCode
	nextSet  counters.Handle
	widths   map[counters.Handle]int
}

// New returns a ready-to-use no-op facility.
func New() *Facility {
	return &Facility{widths: make(map[counters.Handle]int)}
}

func (f *Facility) LibraryInit() error      { return nil }
func (f *Facility) ThreadRegister() error   { return nil }
func (f *Facility) ThreadUnregister() error { return nil }

func (f *Facility) NameToEvent(name string) (counters.EventCode, error) {
	f.nextCode++
	return f.nextCode, nil
}

func (f *Facility) NewEventSet() (counters.Handle, error) {
	f.nextSet++
	f.widths[f.nextSet] = 0
	return f.nextSet, nil
}

func (f *Facility) AddEvent(h counters.Handle, ev counters.EventCode) error {
	f.widths[h]++
	return nil
}

func (f *Facility) Start(h counters.Handle) error { return nil }

func (f *Facility) Stop(h counters.Handle, out []int64) error {
	zero(out)
	return nil
}

func (f *Facility) Reset(h counters.Handle) error { return nil }

func (f *Facility) Accumulate(h counters.Handle, out []int64) error {
	zero(out)
	return nil
}

func (f *Facility) CleanupEventSet(h counters.Handle) error { return nil }

func (f *Facility) DestroyEventSet(h counters.Handle) error {
	delete(f.widths, h)
	return nil
}

func zero(out []int64) {
	for i := range out {
		out[i] = 0
	}
}
