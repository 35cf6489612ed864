// Package counters defines the abstract hardware-counter facility the
// measurement state machine drives. Three interchangeable implementations
// exist: perfevent (real, Linux perf_event_open), noop (hardware-counter
// measurement OFF), and mock (deterministic, for tests).
package counters

// EventCode is an opaque, facility-resolved identifier for a named event.
type EventCode int64

// Handle is an opaque event-set handle; its sole implementation detail is
// the concrete Facility.
type Handle int64

// Facility is the capability set required from the underlying hardware
// counter library, lifted directly from the design document's table.
type Facility interface {
	// LibraryInit is process-wide, one-shot, and idempotent.
	LibraryInit() error

	// ThreadRegister must be called from the thread that will read counters.
	ThreadRegister() error

	// ThreadUnregister releases per-thread facility state.
	ThreadUnregister() error

	// NameToEvent resolves a textual event name to a facility event code.
	NameToEvent(name string) (EventCode, error)

	// NewEventSet returns a fresh, empty container for events.
	NewEventSet() (Handle, error)

	// AddEvent attaches ev to h, in the order the caller adds them.
	AddEvent(h Handle, ev EventCode) error

	// Start begins counting on h.
	Start(h Handle) error

	// Stop halts counting on h and adds deltas since the last start-or-accumulate into out.
	Stop(h Handle, out []int64) error

	// Reset zeroes h's internal deltas without stopping it.
	Reset(h Handle) error

	// Accumulate adds deltas since the last start-or-accumulate into out,
	// leaving h running.
	Accumulate(h Handle, out []int64) error

	// CleanupEventSet releases internal counter resources for h.
	CleanupEventSet(h Handle) error

	// DestroyEventSet releases h itself. h is not valid after this call.
	DestroyEventSet(h Handle) error
}
