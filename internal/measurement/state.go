// Package measurement implements the per-thread measurement state
// machine: one State per OS thread that needs to time and count hardware
// events across a fixed set of named categories.
package measurement

import (
	"fmt"
	"sync"

	"github.com/anupzope-go/perfoscope/internal/clock"
	"github.com/anupzope-go/perfoscope/internal/counters"
	"github.com/anupzope-go/perfoscope/internal/domain"
)

// Phase is one node of the state machine a State walks through.
type Phase int

const (
	PhaseUninitialised Phase = iota
	PhaseReady
	PhaseRunning
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialised:
		return "uninitialised"
	case PhaseReady:
		return "ready"
	case PhaseRunning:
		return "running"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// State is the per-thread measurement state machine: Uninitialised until
// Init, then alternating Ready/Running as Start/Stop/Accumulate are
// called, until Destroy moves it to Destroyed for good.
type State struct {
	mu       sync.Mutex
	spec     domain.ProfileSpec
	threadID int
	facility counters.Facility

	phase   Phase
	handle  counters.Handle
	codes   []counters.EventCode
	accum   []domain.CategoryAccumulator
	startTS clock.Timestamp
}

// New builds a State for threadID against tmpl. threadID must be >= 0;
// the original library treated a negative thread id as a caller bug
// rather than a degenerate default.
func New(tmpl domain.ProfileSpec, threadID int, facility counters.Facility) (*State, error) {
	if threadID < 0 {
		return nil, domain.ErrInvalidThreadID
	}
	spec := tmpl.Clone()
	accum := make([]domain.CategoryAccumulator, len(spec.Categories))
	for i, name := range spec.Categories {
		accum[i] = domain.NewCategoryAccumulator(name, len(spec.Events))
	}
	return &State{
		spec:     spec,
		threadID: threadID,
		facility: facility,
		accum:    accum,
	}, nil
}

// ThreadID returns the OS thread id this State was constructed for.
func (s *State) ThreadID() int { return s.threadID }

// Phase reports the current state machine node.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Init registers the calling thread with the counter facility, resolves
// every event name in the profile, and builds the event set. It must run
// on the OS thread that will later call Start/Stop/Accumulate, since
// ThreadRegister and the resulting event set are thread-affinitive for
// the real perf_event facility.
func (s *State) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseUninitialised {
		return s.transitionError("Init", PhaseUninitialised)
	}

	if err := s.facility.ThreadRegister(); err != nil {
		return fmt.Errorf("%w: thread register: %v", domain.ErrEnvironmentUnavailable, err)
	}

	h, err := s.facility.NewEventSet()
	if err != nil {
		return fmt.Errorf("%w: new event set: %v", domain.ErrCounterRuntimeError, err)
	}

	codes := make([]counters.EventCode, 0, len(s.spec.Events))
	for _, name := range s.spec.Events {
		code, err := s.facility.NameToEvent(name)
		if err != nil {
			return err
		}
		if err := s.facility.AddEvent(h, code); err != nil {
			return err
		}
		codes = append(codes, code)
	}

	s.handle = h
	s.codes = codes
	s.phase = PhaseReady
	return nil
}

// Start begins counting and starts the wall-clock baseline for
// subsequent Stop/Accumulate calls.
func (s *State) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseReady {
		return s.transitionError("Start", PhaseReady)
	}
	ts, err := clock.Now()
	if err != nil {
		return fmt.Errorf("%w: clock: %v", domain.ErrEnvironmentUnavailable, err)
	}
	if err := s.facility.Start(s.handle); err != nil {
		return err
	}
	s.startTS = ts
	s.phase = PhaseRunning
	return nil
}

// Prime runs the original library's double start;stop;start priming
// sequence: an initial start/stop pair whose values are discarded warms
// the counter hardware up before the category it leaves Running is
// actually measured.
func (s *State) Prime() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseReady {
		return s.transitionError("Prime", PhaseReady)
	}

	discard := make([]int64, len(s.codes))
	if err := s.facility.Start(s.handle); err != nil {
		return err
	}
	if err := s.facility.Stop(s.handle, discard); err != nil {
		return err
	}
	if err := s.facility.Start(s.handle); err != nil {
		return err
	}
	ts, err := clock.Now()
	if err != nil {
		return fmt.Errorf("%w: clock: %v", domain.ErrEnvironmentUnavailable, err)
	}
	s.startTS = ts
	s.phase = PhaseRunning
	return nil
}

// Stop halts counting, folds the elapsed deltas into category ci's
// accumulator, and returns to Ready.
func (s *State) Stop(ci int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseRunning {
		return s.transitionError("Stop", PhaseRunning)
	}
	if err := s.checkCategory(ci); err != nil {
		return err
	}

	deltas := make([]int64, len(s.codes))
	if err := s.facility.Stop(s.handle, deltas); err != nil {
		return err
	}
	end, err := clock.Now()
	if err != nil {
		return fmt.Errorf("%w: clock: %v", domain.ErrEnvironmentUnavailable, err)
	}

	s.fold(ci, deltas, clock.Delta(end, s.startTS))
	s.phase = PhaseReady
	return nil
}

// Accumulate folds deltas into category ci's accumulator without
// stopping the event set, and rebases the wall-clock baseline so the
// next Stop or Accumulate call only measures the interval since this
// call.
func (s *State) Accumulate(ci int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseRunning {
		return s.transitionError("Accumulate", PhaseRunning)
	}
	if err := s.checkCategory(ci); err != nil {
		return err
	}

	deltas := make([]int64, len(s.codes))
	if err := s.facility.Accumulate(s.handle, deltas); err != nil {
		return err
	}
	now, err := clock.Now()
	if err != nil {
		return fmt.Errorf("%w: clock: %v", domain.ErrEnvironmentUnavailable, err)
	}

	s.fold(ci, deltas, clock.Delta(now, s.startTS))
	s.startTS = now
	return nil
}

func (s *State) fold(ci int, deltas []int64, elapsed float64) {
	acc := &s.accum[ci]
	acc.RealTimeSeconds += elapsed
	for i, d := range deltas {
		acc.CounterValues[i] += d
	}
}

// Reset zeroes the underlying event set's internal deltas without
// stopping it. It does not touch category accumulators; use
// ResetAccumulators for that.
func (s *State) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseUninitialised || s.phase == PhaseDestroyed {
		return s.transitionError("Reset", PhaseReady)
	}
	return s.facility.Reset(s.handle)
}

// ResetAccumulators zeroes the named categories' accumulators, or every
// category if indices is empty.
func (s *State) ResetAccumulators(indices ...int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(indices) == 0 {
		for i := range s.accum {
			s.accum[i].Reset()
		}
		return nil
	}
	for _, ci := range indices {
		if err := s.checkCategory(ci); err != nil {
			return err
		}
		s.accum[ci].Reset()
	}
	return nil
}

// Accumulators returns a defensive copy of the category accumulators, in
// ProfileSpec.Categories order, ready to be handed to the store layer.
func (s *State) Accumulators() []domain.CategoryAccumulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CategoryAccumulator, len(s.accum))
	for i, a := range s.accum {
		out[i] = domain.CategoryAccumulator{
			Name:            a.Name,
			RealTimeSeconds: a.RealTimeSeconds,
			CounterValues:   append([]int64(nil), a.CounterValues...),
		}
	}
	return out
}

// Destroy releases the event set and unregisters the thread. A State is
// not usable after Destroy returns, successfully or not.
func (s *State) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseDestroyed {
		return nil
	}
	if s.phase == PhaseUninitialised {
		s.phase = PhaseDestroyed
		return nil
	}

	var errs []error
	if err := s.facility.CleanupEventSet(s.handle); err != nil {
		errs = append(errs, err)
	}
	if err := s.facility.DestroyEventSet(s.handle); err != nil {
		errs = append(errs, err)
	}
	if err := s.facility.ThreadUnregister(); err != nil {
		errs = append(errs, err)
	}
	s.phase = PhaseDestroyed
	if len(errs) > 0 {
		return fmt.Errorf("%w: destroy: %v", domain.ErrCounterRuntimeError, errs[0])
	}
	return nil
}

func (s *State) checkCategory(ci int) error {
	if ci < 0 || ci >= len(s.accum) {
		return fmt.Errorf("%w: category index %d out of range [0,%d)", domain.ErrSchemaInconsistent, ci, len(s.accum))
	}
	return nil
}

func (s *State) transitionError(op string, want Phase) error {
	return fmt.Errorf("%w: %s requires phase %s, have %s", domain.ErrNotInitialised, op, want, s.phase)
}
