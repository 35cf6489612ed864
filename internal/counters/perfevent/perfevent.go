// Package perfevent implements counters.Facility on top of the Linux
// perf_event_open(2) syscall, using golang.org/x/sys/unix the same way
// the runtime's own perf-counter helpers do: one group leader per event
// set, siblings opened against the leader's file descriptor, and ioctls
// for enable/disable/reset.
package perfevent

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/anupzope-go/perfoscope/internal/domain"

	"github.com/anupzope-go/perfoscope/internal/counters"
)

// presetEvent describes one entry of the PAPI-style preset table.
type presetEvent struct {
	typ    uint32
	config uint64
}

// presets mirrors the handful of PAPI preset names the original library
// exposed. Names absent from this table may still be used via the raw
// "perf:<type>:<config>" escape handled in NameToEvent.
var presets = map[string]presetEvent{
	"PAPI_TOT_CYC": {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES},
	"PAPI_TOT_INS": {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS},
	"PAPI_L1_DCM":  {unix.PERF_TYPE_HW_CACHE, hwCacheConfig(unix.PERF_COUNT_HW_CACHE_L1D, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS)},
	"PAPI_L2_TCM":  {unix.PERF_TYPE_HW_CACHE, hwCacheConfig(unix.PERF_COUNT_HW_CACHE_LL, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS)},
	"PAPI_BR_INS":  {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS},
	"PAPI_BR_MSP":  {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES},
	"PAPI_CA_SNP":  {unix.PERF_TYPE_HW_CACHE, hwCacheConfig(unix.PERF_COUNT_HW_CACHE_NODE, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS)},
}

func hwCacheConfig(cache, op, result uint64) uint64 {
	return cache | (op << 8) | (result << 16)
}

// eventSet is one group of perf file descriptors: fds[0] is the group
// leader (opened with GroupFd -1), fds[1:] are siblings opened against it.
type eventSet struct {
	fds    []*os.File
	events []counters.EventCode
}

// resolved pairs a facility-resolved EventCode with the attrs needed to
// reopen it against a group leader.
type resolved struct {
	typ    uint32
	config uint64
}

// Facility is the real, perf_event_open-backed hardware counter facility.
// A single Facility instance is safe to share across goroutines, but each
// goroutine that calls ThreadRegister must keep affinity to that OS thread
// for the lifetime of any event set it creates, since perf file
// descriptors are thread-affinitive.
type Facility struct {
	mu        sync.Mutex
	codes     map[counters.EventCode]resolved
	nextCode  counters.EventCode
	nameCodes map[string]counters.EventCode
	sets      map[counters.Handle]*eventSet
	nextSet   counters.Handle
}

// New returns an unready Facility; call LibraryInit before use.
func New() *Facility {
	return &Facility{
		codes:     make(map[counters.EventCode]resolved),
		nameCodes: make(map[string]counters.EventCode),
		sets:      make(map[counters.Handle]*eventSet),
	}
}

func (f *Facility) LibraryInit() error { return nil }

// ThreadRegister locks the calling goroutine to its OS thread, required
// because every perf fd opened afterwards is scoped to that thread.
func (f *Facility) ThreadRegister() error {
	runtime.LockOSThread()
	return nil
}

func (f *Facility) ThreadUnregister() error {
	runtime.UnlockOSThread()
	return nil
}

// NameToEvent resolves a PAPI-style preset name or a raw "perf:<type>:<config>"
// escape into a stable EventCode.
func (f *Facility) NameToEvent(name string) (counters.EventCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if code, ok := f.nameCodes[name]; ok {
		return code, nil
	}

	r, err := resolveName(name)
	if err != nil {
		return 0, err
	}

	f.nextCode++
	code := f.nextCode
	f.codes[code] = r
	f.nameCodes[name] = code
	return code, nil
}

func resolveName(name string) (resolved, error) {
	if p, ok := presets[name]; ok {
		return resolved{typ: p.typ, config: p.config}, nil
	}
	var typ uint32
	var config uint64
	if n, err := fmt.Sscanf(name, "perf:%d:%d", &typ, &config); n == 2 && err == nil {
		return resolved{typ: typ, config: config}, nil
	}
	return resolved{}, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, name)
}

func (f *Facility) NewEventSet() (counters.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSet++
	h := f.nextSet
	f.sets[h] = &eventSet{}
	return h, nil
}

// AddEvent opens a new perf fd for ev: the group leader if the set is
// still empty, a sibling sharing the leader's group otherwise. Siblings
// that cannot coexist with the leader (the kernel returns EINVAL for
// sets exceeding the PMU's counter budget) surface as
// ErrIncompatibleEventCombination.
func (f *Facility) AddEvent(h counters.Handle, ev counters.EventCode) error {
	f.mu.Lock()
	r, ok := f.codes[ev]
	set, setOK := f.sets[h]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: event code %d", domain.ErrUnknownEvent, ev)
	}
	if !setOK {
		return fmt.Errorf("%w: event set %d", domain.ErrCounterRuntimeError, h)
	}

	attr := unix.PerfEventAttr{
		Type:        r.typ,
		Config:      r.config,
		Read_format: unix.PERF_FORMAT_TOTAL_TIME_ENABLED | unix.PERF_FORMAT_TOTAL_TIME_RUNNING | unix.PERF_FORMAT_GROUP,
		Bits:        unix.PerfBitDisabled | unix.PerfBitExcludeKernel,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	groupFd := -1
	if len(set.fds) > 0 {
		groupFd = int(set.fds[0].Fd())
		attr.Bits &^= unix.PerfBitDisabled
	}

	fd, err := unix.PerfEventOpen(&attr, 0, -1, groupFd, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		if err == unix.EINVAL && len(set.fds) > 0 {
			return fmt.Errorf("%w: %v", domain.ErrIncompatibleEventCombination, err)
		}
		return fmt.Errorf("%w: perf_event_open: %v", domain.ErrCounterRuntimeError, err)
	}

	set.fds = append(set.fds, os.NewFile(uintptr(fd), "<perf-event>"))
	set.events = append(set.events, ev)
	return nil
}

func (f *Facility) Start(h counters.Handle) error {
	set, err := f.lookup(h)
	if err != nil {
		return err
	}
	if len(set.fds) == 0 {
		return nil
	}
	if _, err := unix.IoctlGetInt(int(set.fds[0].Fd()), unix.PERF_EVENT_IOC_RESET); err != nil {
		return fmt.Errorf("%w: reset: %v", domain.ErrCounterRuntimeError, err)
	}
	if _, err := unix.IoctlGetInt(int(set.fds[0].Fd()), unix.PERF_EVENT_IOC_ENABLE); err != nil {
		return fmt.Errorf("%w: enable: %v", domain.ErrCounterRuntimeError, err)
	}
	return nil
}

func (f *Facility) Stop(h counters.Handle, out []int64) error {
	set, err := f.lookup(h)
	if err != nil {
		return err
	}
	if err := f.readGroup(set, out); err != nil {
		return err
	}
	if len(set.fds) == 0 {
		return nil
	}
	if _, err := unix.IoctlGetInt(int(set.fds[0].Fd()), unix.PERF_EVENT_IOC_DISABLE); err != nil {
		return fmt.Errorf("%w: disable: %v", domain.ErrCounterRuntimeError, err)
	}
	return nil
}

func (f *Facility) Reset(h counters.Handle) error {
	set, err := f.lookup(h)
	if err != nil {
		return err
	}
	if len(set.fds) == 0 {
		return nil
	}
	if _, err := unix.IoctlGetInt(int(set.fds[0].Fd()), unix.PERF_EVENT_IOC_RESET); err != nil {
		return fmt.Errorf("%w: reset: %v", domain.ErrCounterRuntimeError, err)
	}
	return nil
}

func (f *Facility) Accumulate(h counters.Handle, out []int64) error {
	set, err := f.lookup(h)
	if err != nil {
		return err
	}
	if err := f.readGroup(set, out); err != nil {
		return err
	}
	// Reset after reading so the next Accumulate or Stop only adds the
	// counts gathered since this call.
	return f.Reset(h)
}

func (f *Facility) CleanupEventSet(h counters.Handle) error {
	set, err := f.lookup(h)
	if err != nil {
		return err
	}
	for _, fd := range set.fds {
		fd.Close()
	}
	set.fds = nil
	set.events = nil
	return nil
}

func (f *Facility) DestroyEventSet(h counters.Handle) error {
	if err := f.CleanupEventSet(h); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.sets, h)
	f.mu.Unlock()
	return nil
}

func (f *Facility) lookup(h counters.Handle) (*eventSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[h]
	if !ok {
		return nil, fmt.Errorf("%w: event set %d", domain.ErrCounterRuntimeError, h)
	}
	return set, nil
}

// readGroup reads the kernel's PERF_FORMAT_GROUP layout from the leader fd
// and adds each member's scaled value into the matching out slot. Scaling
// accounts for PMU multiplexing the same way a single counter's
// TimeEnabled/TimeRunning ratio does.
func (f *Facility) readGroup(set *eventSet, out []int64) error {
	if len(set.fds) == 0 {
		return nil
	}
	if len(out) != len(set.events) {
		return fmt.Errorf("%w: output slice length %d, want %d", domain.ErrCounterRuntimeError, len(out), len(set.events))
	}

	// Kernel's PERF_FORMAT_GROUP layout:
	//   u64 nr
	//   u64 time_enabled
	//   u64 time_running
	//   { u64 value; } * nr
	buf := make([]byte, 8*(3+len(set.fds)))
	if _, err := set.fds[0].Read(buf); err != nil {
		return fmt.Errorf("%w: read: %v", domain.ErrCounterRuntimeError, err)
	}

	nr := binary.NativeEndian.Uint64(buf[0:])
	timeEnabled := binary.NativeEndian.Uint64(buf[8:])
	timeRunning := binary.NativeEndian.Uint64(buf[16:])
	scale := 1.0
	if timeRunning != 0 && timeRunning != timeEnabled {
		scale = float64(timeEnabled) / float64(timeRunning)
	}

	for i := uint64(0); i < nr && int(i) < len(out); i++ {
		raw := binary.NativeEndian.Uint64(buf[24+8*i:])
		out[i] += int64(float64(raw) * scale)
	}
	return nil
}
