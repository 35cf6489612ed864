package domain

// CategoryAccumulator is the per-(thread, category) record of elapsed
// wall-clock time and hardware-counter deltas. CounterValues is aligned
// 1:1 with ProfileSpec.Events.
type CategoryAccumulator struct {
	Name            string
	RealTimeSeconds float64
	CounterValues   []int64
}

// NewCategoryAccumulator allocates a zeroed accumulator with nevents slots.
func NewCategoryAccumulator(name string, nevents int) CategoryAccumulator {
	return CategoryAccumulator{Name: name, CounterValues: make([]int64, nevents)}
}

// Reset zeroes time and every counter slot.
func (a *CategoryAccumulator) Reset() {
	a.RealTimeSeconds = 0
	for i := range a.CounterValues {
		a.CounterValues[i] = 0
	}
}
