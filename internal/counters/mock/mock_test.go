package mock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupzope-go/perfoscope/internal/domain"
)

func TestStopAccumulatesFixedStep(t *testing.T) {
	f := New()
	ev, err := f.NameToEvent("cycles")
	require.NoError(t, err)

	h, err := f.NewEventSet()
	require.NoError(t, err)
	require.NoError(t, f.AddEvent(h, ev))
	require.NoError(t, f.Start(h))

	out := make([]int64, 1)
	require.NoError(t, f.Stop(h, out))
	assert.Equal(t, int64(1), out[0])
}

func TestAccumulateWhileStoppedIsNoop(t *testing.T) {
	f := New()
	ev, err := f.NameToEvent("cycles")
	require.NoError(t, err)
	h, err := f.NewEventSet()
	require.NoError(t, err)
	require.NoError(t, f.AddEvent(h, ev))

	out := make([]int64, 1)
	require.NoError(t, f.Accumulate(h, out))
	assert.Equal(t, int64(0), out[0])
}

func TestNameToEventUnknown(t *testing.T) {
	f := New()
	f.Unknown["bogus"] = true
	_, err := f.NameToEvent("bogus")
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)
}

func TestAccumulateWrongWidth(t *testing.T) {
	f := New()
	ev, err := f.NameToEvent("cycles")
	require.NoError(t, err)
	h, err := f.NewEventSet()
	require.NoError(t, err)
	require.NoError(t, f.AddEvent(h, ev))

	err = f.Accumulate(h, make([]int64, 2))
	assert.True(t, errors.Is(err, domain.ErrCounterRuntimeError))
}
