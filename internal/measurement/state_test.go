package measurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupzope-go/perfoscope/internal/counters/mock"
	"github.com/anupzope-go/perfoscope/internal/domain"
)

func testSpec() domain.ProfileSpec {
	return domain.ProfileSpec{
		Name:       "p",
		Events:     []string{"PAPI_TOT_CYC", "PAPI_TOT_INS"},
		Categories: []string{"forward", "backward"},
	}
}

func TestNewRejectsNegativeThreadID(t *testing.T) {
	_, err := New(testSpec(), -1, mock.New())
	assert.ErrorIs(t, err, domain.ErrInvalidThreadID)
}

func TestStartBeforeInitFails(t *testing.T) {
	s, err := New(testSpec(), 0, mock.New())
	require.NoError(t, err)
	err = s.Start()
	assert.ErrorIs(t, err, domain.ErrNotInitialised)
}

func TestStartStopAccumulatesIntoCategory(t *testing.T) {
	f := mock.New()
	s, err := New(testSpec(), 0, f)
	require.NoError(t, err)
	require.NoError(t, s.Init())

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(0))

	got := s.Accumulators()
	require.Len(t, got, 2)
	assert.Equal(t, "forward", got[0].Name)
	assert.Equal(t, []int64{1, 2}, got[0].CounterValues)
	assert.Equal(t, []int64{0, 0}, got[1].CounterValues)
	assert.Equal(t, PhaseReady, s.Phase())
}

func TestAccumulateStaysRunningAndRebasesClock(t *testing.T) {
	f := mock.New()
	s, err := New(testSpec(), 0, f)
	require.NoError(t, err)
	require.NoError(t, s.Init())
	require.NoError(t, s.Start())

	require.NoError(t, s.Accumulate(0))
	assert.Equal(t, PhaseRunning, s.Phase())
	require.NoError(t, s.Accumulate(0))

	got := s.Accumulators()
	assert.Equal(t, []int64{2, 4}, got[0].CounterValues)
}

func TestStopWrongCategoryIndexFails(t *testing.T) {
	f := mock.New()
	s, err := New(testSpec(), 0, f)
	require.NoError(t, err)
	require.NoError(t, s.Init())
	require.NoError(t, s.Start())
	err = s.Stop(5)
	assert.ErrorIs(t, err, domain.ErrSchemaInconsistent)
}

func TestPrimeDiscardsFirstStartStopThenLeavesRunning(t *testing.T) {
	f := mock.New()
	s, err := New(testSpec(), 0, f)
	require.NoError(t, err)
	require.NoError(t, s.Init())

	require.NoError(t, s.Prime())
	assert.Equal(t, PhaseRunning, s.Phase())

	require.NoError(t, s.Stop(0))
	got := s.Accumulators()
	// Prime's own start/stop discarded its deltas; only the second
	// start's running interval should be folded in.
	assert.Equal(t, []int64{1, 2}, got[0].CounterValues)
}

func TestResetAccumulatorsClearsSelectedCategory(t *testing.T) {
	f := mock.New()
	s, err := New(testSpec(), 0, f)
	require.NoError(t, err)
	require.NoError(t, s.Init())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(0))

	require.NoError(t, s.ResetAccumulators(0))
	got := s.Accumulators()
	assert.Equal(t, []int64{0, 0}, got[0].CounterValues)
}

func TestDestroyIsIdempotent(t *testing.T) {
	f := mock.New()
	s, err := New(testSpec(), 0, f)
	require.NoError(t, err)
	require.NoError(t, s.Init())
	require.NoError(t, s.Destroy())
	assert.NoError(t, s.Destroy())
	assert.Equal(t, PhaseDestroyed, s.Phase())
}

func TestDestroyBeforeInitSucceeds(t *testing.T) {
	s, err := New(testSpec(), 0, mock.New())
	require.NoError(t, err)
	assert.NoError(t, s.Destroy())
}
