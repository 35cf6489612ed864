package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeltaNoBorrow(t *testing.T) {
	start := Timestamp{Sec: 10, Nsec: 100}
	end := Timestamp{Sec: 10, Nsec: 600}
	assert.InDelta(t, 5e-7, Delta(end, start), 1e-12)
}

func TestDeltaBorrow(t *testing.T) {
	start := Timestamp{Sec: 10, Nsec: 900_000_000}
	end := Timestamp{Sec: 11, Nsec: 100_000_000}
	assert.InDelta(t, 0.2, Delta(end, start), 1e-9)
}

func TestDeltaWholeSeconds(t *testing.T) {
	start := Timestamp{Sec: 0, Nsec: 0}
	end := Timestamp{Sec: 3, Nsec: 0}
	assert.Equal(t, 3.0, Delta(end, start))
}

func TestNowMonotonicNonDecreasing(t *testing.T) {
	a, err := Now()
	assert.NoError(t, err)
	b, err := Now()
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, Delta(b, a), 0.0)
}
