// Package clock provides monotonic timestamp reads and nanosecond-correct
// differencing, mirroring the borrow arithmetic the original C++
// implementation performed on a raw timespec.
package clock

import "golang.org/x/sys/unix"

// Timestamp is a monotonic clock reading, kept as separate second/nanosecond
// fields so Delta can perform the same borrow arithmetic as the original
// implementation instead of relying on a particular stdlib representation.
type Timestamp struct {
	Sec  int64
	Nsec int64
}

// Now reads CLOCK_MONOTONIC. It does not abort on failure; it returns the
// error and leaves the decision to the caller.
func Now() (Timestamp, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return Timestamp{}, err
	}
	return Timestamp{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}, nil
}

// Delta returns (end - start) in seconds, handling fractional-second
// underflow by borrowing a whole second, same as the original's difftime.
func Delta(end, start Timestamp) float64 {
	sec := end.Sec - start.Sec
	nsec := end.Nsec - start.Nsec
	if nsec < 0 {
		sec--
		nsec += 1e9
	}
	return float64(sec) + float64(nsec)*1e-9
}
