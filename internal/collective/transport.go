// Package collective defines the cross-process transport perfoscope uses
// to negotiate a shared profile shape and to ship per-rank measurement
// buffers to the owning rank, and implements that negotiation protocol
// against any Transport.
package collective

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/anupzope-go/perfoscope/internal/domain"
)

// Transport is the capability set perfoscope needs from whatever
// collective communication layer the host process is using. No real MPI
// binding exists in the Go ecosystem, so besides the trivial single-rank
// local.Transport, Sync is driven by inprocess.Transport, which plays the
// same role with goroutines and channels standing in for ranks.
type Transport interface {
	Rank() int
	Size() int
	Broadcast(buf []byte, root int) error
	AllToAllInt(v int) ([]int, error)
	Send(to, tag int, buf []byte) error
	Recv(from, tag int, buf []byte) error
	Abort(code int)
}

// Sync replicates spec, as held by rank root (conventionally 0), onto
// every other rank: it broadcasts the profile name, then the event count
// and every event name, then the category count and names, and
// overwrites each non-root rank's spec with what it received. Non-root
// values are not compared with root's, so a rank whose spec differs is
// not reported; it simply adopts root's. ErrCollectiveDisagreement is
// returned only when a broadcast itself fails. The replicated spec is
// then checked with Validate.
func Sync(t Transport, spec *domain.ProfileSpec, root int) error {
	if t.Size() == 1 {
		return spec.Validate()
	}

	name, err := syncString(t, spec.Name, root)
	if err != nil {
		return err
	}
	spec.Name = name

	events, err := syncStrings(t, spec.Events, root)
	if err != nil {
		return err
	}
	spec.Events = events

	categories, err := syncStrings(t, spec.Categories, root)
	if err != nil {
		return err
	}
	spec.Categories = categories

	return spec.Validate()
}

func syncString(t Transport, s string, root int) (string, error) {
	var buf []byte
	if t.Rank() == root {
		buf = []byte(s)
	}
	n, err := syncLen(t, len(buf), root)
	if err != nil {
		return "", err
	}
	if t.Rank() != root {
		buf = make([]byte, n)
	}
	if err := t.Broadcast(buf, root); err != nil {
		return "", fmt.Errorf("%w: broadcast string: %v", domain.ErrCollectiveDisagreement, err)
	}
	return string(buf), nil
}

func syncStrings(t Transport, items []string, root int) ([]string, error) {
	n, err := syncLen(t, len(items), root)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		var s string
		if t.Rank() == root {
			s = items[i]
		}
		s, err := syncString(t, s, root)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func syncLen(t Transport, n int, root int) (int, error) {
	buf := make([]byte, 8)
	if t.Rank() == root {
		binary.BigEndian.PutUint64(buf, uint64(n))
	}
	if err := t.Broadcast(buf, root); err != nil {
		return 0, fmt.Errorf("%w: broadcast length: %v", domain.ErrCollectiveDisagreement, err)
	}
	got := int(binary.BigEndian.Uint64(buf))
	if t.Rank() == root && got != n {
		return 0, fmt.Errorf("%w: length mismatch", domain.ErrCollectiveDisagreement)
	}
	return got, nil
}

// EncodeCounters serializes a counter-value slice for Send/Recv transport.
func EncodeCounters(values []int64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return buf
}

// DecodeCounters is the inverse of EncodeCounters.
func DecodeCounters(buf []byte) []int64 {
	out := make([]int64, len(buf)/8)
	for i := range out {
		out[i] = int64(binary.BigEndian.Uint64(buf[8*i:]))
	}
	return out
}

// EncodeTime serializes a wall-clock duration for Send/Recv transport.
func EncodeTime(seconds float64) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, seconds)
	return buf.Bytes()
}

// DecodeTime is the inverse of EncodeTime.
func DecodeTime(buf []byte) float64 {
	var v float64
	binary.Read(bytes.NewReader(buf), binary.BigEndian, &v)
	return v
}
