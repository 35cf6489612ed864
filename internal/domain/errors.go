// Package domain holds the types and sentinel errors shared across the
// measurement, collective, and store layers. No I/O belongs here.
package domain

import "errors"

// Sentinel errors from the taxonomy in the design document. All fatal paths
// wrap one of these so callers can classify failures with errors.Is.
var (
	ErrEnvironmentUnavailable       = errors.New("perfoscope: environment unavailable")
	ErrUnknownEvent                 = errors.New("perfoscope: unknown event")
	ErrIncompatibleEventCombination = errors.New("perfoscope: incompatible event combination")
	ErrSchemaInconsistent           = errors.New("perfoscope: schema inconsistent")
	ErrCollectiveDisagreement       = errors.New("perfoscope: collective disagreement")
	ErrStoreIOError                 = errors.New("perfoscope: store I/O error")
	ErrCounterRuntimeError          = errors.New("perfoscope: counter runtime error")
	ErrInvalidThreadID              = errors.New("perfoscope: invalid thread id")
	ErrNotInitialised               = errors.New("perfoscope: not initialised")
	ErrAlreadyFinalised             = errors.New("perfoscope: already finalised")
)
