package writer

import (
	"errors"

	"github.com/maauso/segment-recorder/internal/encoder"
)

// Static errors for writer operations.
var (
	// ErrNotActive is returned when samples arrive outside the Active state.
	ErrNotActive = errors.New("writer: not active")
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("writer: invalid state")
	// ErrInvalidSample is returned when a sample is marked invalid or has no timestamp.
	// The sample is discarded and rotation state is unchanged.
	ErrInvalidSample = errors.New("writer: invalid sample")
	// ErrInvalidDuration is returned for a non-positive segment duration.
	ErrInvalidDuration = errors.New("writer: segment duration must be positive")
	// ErrInvariantViolation is returned when the open encoder refuses data it
	// should accept. It indicates a bug, not a runtime condition.
	ErrInvariantViolation = errors.New("writer: invariant violation")
)

// IsDropped reports whether err means a single sample was dropped or
// discarded while recording continues normally.
func IsDropped(err error) bool {
	return errors.Is(err, ErrInvalidSample) || errors.Is(err, encoder.ErrNotReady)
}
