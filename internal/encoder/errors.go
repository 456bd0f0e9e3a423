package encoder

import (
	"errors"
	"fmt"
)

// Static errors for encoder operations.
var (
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("encoder: invalid state")
	// ErrUnsupportedProfile is returned when the profile cannot be written by any backend.
	ErrUnsupportedProfile = errors.New("encoder: unsupported profile")
	// ErrDestination is returned when the segment file cannot be created.
	ErrDestination = errors.New("encoder: destination cannot be created")
	// ErrNotReady is returned when the append queue is full. The sample is dropped.
	ErrNotReady = errors.New("encoder: not ready for more data")
	// ErrNotWriting is returned when Append is called outside the Writing state.
	ErrNotWriting = errors.New("encoder: not writing")
)

// OpenError describes a failed Open. Reason is one of ErrInvalidState,
// ErrUnsupportedProfile or ErrDestination; Err is the underlying cause if any.
type OpenError struct {
	Path   string
	Reason error
	Err    error
}

func (e *OpenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("open segment %s: %v", e.Path, e.Reason)
	}
	if errors.Is(e.Err, e.Reason) {
		return fmt.Sprintf("open segment %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("open segment %s: %v: %v", e.Path, e.Reason, e.Err)
}

// Unwrap exposes both the reason and the cause to errors.Is and errors.As.
func (e *OpenError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// FinalizeError describes a segment whose flush or close failed.
// The file at Path may be incomplete.
type FinalizeError struct {
	Path string
	Err  error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize segment %s: %v", e.Path, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}
