package encoder

import (
	"context"
	"sync"
)

// Finalization is a handle to an in-progress or completed finalize.
// All calls to Encoder.Finalize return the same handle.
type Finalization struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFinalization() *Finalization {
	return &Finalization{done: make(chan struct{})}
}

func (f *Finalization) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the segment file is complete or has failed.
func (f *Finalization) Done() <-chan struct{} {
	return f.done
}

// Err returns the finalize result. It is nil until Done is closed.
func (f *Finalization) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until finalization completes or ctx is done.
func (f *Finalization) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
