// Package encoder writes one audio segment file from a stream of samples.
//
// An Encoder moves through Unopened -> Writing -> Finalizing -> Closed.
// Append never blocks: samples go into a bounded queue drained by a single
// goroutine, and a full queue is reported as ErrNotReady. The file is
// written as <path>.partial and renamed to <path> once finalized, so a
// file at the final path is always complete.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/mediatime"
)

// PartialSuffix is appended to a segment path while it is being written.
const PartialSuffix = ".partial"

// DefaultQueueSize is the number of samples buffered for the writer goroutine.
const DefaultQueueSize = 64

// ErrInvalidTimestamp is returned for samples or start times without a valid PTS.
var ErrInvalidTimestamp = errors.New("encoder: invalid timestamp")

// Stats is a snapshot of an encoder's progress.
type Stats struct {
	State   State
	Path    string
	Profile audio.Profile
	// Start is the PTS the segment was opened at.
	Start mediatime.Time
	// End is the PTS just past the last accepted frame.
	End mediatime.Time
	// Samples and Bytes count accepted samples; Dropped counts ErrNotReady rejections.
	Samples int64
	Bytes   int64
	Dropped int64
}

// Duration returns the media time covered by accepted samples.
func (s Stats) Duration() mediatime.Time {
	if !s.Start.IsValid() || !s.End.IsValid() {
		return mediatime.Zero(mediatime.DefaultScale)
	}
	return s.End.Sub(s.Start)
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithOpener sets the backend factory. Defaults to FileOpener{}.
func WithOpener(o Opener) Option {
	return func(e *Encoder) { e.opener = o }
}

// WithQueueSize sets the append queue capacity.
func WithQueueSize(n int) Option {
	return func(e *Encoder) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Encoder) {
		if l != nil {
			e.logger = l
		}
	}
}

// Encoder writes a single segment file. It is safe for concurrent use.
type Encoder struct {
	opener    Opener
	queueSize int
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	path    string
	profile audio.Profile
	start   mediatime.Time
	end     mediatime.Time
	samples int64
	bytes   int64
	dropped int64
	backend Backend
	queue   chan []byte
	drained chan struct{}
	fin     *Finalization

	// writeErr is owned by the drain goroutine until drained is closed.
	writeErr error
}

// New creates an Encoder in the Unopened state.
func New(opts ...Option) *Encoder {
	e := &Encoder{
		opener:    FileOpener{},
		queueSize: DefaultQueueSize,
		logger:    slog.Default(),
		state:     StateUnopened,
		start:     mediatime.Invalid,
		end:       mediatime.Invalid,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open prepares the destination and enters Writing.
// A failed Open leaves the encoder Unopened.
func (e *Encoder) Open(path string, p audio.Profile, start mediatime.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateUnopened {
		return &OpenError{Path: path, Reason: ErrInvalidState, Err: fmt.Errorf("state is %s", e.state)}
	}
	if err := p.Validate(); err != nil {
		return &OpenError{Path: path, Reason: ErrUnsupportedProfile, Err: err}
	}
	if !start.IsValid() {
		return &OpenError{Path: path, Reason: ErrInvalidState, Err: ErrInvalidTimestamp}
	}

	backend, err := e.opener.Open(path+PartialSuffix, p)
	if err != nil {
		reason := ErrDestination
		if errors.Is(err, ErrUnsupportedProfile) {
			reason = ErrUnsupportedProfile
		}
		return &OpenError{Path: path, Reason: reason, Err: err}
	}

	e.path = path
	e.profile = p
	e.start = start
	e.end = start
	e.backend = backend
	e.queue = make(chan []byte, e.queueSize)
	e.drained = make(chan struct{})
	e.transitionTo(StateWriting)

	go e.drain(e.queue, e.drained)

	e.logger.Debug("segment opened",
		slog.String("path", path),
		slog.String("profile", p.String()),
		slog.String("start", start.String()),
	)
	return nil
}

// Append queues the sample payload for writing. The payload is copied.
// It returns ErrNotWriting outside Writing and ErrNotReady when the queue is full.
func (e *Encoder) Append(s audio.Sample) error {
	if !s.Valid || !s.PTS.IsValid() {
		return ErrInvalidTimestamp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateWriting {
		return ErrNotWriting
	}

	buf := make([]byte, len(s.Payload))
	copy(buf, s.Payload)

	select {
	case e.queue <- buf:
	default:
		e.dropped++
		return ErrNotReady
	}

	e.samples++
	e.bytes += int64(len(buf))
	frames := int64(s.Frames(e.profile))
	if frames > 0 {
		end := s.PTS.Add(mediatime.New(frames, int32(e.profile.SampleRate)))
		if end.After(e.end) {
			e.end = end
		}
	} else if s.PTS.After(e.end) {
		e.end = s.PTS
	}
	return nil
}

// Finalize stops accepting samples and completes the file asynchronously.
// It is idempotent: every call returns the same handle. Finalizing an
// Unopened encoder completes immediately without creating a file.
func (e *Encoder) Finalize() *Finalization {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fin != nil {
		return e.fin
	}
	e.fin = newFinalization()

	switch e.state {
	case StateUnopened:
		e.transitionTo(StateClosed)
		e.fin.complete(nil)
	case StateWriting:
		e.transitionTo(StateFinalizing)
		close(e.queue)
		go e.finish(e.fin)
	}
	return e.fin
}

// State returns the current lifecycle state.
func (e *Encoder) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Path returns the final segment path, empty before Open succeeds.
func (e *Encoder) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Stats returns a snapshot of the encoder's progress.
func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		State:   e.state,
		Path:    e.path,
		Profile: e.profile,
		Start:   e.start,
		End:     e.end,
		Samples: e.samples,
		Bytes:   e.bytes,
		Dropped: e.dropped,
	}
}

// drain writes queued payloads in order. After the first write error the
// remaining payloads are discarded; the error is reported by Finalize.
func (e *Encoder) drain(queue <-chan []byte, drained chan<- struct{}) {
	defer close(drained)
	for buf := range queue {
		if e.writeErr != nil {
			continue
		}
		if err := e.backend.Write(buf); err != nil {
			e.writeErr = err
		}
	}
}

func (e *Encoder) finish(fin *Finalization) {
	<-e.drained

	// path and backend are immutable once Writing is entered.
	err := e.writeErr
	if closeErr := e.backend.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err == nil {
		if renameErr := os.Rename(e.path+PartialSuffix, e.path); renameErr != nil {
			err = fmt.Errorf("rename partial file: %w", renameErr)
		}
	}

	e.mu.Lock()
	e.transitionTo(StateClosed)
	stats := Stats{Path: e.path, Start: e.start, End: e.end, Samples: e.samples, Bytes: e.bytes, Dropped: e.dropped}
	e.mu.Unlock()

	if err != nil {
		err = &FinalizeError{Path: e.path, Err: err}
		e.logger.Error("segment finalize failed",
			slog.String("path", e.path),
			slog.String("error", err.Error()),
		)
	} else {
		e.logger.Debug("segment closed",
			slog.String("path", e.path),
			slog.Int64("samples", stats.Samples),
			slog.Int64("bytes", stats.Bytes),
			slog.Float64("duration_sec", stats.Duration().Seconds()),
		)
	}
	fin.complete(err)
}

// transitionTo must be called with mu held.
func (e *Encoder) transitionTo(s State) {
	if !canTransition(e.state, s) {
		panic(fmt.Sprintf("encoder: invalid transition %s -> %s", e.state, s))
	}
	e.state = s
}
