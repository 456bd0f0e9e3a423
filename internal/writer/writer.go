// Package writer turns a continuous stream of timestamped samples into a
// sequence of fixed-duration segment files.
//
// Rotation is decided by sample presentation time only. The sample that
// crosses a boundary is the first sample of the next segment, so every
// accepted sample lands in exactly one file. The previous segment is
// finalized in the background; Stop waits for all of them.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/encoder"
	"github.com/maauso/segment-recorder/internal/events"
	"github.com/maauso/segment-recorder/internal/mediatime"
	"github.com/maauso/segment-recorder/internal/naming"
	"github.com/maauso/segment-recorder/internal/rotation"
	"github.com/maauso/segment-recorder/internal/segment"
)

// State is the lifecycle state of a SegmentedWriter.
type State string

const (
	// StateIdle indicates no session is running.
	StateIdle State = "IDLE"
	// StateActive indicates samples are being accepted.
	StateActive State = "ACTIVE"
	// StateStopping indicates the session is ending and finalizations are awaited.
	StateStopping State = "STOPPING"
)

// SegmentEncoder is the subset of *encoder.Encoder the writer drives.
type SegmentEncoder interface {
	Open(path string, p audio.Profile, start mediatime.Time) error
	Append(s audio.Sample) error
	Finalize() *encoder.Finalization
	Stats() encoder.Stats
}

// Compile-time check that *encoder.Encoder implements SegmentEncoder.
var _ SegmentEncoder = (*encoder.Encoder)(nil)

// Stats is a snapshot of the writer.
type Stats struct {
	State           State         `json:"state"`
	SessionID       string        `json:"session_id,omitempty"`
	Index           int           `json:"index"`
	Profile         audio.Profile `json:"profile"`
	SegmentDuration time.Duration `json:"segment_duration"`

	SegmentsOpened int   `json:"segments_opened"`
	SegmentsClosed int   `json:"segments_closed"`
	SamplesWritten int64 `json:"samples_written"`
	SamplesDropped int64 `json:"samples_dropped"`
	SamplesInvalid int64 `json:"samples_invalid"`
	OpenFailures   int64 `json:"open_failures"`
	FinalizeErrors int64 `json:"finalize_errors"`

	// FirstPTS and EndPTS bound the accepted samples of the session.
	FirstPTS mediatime.Time `json:"-"`
	EndPTS   mediatime.Time `json:"-"`
}

// RecordedDuration returns the media time spanned by accepted samples.
func (s Stats) RecordedDuration() time.Duration {
	if !s.FirstPTS.IsValid() || !s.EndPTS.IsValid() {
		return 0
	}
	return s.EndPTS.Sub(s.FirstPTS).Duration()
}

// Option configures a SegmentedWriter.
type Option func(*SegmentedWriter)

// WithLogger sets the logger. It is also passed to each encoder.
func WithLogger(l *slog.Logger) Option {
	return func(w *SegmentedWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithObserver sets the activity observer.
func WithObserver(o Observer) Option {
	return func(w *SegmentedWriter) {
		if o != nil {
			w.observer = o
		}
	}
}

// WithSegmentHandler sets the closed-segment handler.
func WithSegmentHandler(h SegmentHandler) Option {
	return func(w *SegmentedWriter) { w.handler = h }
}

// WithEncoderOptions sets options applied to every encoder.
func WithEncoderOptions(opts ...encoder.Option) Option {
	return func(w *SegmentedWriter) {
		w.encoderOpts = append(w.encoderOpts, opts...)
	}
}

// WithEncoderFactory replaces encoder construction entirely.
func WithEncoderFactory(f func() SegmentEncoder) Option {
	return func(w *SegmentedWriter) { w.newEncoder = f }
}

// WithSessionIDFunc sets the generator of session IDs, one per Start.
func WithSessionIDFunc(f naming.SessionIDFunc) Option {
	return func(w *SegmentedWriter) {
		if f != nil {
			w.newSessionID = f
		}
	}
}

// WithProfile sets the initial profile. Invalid profiles are ignored.
func WithProfile(p audio.Profile) Option {
	return func(w *SegmentedWriter) {
		if p.Validate() == nil {
			w.profile = p
		}
	}
}

// WithSegmentDuration sets the initial segment duration. Non-positive values are ignored.
func WithSegmentDuration(d time.Duration) Option {
	return func(w *SegmentedWriter) {
		if d > 0 {
			w.segmentDuration = d
		}
	}
}

type openSegment struct {
	enc      SegmentEncoder
	index    int
	path     string
	start    mediatime.Time
	duration mediatime.Time
	profile  audio.Profile
}

type pendingSegment struct {
	fin      *encoder.Finalization
	notified chan struct{}
}

// SegmentedWriter records a session as consecutive segment files.
// Configure, Start, Ingest and Stop are serialized; it is safe for
// concurrent use but samples must be ingested in PTS order.
type SegmentedWriter struct {
	namer        naming.Namer
	logger       *slog.Logger
	observer     Observer
	handler      SegmentHandler
	encoderOpts  []encoder.Option
	newEncoder   func() SegmentEncoder
	newSessionID naming.SessionIDFunc
	segments     events.Stream[int]

	mu              sync.Mutex
	state           State
	profile         audio.Profile
	segmentDuration time.Duration
	sessionID       string
	index           int
	open            *openSegment
	pending         []*pendingSegment
	stats           Stats
}

// New creates an Idle writer that names segments with namer.
func New(namer naming.Namer, opts ...Option) *SegmentedWriter {
	w := &SegmentedWriter{
		namer:           namer,
		logger:          slog.Default(),
		observer:        nopObserver{},
		newSessionID:    naming.NewSessionID,
		state:           StateIdle,
		profile:         audio.DefaultProfile(),
		segmentDuration: DefaultSegmentDuration,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.newEncoder == nil {
		encOpts := append([]encoder.Option{encoder.WithLogger(w.logger)}, w.encoderOpts...)
		w.newEncoder = func() SegmentEncoder { return encoder.New(encOpts...) }
	}
	w.stats = w.freshStats()
	return w
}

// Configure sets the profile and segment duration for segments opened
// from now on. The open segment, if any, keeps its own values.
func (w *SegmentedWriter) Configure(p audio.Profile, segmentDuration time.Duration) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if segmentDuration <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidDuration, segmentDuration)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateStopping {
		return fmt.Errorf("%w: configure while %s", ErrInvalidState, w.state)
	}
	w.profile = p
	w.segmentDuration = segmentDuration

	w.logger.Info("writer configured",
		slog.String("profile", p.String()),
		slog.Duration("segment_duration", segmentDuration),
	)
	return nil
}

// Start begins a new session. No segment is opened until the first sample.
func (w *SegmentedWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateIdle {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, w.state)
	}
	w.index = 0
	w.sessionID = w.newSessionID()
	w.stats = w.freshStats()
	w.state = StateActive

	w.logger.Info("recording session started",
		slog.String("session_id", w.sessionID),
		slog.String("profile", w.profile.String()),
		slog.Duration("segment_duration", w.segmentDuration),
	)
	return nil
}

// Ingest routes one sample to the open segment, rotating first if the
// sample's PTS reaches the segment boundary.
//
// Dropped samples return an error for which IsDropped is true. A failed
// segment open returns *encoder.OpenError; the next sample retries the
// same index.
func (w *SegmentedWriter) Ingest(s audio.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateActive {
		return ErrNotActive
	}
	if !s.Valid || !s.PTS.IsValid() {
		w.stats.SamplesInvalid++
		w.observer.SampleDropped(DropInvalid)
		w.logger.Debug("invalid sample discarded", slog.String("session_id", w.sessionID))
		return ErrInvalidSample
	}

	if w.open != nil && rotation.ShouldRotate(w.open.start, s.PTS, w.open.duration) {
		w.finalizeOpen()
	}
	if w.open == nil {
		if err := w.openNext(s.PTS); err != nil {
			w.stats.OpenFailures++
			w.observer.SampleDropped(DropOpenFailed)
			return err
		}
	}

	return w.append(s)
}

// Stop ends the session: it finalizes the open segment, waits for every
// finalization of the session, publishes index 0 and returns to Idle.
// The returned error joins every *encoder.FinalizeError.
//
// If ctx ends first, Stop returns ctx.Err() and the transition to Idle
// completes in the background.
func (w *SegmentedWriter) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateActive {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidState, state)
	}
	w.state = StateStopping
	if w.open != nil {
		w.finalizeOpen()
	}
	pending := w.pending
	w.pending = nil
	sessionID := w.sessionID
	w.mu.Unlock()

	w.logger.Info("recording session stopping",
		slog.String("session_id", sessionID),
		slog.Int("pending_finalizations", len(pending)),
	)

	result := make(chan error, 1)
	go func() {
		var errs []error
		for _, p := range pending {
			<-p.notified
			if err := p.fin.Err(); err != nil {
				errs = append(errs, err)
			}
		}

		w.mu.Lock()
		w.index = 0
		w.segments.Publish(0)
		w.segments.Complete()
		w.observer.IndexChanged(0)
		w.state = StateIdle
		stats := w.stats
		w.mu.Unlock()

		w.logger.Info("recording session stopped",
			slog.String("session_id", sessionID),
			slog.Int("segments", stats.SegmentsOpened),
			slog.Int64("samples_written", stats.SamplesWritten),
			slog.Int64("samples_dropped", stats.SamplesDropped),
			slog.Int("finalize_errors", len(errs)),
		)
		result <- errors.Join(errs...)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (w *SegmentedWriter) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Index returns the index of the open segment, or the last opened index.
// It is 0 before the first segment of a session and after Stop.
func (w *SegmentedWriter) Index() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index
}

// SessionID returns the current or most recent session identifier.
func (w *SegmentedWriter) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Profile returns the profile used for the next segment.
func (w *SegmentedWriter) Profile() audio.Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profile
}

// SegmentDuration returns the duration used for the next segment.
func (w *SegmentedWriter) SegmentDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentDuration
}

// Segments returns the segment index stream. Subscribers receive each new
// index as a segment opens, then 0 when the session stops.
func (w *SegmentedWriter) Segments() *events.Stream[int] {
	return &w.segments
}

// Stats returns a snapshot of the writer.
func (w *SegmentedWriter) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.State = w.state
	s.SessionID = w.sessionID
	s.Index = w.index
	s.Profile = w.profile
	s.SegmentDuration = w.segmentDuration
	return s
}

func (w *SegmentedWriter) freshStats() Stats {
	return Stats{FirstPTS: mediatime.Invalid, EndPTS: mediatime.Invalid}
}

// openNext must be called with mu held and no open segment.
func (w *SegmentedWriter) openNext(start mediatime.Time) error {
	index := w.index + 1
	path, err := w.namer.NextPath(w.sessionID, index, w.profile)
	if err != nil {
		w.logger.Error("segment path unavailable",
			slog.String("session_id", w.sessionID),
			slog.Int("index", index),
			slog.String("error", err.Error()),
		)
		return &encoder.OpenError{Path: path, Reason: encoder.ErrDestination, Err: err}
	}

	enc := w.newEncoder()
	if err := enc.Open(path, w.profile, start); err != nil {
		w.logger.Error("segment open failed",
			slog.String("session_id", w.sessionID),
			slog.Int("index", index),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return err
	}

	w.index = index
	w.open = &openSegment{
		enc:      enc,
		index:    index,
		path:     path,
		start:    start,
		duration: mediatime.FromDuration(w.segmentDuration),
		profile:  w.profile,
	}
	w.stats.SegmentsOpened++
	w.segments.Publish(index)
	w.observer.SegmentOpened(index)

	w.logger.Info("segment opened",
		slog.String("session_id", w.sessionID),
		slog.Int("index", index),
		slog.String("path", path),
		slog.Float64("start_sec", start.Seconds()),
	)
	return nil
}

// append must be called with mu held and an open segment.
func (w *SegmentedWriter) append(s audio.Sample) error {
	err := w.open.enc.Append(s)
	switch {
	case err == nil:
		w.stats.SamplesWritten++
		if !w.stats.FirstPTS.IsValid() {
			w.stats.FirstPTS = s.PTS
		}
		end := s.PTS
		if frames := s.Frames(w.open.profile); frames > 0 {
			end = s.PTS.Add(mediatime.New(int64(frames), int32(w.open.profile.SampleRate)))
		}
		if end.After(w.stats.EndPTS) {
			w.stats.EndPTS = end
		}
		w.observer.SampleWritten(len(s.Payload))
		return nil
	case errors.Is(err, encoder.ErrNotReady):
		w.stats.SamplesDropped++
		w.observer.SampleDropped(DropNotReady)
		w.logger.Debug("sample dropped, encoder not ready",
			slog.String("session_id", w.sessionID),
			slog.Int("index", w.open.index),
		)
		return err
	case errors.Is(err, encoder.ErrNotWriting):
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	default:
		return err
	}
}

// finalizeOpen must be called with mu held and an open segment.
func (w *SegmentedWriter) finalizeOpen() {
	seg := w.open
	w.open = nil

	p := &pendingSegment{fin: seg.enc.Finalize(), notified: make(chan struct{})}
	w.pending = append(w.prunePending(), p)
	go w.awaitClose(w.sessionID, seg, p)
}

// prunePending drops finalizations that completed cleanly; failed ones are
// kept so Stop can report them.
func (w *SegmentedWriter) prunePending() []*pendingSegment {
	kept := w.pending[:0]
	for _, p := range w.pending {
		select {
		case <-p.notified:
			if p.fin.Err() == nil {
				continue
			}
		default:
		}
		kept = append(kept, p)
	}
	return kept
}

func (w *SegmentedWriter) awaitClose(sessionID string, seg *openSegment, p *pendingSegment) {
	defer close(p.notified)
	<-p.fin.Done()

	st := seg.enc.Stats()
	info := segment.Info{
		SessionID: sessionID,
		Index:     seg.index,
		Path:      seg.path,
		Profile:   seg.profile,
		Start:     st.Start,
		End:       st.End,
		Samples:   st.Samples,
		Bytes:     st.Bytes,
		Dropped:   st.Dropped,
		Status:    segment.StatusClosed,
		Err:       p.fin.Err(),
		ClosedAt:  time.Now(),
	}

	if info.Err != nil {
		info.Status = segment.StatusFailed
		w.logger.Error("segment finalize failed",
			slog.String("session_id", sessionID),
			slog.Int("index", seg.index),
			slog.String("path", seg.path),
			slog.String("error", info.Err.Error()),
		)
	} else {
		w.logger.Info("segment closed",
			slog.String("session_id", sessionID),
			slog.Int("index", seg.index),
			slog.String("path", seg.path),
			slog.Float64("duration_sec", info.Duration().Seconds()),
			slog.Int64("samples", info.Samples),
		)
	}

	w.mu.Lock()
	w.stats.SegmentsClosed++
	if info.Err != nil {
		w.stats.FinalizeErrors++
	}
	w.observer.SegmentClosed(info)
	w.mu.Unlock()

	if w.handler != nil {
		w.handler.SegmentClosed(info)
	}
}
