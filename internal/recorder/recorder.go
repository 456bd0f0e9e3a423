// Package recorder runs a capture source into a segmented writer and tracks
// the recording session.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/capture"
	"github.com/maauso/segment-recorder/internal/events"
	"github.com/maauso/segment-recorder/internal/mediatime"
	"github.com/maauso/segment-recorder/internal/writer"
)

var (
	// ErrAlreadyRecording is returned by Start while a session is running.
	ErrAlreadyRecording = errors.New("recorder: already recording")
	// ErrNotRecording is returned by Stop when no session is running.
	ErrNotRecording = errors.New("recorder: not recording")
	// ErrNoSource is returned by Start when no capture source is configured.
	ErrNoSource = errors.New("recorder: no capture source configured")
)

// SegmentWriter is the subset of *writer.SegmentedWriter the recorder drives.
type SegmentWriter interface {
	Configure(p audio.Profile, segmentDuration time.Duration) error
	Start() error
	Ingest(s audio.Sample) error
	Stop(ctx context.Context) error
	SessionID() string
	Profile() audio.Profile
	Segments() *events.Stream[int]
	Stats() writer.Stats
}

// Compile-time check that *writer.SegmentedWriter implements SegmentWriter.
var _ SegmentWriter = (*writer.SegmentedWriter)(nil)

// SourceFactory builds a capture source producing samples in p.
type SourceFactory func(p audio.Profile) (capture.Source, error)

// IndexPublisher receives segment index changes, typically Redis.
type IndexPublisher interface {
	PublishIndex(ctx context.Context, sessionID string, index int) error
}

// Status is a snapshot of the recorder.
type Status struct {
	Recording bool         `json:"recording"`
	Writer    writer.Stats `json:"writer"`
	// Duration is the media time between the first and the latest sample
	// seen in the current session, or of the last session when idle.
	Duration     time.Duration `json:"-"`
	CaptureError string        `json:"capture_error,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSourceFactory sets how capture sources are built on Start.
func WithSourceFactory(f SourceFactory) Option {
	return func(s *Service) { s.newSource = f }
}

// WithIndexPublisher forwards every index change of a session to p.
func WithIndexPublisher(p IndexPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// Service owns one capture source and one writer.
type Service struct {
	w         SegmentWriter
	newSource SourceFactory
	publisher IndexPublisher
	logger    *slog.Logger

	mu         sync.Mutex
	recording  bool
	cancel     context.CancelFunc
	done       chan struct{}
	captureErr error
	span       span
	last       time.Duration
	bridge     sync.WaitGroup
	stopping   sync.WaitGroup
}

// span tracks the first and latest PTS seen.
type span struct {
	first, last mediatime.Time
}

func (s span) total() time.Duration {
	if !s.first.IsValid() || !s.last.IsValid() {
		return 0
	}
	return s.last.Sub(s.first).Duration()
}

// New creates a Service around w.
func New(w SegmentWriter, opts ...Option) *Service {
	s := &Service{
		w:      w,
		logger: slog.Default(),
		done:   closedChan(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Writer returns the underlying writer.
func (s *Service) Writer() SegmentWriter { return s.w }

// Configure changes the output profile and segment duration. The capture
// source picks the new profile up on the next Start.
func (s *Service) Configure(p audio.Profile, segmentDuration time.Duration) error {
	return s.w.Configure(p, segmentDuration)
}

// Start starts the writer and then the capture goroutine. ctx only bounds
// the start itself; the session runs until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		return ErrAlreadyRecording
	}
	if s.newSource == nil {
		return ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := s.newSource(s.w.Profile())
	if err != nil {
		return fmt.Errorf("create capture source: %w", err)
	}

	// Subscribe before the first segment can open so index 1 is not missed.
	var sub *events.Subscription[int]
	if s.publisher != nil {
		sub = s.w.Segments().Subscribe()
	}
	if err := s.w.Start(); err != nil {
		if sub != nil {
			sub.Close()
		}
		return err
	}
	if sub != nil {
		s.bridge.Add(1)
		go s.publishIndexes(s.w.SessionID(), sub)
	}

	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.captureErr = nil
	s.span = span{}
	s.recording = true

	go s.capture(captureCtx, src, s.done)
	return nil
}

// Stop stops capture first and then the writer, so every captured sample is
// ingested before the last segment is finalized. If ctx ends before capture
// has exited, Stop returns the context error and the writer is stopped in
// the background once it does; Wait blocks until then.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	s.recording = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return s.stopWriter(ctx)
	case <-ctx.Done():
	}

	s.logger.Warn("capture still stopping, finishing in background",
		slog.String("session_id", s.w.SessionID()),
		slog.String("error", ctx.Err().Error()),
	)
	s.stopping.Add(1)
	go func() {
		defer s.stopping.Done()
		<-done
		if err := s.stopWriter(context.Background()); err != nil {
			s.logger.Error("background stop failed", slog.String("error", err.Error()))
		}
	}()
	return ctx.Err()
}

// stopWriter must be called once capture has exited.
func (s *Service) stopWriter(ctx context.Context) error {
	s.mu.Lock()
	s.last = s.span.total()
	s.span = span{}
	last := s.last
	s.mu.Unlock()

	err := s.w.Stop(ctx)
	s.logger.Info("recording stopped", slog.Duration("duration", last))
	return err
}

// Done is closed when the current capture source ends, either through Stop
// or because its stream ended.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Status returns a snapshot of the recorder and writer.
func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{Recording: s.recording, Duration: s.last}
	if s.recording {
		st.Duration = s.span.total()
	}
	if s.captureErr != nil {
		st.CaptureError = s.captureErr.Error()
	}
	s.mu.Unlock()

	st.Writer = s.w.Stats()
	return st
}

// Wait blocks until background stops and index publishing have finished.
func (s *Service) Wait() {
	s.stopping.Wait()
	s.bridge.Wait()
}

func (s *Service) capture(ctx context.Context, src capture.Source, done chan struct{}) {
	defer close(done)

	err := src.Run(ctx, s.ingest)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("capture failed", slog.String("error", err.Error()))
		s.mu.Lock()
		s.captureErr = err
		s.mu.Unlock()
		return
	}
	if ctx.Err() == nil {
		s.logger.Info("capture stream ended")
	}
}

func (s *Service) ingest(smp audio.Sample) {
	if smp.PTS.IsValid() {
		s.mu.Lock()
		if !s.span.first.IsValid() {
			s.span.first = smp.PTS
		}
		s.span.last = smp.PTS
		s.mu.Unlock()
	}

	err := s.w.Ingest(smp)
	switch {
	case err == nil, writer.IsDropped(err):
	case errors.Is(err, writer.ErrNotActive):
		// Stop raced the capture goroutine.
	default:
		s.logger.Warn("sample not written", slog.String("error", err.Error()))
	}
}

func (s *Service) publishIndexes(sessionID string, sub *events.Subscription[int]) {
	defer s.bridge.Done()
	defer sub.Close()

	for index := range sub.C() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.publisher.PublishIndex(ctx, sessionID, index); err != nil {
			s.logger.Warn("failed to publish segment index",
				slog.String("session_id", sessionID),
				slog.Int("index", index),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
