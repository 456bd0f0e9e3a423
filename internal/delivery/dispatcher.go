// Package delivery fans closed segments out to post-processing handlers
// (catalog, object storage upload, notifications) off the recording path.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/segment-recorder/internal/segment"
)

// ErrClosed is returned by Close when called twice, and logged for segments
// that arrive after Close.
var ErrClosed = errors.New("dispatcher is closed")

// DefaultTimeout bounds the delivery of one segment to all handlers.
const DefaultTimeout = 2 * time.Minute

// Handler processes one closed segment.
type Handler interface {
	HandleSegment(ctx context.Context, info segment.Info) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, info segment.Info) error

// HandleSegment implements Handler.
func (f HandlerFunc) HandleSegment(ctx context.Context, info segment.Info) error {
	return f(ctx, info)
}

// FailureCounter is notified of every failed handler call.
type FailureCounter interface {
	DeliveryFailed(handler string)
}

type namedHandler struct {
	name string
	h    Handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCatalog records every closed segment, failed ones included, before
// the handlers run.
func WithCatalog(c segment.Catalog) Option {
	return func(d *Dispatcher) { d.catalog = c }
}

// WithHandler adds a named handler. Handlers only see segments that
// finalized cleanly.
func WithHandler(name string, h Handler) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.handlers = append(d.handlers, namedHandler{name: name, h: h})
		}
	}
}

// WithNotifier adds a named handler that runs after every WithHandler
// handler has finished, with the record reloaded from the catalog so that
// upload URLs are visible.
func WithNotifier(name string, h Handler) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.notifiers = append(d.notifiers, namedHandler{name: name, h: h})
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTimeout sets the per-segment delivery timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithFailureCounter sets the failure counter, typically metrics.
func WithFailureCounter(c FailureCounter) Option {
	return func(d *Dispatcher) { d.failures = c }
}

// Dispatcher delivers closed segments asynchronously. It implements the
// writer's SegmentHandler, so a slow upload never delays recording.
type Dispatcher struct {
	catalog   segment.Catalog
	handlers  []namedHandler
	notifiers []namedHandler
	logger    *slog.Logger
	timeout   time.Duration
	failures  FailureCounter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// SegmentClosed schedules delivery of info and returns immediately.
func (d *Dispatcher) SegmentClosed(info segment.Info) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("segment not delivered",
			slog.String("segment", info.Key()),
			slog.String("error", ErrClosed.Error()),
		)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(info)
	}()
}

// Deliver runs the catalog and every handler for info and waits for them.
// It returns the first error of each stage; all errors are logged and counted.
func (d *Dispatcher) Deliver(ctx context.Context, info segment.Info) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.catalog != nil {
		if err := d.catalog.Save(ctx, info); err != nil {
			d.fail("catalog", info, err)
		}
	}
	if info.Failed() {
		return nil
	}

	handlersErr := d.run(ctx, d.handlers, info)

	if len(d.notifiers) == 0 {
		return handlersErr
	}
	if d.catalog != nil {
		if stored, err := d.catalog.Find(ctx, info.SessionID, info.Index); err == nil {
			info = stored
		}
	}
	return errors.Join(handlersErr, d.run(ctx, d.notifiers, info))
}

// run calls handlers concurrently and returns the first error.
func (d *Dispatcher) run(ctx context.Context, handlers []namedHandler, info segment.Info) error {
	var g errgroup.Group
	for _, nh := range handlers {
		g.Go(func() error {
			if err := nh.h.HandleSegment(ctx, info); err != nil {
				d.fail(nh.name, info, err)
				return fmt.Errorf("%s: %w", nh.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close stops accepting segments and waits for in-flight deliveries.
// If ctx ends first, in-flight deliveries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(info segment.Info) {
	if err := d.Deliver(d.ctx, info); err == nil {
		d.logger.Debug("segment delivered", slog.String("segment", info.Key()))
	}
}

func (d *Dispatcher) fail(handler string, info segment.Info, err error) {
	d.logger.Error("segment delivery failed",
		slog.String("handler", handler),
		slog.String("segment", info.Key()),
		slog.String("error", err.Error()),
	)
	if d.failures != nil {
		d.failures.DeliveryFailed(handler)
	}
}
