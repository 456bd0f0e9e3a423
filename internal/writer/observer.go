package writer

import "github.com/maauso/segment-recorder/internal/segment"

// DropReason classifies a sample that was not written.
type DropReason string

const (
	// DropNotReady means the encoder queue was full.
	DropNotReady DropReason = "not_ready"
	// DropInvalid means the sample was marked invalid.
	DropInvalid DropReason = "invalid"
	// DropOpenFailed means no segment could be opened for the sample.
	DropOpenFailed DropReason = "open_failed"
)

// Observer receives writer activity, typically for metrics.
// Methods are called with the writer's lock held and must not block or
// call back into the writer.
type Observer interface {
	SampleWritten(bytes int)
	SampleDropped(reason DropReason)
	SegmentOpened(index int)
	IndexChanged(index int)
	SegmentClosed(info segment.Info)
}

// SegmentHandler is notified once per finalized segment, including failed
// ones. It is called from a background goroutine and must not block for long.
type SegmentHandler interface {
	SegmentClosed(info segment.Info)
}

// SegmentHandlerFunc adapts a function to SegmentHandler.
type SegmentHandlerFunc func(info segment.Info)

// SegmentClosed implements SegmentHandler.
func (f SegmentHandlerFunc) SegmentClosed(info segment.Info) {
	f(info)
}

type nopObserver struct{}

func (nopObserver) SampleWritten(int) {}
func (nopObserver) SampleDropped(DropReason) {}
func (nopObserver) SegmentOpened(int) {}
func (nopObserver) IndexChanged(int) {}
func (nopObserver) SegmentClosed(segment.Info) {}
