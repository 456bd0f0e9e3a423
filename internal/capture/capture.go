// Package capture produces timestamped PCM samples from raw audio streams.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/mediatime"
)

// DefaultFramesPerBuffer is the number of frames delivered per sample
// (100 ms at 48 kHz).
const DefaultFramesPerBuffer = 4800

// ErrInvalidProfile is returned when a source is built for a profile with no
// usable frame size.
var ErrInvalidProfile = errors.New("invalid capture profile")

// Source delivers samples to fn until ctx is done or the stream ends.
// The payload passed to fn is only valid for the duration of the call.
type Source interface {
	Run(ctx context.Context, fn func(audio.Sample)) error
}

// ReaderSource reads interleaved PCM in the given profile from an io.Reader.
// Timestamps are derived from the number of frames read, on the sample
// rate's time scale, so they are exact and contiguous.
type ReaderSource struct {
	r               io.Reader
	profile         audio.Profile
	framesPerBuffer int
}

// NewReaderSource creates a ReaderSource. framesPerBuffer <= 0 selects
// DefaultFramesPerBuffer.
func NewReaderSource(r io.Reader, p audio.Profile, framesPerBuffer int) (*ReaderSource, error) {
	if p.FrameSize() <= 0 || p.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, p)
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &ReaderSource{r: r, profile: p, framesPerBuffer: framesPerBuffer}, nil
}

// Run implements Source. It returns nil at end of stream; a trailing
// partial frame is discarded.
func (s *ReaderSource) Run(ctx context.Context, fn func(audio.Sample)) error {
	frameSize := s.profile.FrameSize()
	scale := int32(s.profile.SampleRate)
	buf := make([]byte, s.framesPerBuffer*frameSize)
	var framesRead int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(s.r, buf)
		if whole := n / frameSize; whole > 0 {
			fn(audio.NewSample(buf[:whole*frameSize], mediatime.New(framesRead, scale)))
			framesRead += int64(whole)
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read capture stream: %w", err)
		}
	}
}
