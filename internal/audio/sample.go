package audio

import "github.com/maauso/segment-recorder/internal/mediatime"

// Sample is one buffer delivered by a capture source.
// Payload holds interleaved PCM frames in the writer's profile and is only
// borrowed for the duration of the call that receives it.
type Sample struct {
	Payload []byte
	PTS     mediatime.Time
	Valid   bool
}

// NewSample returns a valid sample. Valid is also false when pts is invalid.
func NewSample(payload []byte, pts mediatime.Time) Sample {
	return Sample{Payload: payload, PTS: pts, Valid: pts.IsValid()}
}

// Frames returns the number of whole frames in the payload for p.
func (s Sample) Frames(p Profile) int {
	fs := p.FrameSize()
	if fs == 0 {
		return 0
	}
	return len(s.Payload) / fs
}
