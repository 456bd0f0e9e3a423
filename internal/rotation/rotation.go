// Package rotation decides segment boundaries from presentation timestamps.
package rotation

import (
	"math/big"

	"github.com/maauso/segment-recorder/internal/mediatime"
)

// ShouldRotate reports whether current starts a new segment, i.e. whether
// current - segmentStart >= duration. Invalid timestamps and non-positive
// durations never rotate.
func ShouldRotate(segmentStart, current, duration mediatime.Time) bool {
	if !segmentStart.IsValid() || !current.IsValid() || !duration.IsValid() || duration.Value <= 0 {
		return false
	}
	if segmentStart.Scale == current.Scale && current.Scale == duration.Scale {
		return current.Value-segmentStart.Value >= duration.Value
	}
	elapsed := new(big.Rat).Sub(current.Rat(), segmentStart.Rat())
	return elapsed.Cmp(duration.Rat()) >= 0
}

// Policy is a fixed segment duration.
type Policy struct {
	Duration mediatime.Time
}

// ShouldRotate applies the package-level check with p.Duration.
func (p Policy) ShouldRotate(segmentStart, current mediatime.Time) bool {
	return ShouldRotate(segmentStart, current, p.Duration)
}
