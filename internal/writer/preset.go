package writer

import (
	"fmt"
	"strings"
	"time"
)

// DurationPreset names a common segment length.
type DurationPreset string

const (
	PresetShort  DurationPreset = "short"
	PresetMedium DurationPreset = "medium"
	PresetLong   DurationPreset = "long"
)

// DefaultSegmentDuration is the segment length used until Configure is called.
const DefaultSegmentDuration = 10 * time.Second

// Presets lists all presets in ascending order.
var Presets = []DurationPreset{PresetShort, PresetMedium, PresetLong}

// Duration returns the segment length for p, or 0 if p is unknown.
func (p DurationPreset) Duration() time.Duration {
	switch p {
	case PresetShort:
		return 10 * time.Second
	case PresetMedium:
		return 20 * time.Second
	case PresetLong:
		return 30 * time.Second
	default:
		return 0
	}
}

// ParsePreset returns the preset named s.
func ParsePreset(s string) (DurationPreset, error) {
	p := DurationPreset(strings.ToLower(strings.TrimSpace(s)))
	if p.Duration() == 0 {
		return "", fmt.Errorf("unknown duration preset %q", s)
	}
	return p, nil
}
