// Package audio provides the value types shared by the recording pipeline:
// output profiles, containers and timestamped samples.
package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Container identifies the on-disk segment format.
type Container string

const (
	// ContainerWAV is RIFF/WAVE linear PCM.
	ContainerWAV Container = "wav"
	// ContainerCAF is Core Audio Format linear PCM.
	ContainerCAF Container = "caf"
	// ContainerM4A is AAC in an MPEG-4 container, encoded by ffmpeg.
	ContainerM4A Container = "m4a"
	// ContainerPCM is headerless interleaved PCM.
	ContainerPCM Container = "pcm"
)

// Containers lists every supported container in display order.
var Containers = []Container{ContainerWAV, ContainerCAF, ContainerM4A, ContainerPCM}

// ErrUnknownContainer is returned when a container name or extension is not recognized.
var ErrUnknownContainer = errors.New("unknown container")

// Extension returns the file extension for c, including the leading dot.
func (c Container) Extension() string {
	return "." + string(c)
}

// IsValid returns true if c is a supported container.
func (c Container) IsValid() bool {
	for _, known := range Containers {
		if c == known {
			return true
		}
	}
	return false
}

// ParseContainer maps a name or extension ("wav", ".WAV") to a Container.
func ParseContainer(s string) (Container, error) {
	c := Container(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownContainer, s)
	}
	return c, nil
}

// Encoding describes how each PCM sample is represented in a payload.
type Encoding string

const (
	// EncodingInt is little-endian signed integer PCM (unsigned for 8-bit).
	EncodingInt Encoding = "pcm_int"
	// EncodingFloat is little-endian IEEE float PCM.
	EncodingFloat Encoding = "pcm_float"
)

// Profile is the immutable description of the audio written to segments.
type Profile struct {
	// SampleRate is the number of frames per second.
	SampleRate int `json:"sample_rate" validate:"required,min=8000,max=384000"`
	// Channels is the number of interleaved channels per frame.
	Channels int `json:"channels" validate:"required,min=1,max=8"`
	// BitDepth is the number of bits per sample.
	BitDepth int `json:"bit_depth" validate:"required,oneof=8 16 24 32 64"`
	// Encoding is the sample representation.
	Encoding Encoding `json:"encoding" validate:"required,oneof=pcm_int pcm_float"`
	// Container is the segment file format.
	Container Container `json:"container" validate:"required,oneof=wav caf m4a pcm"`
}

// Static errors for profile validation.
var (
	// ErrInvalidProfile is returned when a profile fails validation.
	ErrInvalidProfile = errors.New("invalid output profile")
)

var validate = validator.New()

// DefaultProfile returns 48kHz mono 16-bit integer PCM in WAV.
func DefaultProfile() Profile {
	return Profile{
		SampleRate: 48000,
		Channels:   1,
		BitDepth:   16,
		Encoding:   EncodingInt,
		Container:  ContainerWAV,
	}
}

// Validate checks field ranges and cross-field combinations.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	switch p.Encoding {
	case EncodingFloat:
		if p.BitDepth != 32 && p.BitDepth != 64 {
			return fmt.Errorf("%w: float encoding requires 32 or 64 bits, got %d", ErrInvalidProfile, p.BitDepth)
		}
	case EncodingInt:
		if p.BitDepth == 64 {
			return fmt.Errorf("%w: 64-bit integer PCM is not supported", ErrInvalidProfile)
		}
		if p.BitDepth == 8 && p.Container != ContainerWAV && p.Container != ContainerPCM {
			return fmt.Errorf("%w: 8-bit PCM is only written to wav or pcm", ErrInvalidProfile)
		}
	}
	if p.Container == ContainerM4A && (p.Encoding != EncodingInt || p.BitDepth != 16) {
		return fmt.Errorf("%w: m4a input must be 16-bit integer PCM", ErrInvalidProfile)
	}
	return nil
}

// BytesPerSample returns the size of a single channel sample.
func (p Profile) BytesPerSample() int {
	return p.BitDepth / 8
}

// FrameSize returns the size in bytes of one interleaved frame.
func (p Profile) FrameSize() int {
	return p.BytesPerSample() * p.Channels
}

// ByteRate returns the number of payload bytes per second.
func (p Profile) ByteRate() int {
	return p.FrameSize() * p.SampleRate
}

// RawFormat returns the ffmpeg raw PCM format name for p, such as "s16le".
// It returns "" for combinations ffmpeg cannot express.
func (p Profile) RawFormat() string {
	switch {
	case p.Encoding == EncodingInt && p.BitDepth == 8:
		return "u8"
	case p.Encoding == EncodingInt && (p.BitDepth == 16 || p.BitDepth == 24 || p.BitDepth == 32):
		return fmt.Sprintf("s%dle", p.BitDepth)
	case p.Encoding == EncodingFloat && (p.BitDepth == 32 || p.BitDepth == 64):
		return fmt.Sprintf("f%dle", p.BitDepth)
	default:
		return ""
	}
}

// String returns a compact description for logs.
func (p Profile) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit %s %s", p.SampleRate, p.Channels, p.BitDepth, p.Encoding, p.Container)
}
