package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/segment-recorder/internal/mediatime"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()

	require.NoError(t, p.Validate())
	assert.Equal(t, 48000, p.SampleRate)
	assert.Equal(t, 1, p.Channels)
	assert.Equal(t, 2, p.FrameSize())
	assert.Equal(t, 96000, p.ByteRate())
	assert.Equal(t, ".wav", p.Container.Extension())
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr bool
	}{
		{"default is valid", func(*Profile) {}, false},
		{"stereo 24-bit caf", func(p *Profile) { p.Channels = 2; p.BitDepth = 24; p.Container = ContainerCAF }, false},
		{"float 32", func(p *Profile) { p.Encoding = EncodingFloat; p.BitDepth = 32 }, false},
		{"float 16 rejected", func(p *Profile) { p.Encoding = EncodingFloat }, true},
		{"int 64 rejected", func(p *Profile) { p.BitDepth = 64 }, true},
		{"zero sample rate", func(p *Profile) { p.SampleRate = 0 }, true},
		{"too many channels", func(p *Profile) { p.Channels = 9 }, true},
		{"odd bit depth", func(p *Profile) { p.BitDepth = 12 }, true},
		{"8-bit wav", func(p *Profile) { p.BitDepth = 8 }, false},
		{"8-bit caf rejected", func(p *Profile) { p.BitDepth = 8; p.Container = ContainerCAF }, true},
		{"unknown container", func(p *Profile) { p.Container = "mp3" }, true},
		{"m4a 16-bit int", func(p *Profile) { p.Container = ContainerM4A }, false},
		{"m4a 24-bit rejected", func(p *Profile) { p.Container = ContainerM4A; p.BitDepth = 24 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProfile)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseContainer(t *testing.T) {
	tests := []struct {
		in      string
		want    Container
		wantErr bool
	}{
		{"wav", ContainerWAV, false},
		{".WAV", ContainerWAV, false},
		{" caf ", ContainerCAF, false},
		{"m4a", ContainerM4A, false},
		{"pcm", ContainerPCM, false},
		{"mp3", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseContainer(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownContainer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSample_Frames(t *testing.T) {
	p := DefaultProfile()
	p.Channels = 2

	s := NewSample(make([]byte, 4*10+1), mediatime.New(0, 48000))
	assert.True(t, s.Valid)
	assert.Equal(t, 10, s.Frames(p))

	invalid := NewSample(nil, mediatime.Invalid)
	assert.False(t, invalid.Valid)
}

func TestProfile_RawFormat(t *testing.T) {
	tests := []struct {
		encoding Encoding
		depth    int
		want     string
	}{
		{EncodingInt, 8, "u8"},
		{EncodingInt, 16, "s16le"},
		{EncodingInt, 24, "s24le"},
		{EncodingFloat, 32, "f32le"},
		{EncodingFloat, 64, "f64le"},
		{EncodingFloat, 16, ""},
	}
	for _, tt := range tests {
		p := Profile{Encoding: tt.encoding, BitDepth: tt.depth}
		assert.Equal(t, tt.want, p.RawFormat(), "%s/%d", tt.encoding, tt.depth)
	}
}
