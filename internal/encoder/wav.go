package encoder

import (
	"encoding/binary"
	"math"

	"github.com/maauso/segment-recorder/internal/audio"
)

const (
	wavHeaderSize  = 44
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// wavBackend writes a canonical 44-byte RIFF/WAVE header followed by data.
// The RIFF and data sizes are patched on close.
type wavBackend struct {
	*headerFile
}

func newWAVBackend(path string, p audio.Profile) (*wavBackend, error) {
	hf, err := createHeaderFile(path, wavHeader(p, 0))
	if err != nil {
		return nil, err
	}
	return &wavBackend{headerFile: hf}, nil
}

func (b *wavBackend) Close() error {
	var pad []byte
	if b.bytes%2 == 1 {
		pad = []byte{0}
	}
	riff := make([]byte, 4)
	binary.LittleEndian.PutUint32(riff, clampUint32(36+b.bytes+int64(len(pad))))
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, clampUint32(b.bytes))
	return b.finish(pad, headerPatch{offset: 4, data: riff}, headerPatch{offset: 40, data: data})
}

func wavHeader(p audio.Profile, dataSize uint32) []byte {
	h := make([]byte, wavHeaderSize)
	format := uint16(wavFormatPCM)
	if p.Encoding == audio.EncodingFloat {
		format = wavFormatFloat
	}

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], format)
	binary.LittleEndian.PutUint16(h[22:24], uint16(p.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(p.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(p.ByteRate()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(p.FrameSize()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(p.BitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

func clampUint32(n int64) uint32 {
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
