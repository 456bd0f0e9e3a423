package encoder

import (
	"encoding/binary"
	"math"

	"github.com/maauso/segment-recorder/internal/audio"
)

// CAF layout: 8-byte file header, 'desc' chunk (12 + 32), then the 'data'
// chunk header (12) and a 4-byte edit count before the first frame.
const (
	cafDataSizeOffset = 56
	cafHeaderSize     = 68

	cafFlagFloat        = 1
	cafFlagLittleEndian = 2
)

// cafBackend writes Core Audio Format linear PCM. The data chunk size is
// written as -1 (unknown) and patched on close.
type cafBackend struct {
	*headerFile
}

func newCAFBackend(path string, p audio.Profile) (*cafBackend, error) {
	hf, err := createHeaderFile(path, cafHeader(p))
	if err != nil {
		return nil, err
	}
	return &cafBackend{headerFile: hf}, nil
}

func (b *cafBackend) Close() error {
	size := make([]byte, 8)
	binary.BigEndian.PutUint64(size, uint64(b.bytes+4))
	return b.finish(nil, headerPatch{offset: cafDataSizeOffset, data: size})
}

func cafHeader(p audio.Profile) []byte {
	h := make([]byte, cafHeaderSize)
	flags := uint32(cafFlagLittleEndian)
	if p.Encoding == audio.EncodingFloat {
		flags |= cafFlagFloat
	}

	copy(h[0:4], "caff")
	binary.BigEndian.PutUint16(h[4:6], 1)
	binary.BigEndian.PutUint16(h[6:8], 0)

	copy(h[8:12], "desc")
	binary.BigEndian.PutUint64(h[12:20], 32)
	binary.BigEndian.PutUint64(h[20:28], math.Float64bits(float64(p.SampleRate)))
	copy(h[28:32], "lpcm")
	binary.BigEndian.PutUint32(h[32:36], flags)
	binary.BigEndian.PutUint32(h[36:40], uint32(p.FrameSize()))
	binary.BigEndian.PutUint32(h[40:44], 1)
	binary.BigEndian.PutUint32(h[44:48], uint32(p.Channels))
	binary.BigEndian.PutUint32(h[48:52], uint32(p.BitDepth))

	copy(h[52:56], "data")
	unknown := int64(-1)
	binary.BigEndian.PutUint64(h[56:64], uint64(unknown))
	binary.BigEndian.PutUint32(h[64:68], 0)
	return h
}
