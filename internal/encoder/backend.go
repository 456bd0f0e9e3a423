package encoder

import (
	"bufio"
	"fmt"
	"os"

	"github.com/maauso/segment-recorder/internal/audio"
)

// Backend writes encoded audio for one segment file.
// Write is called from a single goroutine, in append order.
type Backend interface {
	Write(p []byte) error
	Close() error
}

// Opener creates a Backend for a destination path and profile.
type Opener interface {
	Open(path string, p audio.Profile) (Backend, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string, p audio.Profile) (Backend, error)

// Open implements Opener.
func (f OpenerFunc) Open(path string, p audio.Profile) (Backend, error) {
	return f(path, p)
}

// Compile-time check that FileOpener implements Opener.
var _ Opener = FileOpener{}

// FileOpener selects a backend by container.
type FileOpener struct {
	// FFmpegPath is the binary used for m4a. Defaults to "ffmpeg" in PATH.
	FFmpegPath string
}

// Open implements Opener.
func (o FileOpener) Open(path string, p audio.Profile) (Backend, error) {
	switch p.Container {
	case audio.ContainerWAV:
		return newWAVBackend(path, p)
	case audio.ContainerCAF:
		return newCAFBackend(path, p)
	case audio.ContainerPCM:
		return newPCMBackend(path)
	case audio.ContainerM4A:
		return newFFmpegBackend(o.FFmpegPath, path, p)
	default:
		return nil, fmt.Errorf("%w: container %q", ErrUnsupportedProfile, p.Container)
	}
}

// headerFile is a buffered file whose header is patched on close.
type headerFile struct {
	f     *os.File
	w     *bufio.Writer
	bytes int64
}

func createHeaderFile(path string, header []byte) (*headerFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDestination, err)
	}
	hf := &headerFile{f: f, w: bufio.NewWriterSize(f, 64*1024)}
	if _, err := hf.w.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: write header: %v", ErrDestination, err)
	}
	return hf, nil
}

func (h *headerFile) Write(p []byte) error {
	n, err := h.w.Write(p)
	h.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("write audio data: %w", err)
	}
	return nil
}

// headerPatch overwrites len(data) bytes at offset once data is flushed.
type headerPatch struct {
	offset int64
	data   []byte
}

// finish writes trailer, flushes buffered data, applies patches and closes the file.
func (h *headerFile) finish(trailer []byte, patches ...headerPatch) error {
	if len(trailer) > 0 {
		if _, err := h.w.Write(trailer); err != nil {
			_ = h.f.Close()
			return fmt.Errorf("write trailer: %w", err)
		}
	}
	if err := h.w.Flush(); err != nil {
		_ = h.f.Close()
		return fmt.Errorf("flush audio data: %w", err)
	}
	for _, p := range patches {
		if _, err := h.f.WriteAt(p.data, p.offset); err != nil {
			_ = h.f.Close()
			return fmt.Errorf("patch header: %w", err)
		}
	}
	if err := h.f.Sync(); err != nil {
		_ = h.f.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := h.f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

// pcmBackend writes headerless interleaved frames.
type pcmBackend struct {
	*headerFile
}

func newPCMBackend(path string) (*pcmBackend, error) {
	hf, err := createHeaderFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &pcmBackend{headerFile: hf}, nil
}

func (b *pcmBackend) Close() error {
	return b.finish(nil)
}
