package encoder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/maauso/segment-recorder/internal/audio"
)

// ffmpegBackend pipes raw PCM to an ffmpeg process that encodes AAC into
// an MPEG-4 container. The container is only complete once ffmpeg exits.
type ffmpegBackend struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
}

func newFFmpegBackend(ffmpegPath, path string, p audio.Profile) (*ffmpegBackend, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	bin, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: m4a encoder unavailable: %v", ErrUnsupportedProfile, err)
	}
	format, err := ffmpegInputFormat(p)
	if err != nil {
		return nil, err
	}

	// Create the destination up front so an unwritable path fails Open
	// instead of surfacing when ffmpeg exits.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDestination, err)
	}
	_ = f.Close()

	b := &ffmpegBackend{}
	b.cmd = exec.Command(bin, ffmpegArgs(format, p, path)...)
	b.cmd.Stderr = &b.stderr

	b.stdin, err = b.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create stdin pipe: %v", ErrDestination, err)
	}
	if err := b.cmd.Start(); err != nil {
		_ = b.stdin.Close()
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDestination, err)
	}
	return b, nil
}

func ffmpegArgs(format string, p audio.Profile, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", format,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "ipod",
		output,
	}
}

// ffmpegInputFormat maps a profile to ffmpeg's raw demuxer name.
func ffmpegInputFormat(p audio.Profile) (string, error) {
	format := p.RawFormat()
	if format == "" {
		return "", fmt.Errorf("%w: no raw format for %s", ErrUnsupportedProfile, p)
	}
	return format, nil
}

func (b *ffmpegBackend) Write(p []byte) error {
	if _, err := b.stdin.Write(p); err != nil {
		return fmt.Errorf("write to ffmpeg: %w", err)
	}
	return nil
}

// Close ends the input stream and waits for ffmpeg to write the container.
func (b *ffmpegBackend) Close() error {
	closeErr := b.stdin.Close()
	if err := b.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w\nOutput: %s", err, b.stderr.String())
	}
	if closeErr != nil {
		return fmt.Errorf("close ffmpeg input: %w", closeErr)
	}
	return nil
}
