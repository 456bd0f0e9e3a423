package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/maauso/segment-recorder/internal/audio"
)

// DefaultGracePeriod is how long ffmpeg gets to exit after being asked to quit.
const DefaultGracePeriod = 5 * time.Second

// FFmpegSource captures from an ffmpeg input device, for example
// Format "pulse" with Device "default", or "avfoundation" with ":0".
// ffmpeg converts the input to the profile and writes raw PCM to stdout.
type FFmpegSource struct {
	FFmpegPath      string
	Format          string
	Device          string
	Profile         audio.Profile
	FramesPerBuffer int
	GracePeriod     time.Duration
	Logger          *slog.Logger
}

// Args returns the ffmpeg arguments for the source.
func (s *FFmpegSource) Args() ([]string, error) {
	raw := s.Profile.RawFormat()
	if raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, s.Profile)
	}
	if s.Device == "" {
		return nil, fmt.Errorf("capture device is required")
	}

	var args []string
	args = append(args, "-hide_banner", "-loglevel", "error", "-nostats")
	if s.Format != "" {
		args = append(args, "-f", s.Format)
	}
	args = append(args,
		"-i", s.Device,
		"-vn",
		"-ac", strconv.Itoa(s.Profile.Channels),
		"-ar", strconv.Itoa(s.Profile.SampleRate),
		"-f", raw,
		"pipe:1",
	)
	return args, nil
}

// Run implements Source. Cancelling ctx asks ffmpeg to quit by writing 'q'
// to its stdin and kills it after GracePeriod. Cancellation is a clean stop.
func (s *FFmpegSource) Run(ctx context.Context, fn func(audio.Sample)) error {
	args, err := s.Args()
	if err != nil {
		return err
	}
	ffmpegPath := s.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := s.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Cancel = func() error {
		_, werr := io.WriteString(stdin, "q")
		_ = stdin.Close()
		return werr
	}
	cmd.WaitDelay = grace

	reader, err := NewReaderSource(stdout, s.Profile, s.FramesPerBuffer)
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	logger.Info("capture started",
		slog.String("format", s.Format),
		slog.String("device", s.Device),
		slog.String("profile", s.Profile.String()),
	)

	drained := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-drained:
			return
		}
		select {
		case <-time.After(grace):
			_ = cmd.Process.Kill()
		case <-drained:
		}
	}()

	// Output still buffered when ctx is cancelled is read until ffmpeg
	// closes stdout.
	readErr := reader.Run(context.WithoutCancel(ctx), fn)
	close(drained)
	waitErr := cmd.Wait()

	logger.Info("capture stopped", slog.String("device", s.Device))

	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg: %w\nOutput: %s", waitErr, stderr.String())
	}
	return nil
}
