package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/bootstrap"
	"github.com/maauso/segment-recorder/internal/capture"
	"github.com/maauso/segment-recorder/internal/config"
	"github.com/maauso/segment-recorder/internal/writer"
)

// recordOptions holds the flag overrides of the record command.
type recordOptions struct {
	duration        time.Duration
	stdin           bool
	format          string
	device          string
	container       string
	segmentDuration time.Duration
	preset          string
	outputDir       string
}

// recordCmd creates the record command.
func recordCmd() *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from stdin or an ffmpeg input device into segments",
		Long: `Record audio into fixed-length segment files until --duration elapses,
the input ends, or Ctrl+C is pressed. The open segment is always finalized.

With --stdin the input is raw interleaved PCM in the configured profile
(SAMPLE_RATE, CHANNELS, BIT_DEPTH, SAMPLE_ENCODING).`,
		Example: `  segrec record --format pulse --device default --preset medium
  segrec record --format avfoundation --device :0 -d 5m
  ffmpeg -i talk.mp3 -f s16le -ac 1 -ar 48000 - | segrec record --stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.duration < 0 {
				return fmt.Errorf("duration must not be negative")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cfg); err != nil {
				return err
			}
			return runRecord(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (default: until interrupted)")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "Read raw PCM from stdin")
	cmd.Flags().StringVar(&opts.format, "format", "", "ffmpeg input format (overrides CAPTURE_FORMAT)")
	cmd.Flags().StringVar(&opts.device, "device", "", "ffmpeg input device (overrides CAPTURE_DEVICE)")
	cmd.Flags().StringVarP(&opts.container, "container", "c", "", "Segment container: wav, caf, m4a or pcm")
	cmd.Flags().DurationVarP(&opts.segmentDuration, "segment-duration", "s", 0, "Segment length (overrides SEGMENT_DURATION)")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "Segment length preset: short, medium or long")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Segment directory (overrides OUTPUT_DIR)")

	cmd.MarkFlagsMutuallyExclusive("stdin", "device")
	cmd.MarkFlagsMutuallyExclusive("segment-duration", "preset")

	return cmd
}

// apply copies the flag overrides into cfg.
func (o recordOptions) apply(cfg *config.Config) error {
	if o.format != "" {
		cfg.CaptureFormat = o.format
	}
	if o.device != "" {
		cfg.CaptureDevice = o.device
	}
	if o.container != "" {
		cfg.Container = o.container
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.segmentDuration > 0 {
		cfg.SegmentDuration = o.segmentDuration
	}
	if o.preset != "" {
		p, err := writer.ParsePreset(o.preset)
		if err != nil {
			return err
		}
		cfg.SegmentDuration = p.Duration()
	}
	if !o.stdin && !cfg.CaptureEnabled() {
		return fmt.Errorf("%w: no capture source, use --stdin or --device", errSetup)
	}
	return nil
}

// runRecord records one session.
func runRecord(ctx context.Context, cfg *config.Config, opts recordOptions) error {
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	var depOpts []bootstrap.Option
	if opts.stdin {
		depOpts = append(depOpts, bootstrap.WithSourceFactory(func(p audio.Profile) (capture.Source, error) {
			return capture.NewReaderSource(os.Stdin, p, 0)
		}))
	}

	deps, err := bootstrap.NewDependencies(cfg, logger, depOpts...)
	if err != nil {
		return fmt.Errorf("%w: %w", errSetup, err)
	}
	if err := deps.Ping(ctx); err != nil {
		logger.Warn("redis unavailable", slog.String("error", err.Error()))
	}

	if err := deps.Recorder.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Recording %s segments to %s... (press Ctrl+C to stop)\n",
		cfg.SegmentDuration, deps.Storage.Dir())

	var deadline <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
	case <-deadline:
	case <-deps.Recorder.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
	defer cancel()

	closeErr := deps.Close(stopCtx)
	st := deps.Recorder.Status()

	fmt.Fprintf(os.Stderr, "Recorded %s in %d segments (%d samples dropped)\n",
		st.Duration.Round(time.Millisecond), st.Writer.SegmentsClosed, st.Writer.SamplesDropped)
	if st.CaptureError != "" {
		return fmt.Errorf("capture: %s", st.CaptureError)
	}
	return closeErr
}
