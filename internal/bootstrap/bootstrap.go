// Package bootstrap provides dependency initialization for the segment recorder.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/capture"
	"github.com/maauso/segment-recorder/internal/config"
	"github.com/maauso/segment-recorder/internal/delivery"
	"github.com/maauso/segment-recorder/internal/encoder"
	"github.com/maauso/segment-recorder/internal/metrics"
	"github.com/maauso/segment-recorder/internal/naming"
	"github.com/maauso/segment-recorder/internal/notify"
	"github.com/maauso/segment-recorder/internal/recorder"
	"github.com/maauso/segment-recorder/internal/segment"
	"github.com/maauso/segment-recorder/internal/server"
	"github.com/maauso/segment-recorder/internal/storage"
	"github.com/maauso/segment-recorder/internal/writer"
)

// Dependencies holds all initialized dependencies of the recorder.
type Dependencies struct {
	Storage    storage.Storage
	Catalog    *segment.MemoryCatalog
	Metrics    *metrics.Metrics
	Dispatcher *delivery.Dispatcher
	Writer     *writer.SegmentedWriter
	Recorder   *recorder.Service

	redis  *redis.Client
	logger *slog.Logger
}

// Option customizes NewDependencies.
type Option func(*options)

type options struct {
	source recorder.SourceFactory
}

// WithSourceFactory overrides the capture source built from the
// configuration, for example to record from stdin.
func WithSourceFactory(f recorder.SourceFactory) Option {
	return func(o *options) { o.source = f }
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Dependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.source == nil {
		o.source = sourceFromConfig(cfg, logger)
	}

	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Segments are named into the same directory the storage lists.
	namer, err := naming.NewDirNamer(store.Dir())
	if err != nil {
		return nil, fmt.Errorf("create namer: %w", err)
	}

	m := metrics.New()
	catalog := segment.NewMemoryCatalog()

	deps := &Dependencies{
		Storage: store,
		Catalog: catalog,
		Metrics: m,
		logger:  logger,
	}

	dispatcherOpts := []delivery.Option{
		delivery.WithCatalog(catalog),
		delivery.WithLogger(logger),
		delivery.WithFailureCounter(m),
	}
	if cfg.S3Enabled() {
		dispatcherOpts = append(dispatcherOpts,
			delivery.WithHandler("s3", delivery.NewUploader(store, catalog, logger)))
	}

	var recorderOpts []recorder.Option
	if cfg.RedisEnabled() {
		deps.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		publisher := notify.NewRedisPublisher(deps.redis, cfg.RedisChannel, logger)
		dispatcherOpts = append(dispatcherOpts, delivery.WithNotifier("redis", publisher))
		recorderOpts = append(recorderOpts, recorder.WithIndexPublisher(publisher))
		logger.Info("redis notifications configured",
			slog.String("addr", cfg.RedisAddr),
			slog.String("channel", publisher.Channel()),
			slog.String("index_channel", publisher.IndexChannel()),
		)
	}
	deps.Dispatcher = delivery.NewDispatcher(dispatcherOpts...)

	deps.Writer = writer.New(namer,
		writer.WithLogger(logger),
		writer.WithObserver(m),
		writer.WithSegmentHandler(deps.Dispatcher),
		writer.WithProfile(profile),
		writer.WithSegmentDuration(cfg.SegmentDuration),
		writer.WithEncoderOptions(
			encoder.WithOpener(encoder.FileOpener{FFmpegPath: cfg.FFmpegPath}),
			encoder.WithQueueSize(cfg.AppendQueueSize),
			encoder.WithLogger(logger),
		),
	)

	recorderOpts = append(recorderOpts,
		recorder.WithLogger(logger),
		recorder.WithSourceFactory(o.source),
	)
	deps.Recorder = recorder.New(deps.Writer, recorderOpts...)

	return deps, nil
}

// Ping checks the optional Redis connection.
func (d *Dependencies) Ping(ctx context.Context) error {
	if d.redis == nil {
		return nil
	}
	if err := d.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// MetricsHandler serves the Prometheus registry, refreshing the index gauge
// on every scrape.
func (d *Dependencies) MetricsHandler() http.Handler {
	return d.Metrics.Handler(func() {
		d.Metrics.IndexChanged(d.Writer.Index())
	})
}

// NewHandlers builds the HTTP handlers over the dependencies.
func (d *Dependencies) NewHandlers() *server.Handlers {
	return server.NewHandlers(d.Recorder, d.Storage, d.logger,
		server.WithCatalog(d.Catalog),
		server.WithIndexEvents(d.Writer.Segments()),
		server.WithMetrics(d.MetricsHandler()),
	)
}

// Close stops a running recording, waits for pending deliveries and closes
// the Redis client.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if err := d.Recorder.Stop(ctx); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
		errs = append(errs, fmt.Errorf("stop recording: %w", err))
	}
	// Segments closed by a background stop still go through the dispatcher.
	d.Recorder.Wait()
	if err := d.Dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// sourceFromConfig returns an ffmpeg device source when a capture device is
// configured, or nil.
func sourceFromConfig(cfg *config.Config, logger *slog.Logger) recorder.SourceFactory {
	if !cfg.CaptureEnabled() {
		return nil
	}
	return func(p audio.Profile) (capture.Source, error) {
		return &capture.FFmpegSource{
			FFmpegPath: cfg.FFmpegPath,
			Format:     cfg.CaptureFormat,
			Device:     cfg.CaptureDevice,
			Profile:    p,
			Logger:     logger,
		}, nil
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("output_dir", cfg.OutputDir),
	)
	return localStore, nil
}
