// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/segment-recorder/internal/audio"
)

// Static errors for configuration validation.
var (
	// ErrInvalidSegmentDuration is returned when SEGMENT_DURATION is not positive.
	ErrInvalidSegmentDuration = errors.New("config: SEGMENT_DURATION must be positive")
	// ErrInvalidQueueSize is returned when APPEND_QUEUE_SIZE is not positive.
	ErrInvalidQueueSize = errors.New("config: APPEND_QUEUE_SIZE must be positive")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Recording settings
	OutputDir       string        `env:"OUTPUT_DIR, default=/tmp/segment-recorder" json:"output_dir"`
	SegmentDuration time.Duration `env:"SEGMENT_DURATION, default=10s" json:"segment_duration"`
	SampleRate      int           `env:"SAMPLE_RATE, default=48000" json:"sample_rate"`
	Channels        int           `env:"CHANNELS, default=1" json:"channels"`
	BitDepth        int           `env:"BIT_DEPTH, default=16" json:"bit_depth"`
	SampleEncoding  string        `env:"SAMPLE_ENCODING, default=pcm_int" json:"sample_encoding"`
	Container       string        `env:"CONTAINER, default=wav" json:"container"`
	AppendQueueSize int           `env:"APPEND_QUEUE_SIZE, default=64" json:"append_queue_size"`

	// Capture settings
	FFmpegPath    string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	CaptureFormat string `env:"CAPTURE_FORMAT" json:"capture_format,omitempty"` // e.g. "pulse", "alsa", "avfoundation"
	CaptureDevice string `env:"CAPTURE_DEVICE" json:"capture_device,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional Redis settings
	RedisAddr     string `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisPassword string `env:"REDIS_PASSWORD" json:"-"` // Masked in JSON
	RedisDB       int    `env:"REDIS_DB, default=0" json:"redis_db"`
	RedisChannel  string `env:"REDIS_CHANNEL, default=segments" json:"redis_channel"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RedisEnabled returns true if a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// CaptureEnabled returns true if an ffmpeg capture device is configured.
func (c *Config) CaptureEnabled() bool {
	return c.CaptureDevice != ""
}

// LoadDotEnv loads variables from the given .env files, or ./.env when none
// are given. Missing files are ignored and variables already set in the
// environment are never overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration from l.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Profile returns the output profile described by the configuration.
func (c *Config) Profile() (audio.Profile, error) {
	container, err := audio.ParseContainer(c.Container)
	if err != nil {
		return audio.Profile{}, fmt.Errorf("config: CONTAINER: %w", err)
	}
	p := audio.Profile{
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		BitDepth:   c.BitDepth,
		Encoding:   audio.Encoding(strings.ToLower(c.SampleEncoding)),
		Container:  container,
	}
	if err := p.Validate(); err != nil {
		return audio.Profile{}, fmt.Errorf("config: %w", err)
	}
	return p, nil
}

// Validate checks that the configuration describes a usable recorder.
func (c *Config) Validate() error {
	if _, err := c.Profile(); err != nil {
		return err
	}
	if c.SegmentDuration <= 0 {
		return ErrInvalidSegmentDuration
	}
	if c.AppendQueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OutputDir: %s, SegmentDuration: %s, SampleRate: %d, Channels: %d, BitDepth: %d, SampleEncoding: %s, Container: %s, CaptureFormat: %s, CaptureDevice: %s, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, RedisAddr: %s, RedisChannel: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.OutputDir,
		c.SegmentDuration,
		c.SampleRate,
		c.Channels,
		c.BitDepth,
		c.SampleEncoding,
		c.Container,
		c.CaptureFormat,
		c.CaptureDevice,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.RedisAddr,
		c.RedisChannel,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
