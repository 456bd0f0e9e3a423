// Package notify publishes segment events to Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/segment-recorder/internal/segment"
)

// DefaultChannel is the channel closed segments are published to.
const DefaultChannel = "segments"

// SegmentMessage is the JSON document published for each closed segment.
type SegmentMessage struct {
	SessionID       string  `json:"session_id"`
	Index           int     `json:"index"`
	Path            string  `json:"path"`
	URL             string  `json:"url,omitempty"`
	StartSeconds    float64 `json:"start_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Samples         int64   `json:"samples"`
	Bytes           int64   `json:"bytes"`
}

// IndexMessage is published on <channel>:index whenever the active segment changes.
// Index 0 means no segment is active.
type IndexMessage struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
}

// RedisPublisher publishes segment events. It implements delivery.Handler.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher creates a RedisPublisher on channel (DefaultChannel if empty).
func NewRedisPublisher(client redis.Cmdable, channel string, logger *slog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Channel returns the closed-segment channel name.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// IndexChannel returns the index event channel name.
func (p *RedisPublisher) IndexChannel() string {
	return p.channel + ":index"
}

// HandleSegment publishes info as a SegmentMessage.
func (p *RedisPublisher) HandleSegment(ctx context.Context, info segment.Info) error {
	msg := SegmentMessage{
		SessionID:       info.SessionID,
		Index:           info.Index,
		Path:            info.Path,
		URL:             info.URL,
		StartSeconds:    info.Start.Seconds(),
		DurationSeconds: info.Duration().Seconds(),
		Samples:         info.Samples,
		Bytes:           info.Bytes,
	}
	receivers, err := p.publish(ctx, p.channel, msg)
	if err != nil {
		return err
	}
	p.logger.Debug("segment published",
		slog.String("channel", p.channel),
		slog.String("segment", info.Key()),
		slog.Int64("receivers", receivers),
	)
	return nil
}

// PublishIndex publishes an index change for a session.
func (p *RedisPublisher) PublishIndex(ctx context.Context, sessionID string, index int) error {
	_, err := p.publish(ctx, p.IndexChannel(), IndexMessage{SessionID: sessionID, Index: index})
	return err
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, v any) (int64, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	n, err := p.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return n, nil
}
