// Package server provides the HTTP API of the segment recorder.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/segment"
)

// ConfigRequest is the HTTP request body for changing the output profile
// and segment duration. Either SegmentDurationSeconds or Preset may be
// given; when both are empty the current duration is kept.
type ConfigRequest struct {
	SampleRate int    `json:"sample_rate" validate:"required,min=8000,max=384000"`
	Channels   int    `json:"channels" validate:"required,min=1,max=8"`
	BitDepth   int    `json:"bit_depth" validate:"required,oneof=8 16 24 32 64"`
	Encoding   string `json:"encoding" validate:"required,oneof=pcm_int pcm_float"`
	Container  string `json:"container" validate:"required,oneof=wav caf m4a pcm"`
	// SegmentDurationSeconds is the length of future segments.
	SegmentDurationSeconds float64 `json:"segment_duration_seconds" validate:"omitempty,gt=0,lte=3600"`
	// Preset is one of short, medium or long.
	Preset string `json:"preset" validate:"omitempty,oneof=short medium long"`
}

// RecordingResponse describes the recorder and the current or last session.
type RecordingResponse struct {
	Recording              bool          `json:"recording"`
	State                  string        `json:"state"`
	SessionID              string        `json:"session_id,omitempty"`
	Index                  int           `json:"index"`
	Profile                audio.Profile `json:"profile"`
	SegmentDurationSeconds float64       `json:"segment_duration_seconds"`
	// DurationSeconds is the capture time spanned by the session.
	DurationSeconds float64 `json:"duration_seconds"`
	// RecordedSeconds is the media time accepted by the writer.
	RecordedSeconds float64 `json:"recorded_seconds"`
	SegmentsOpened  int     `json:"segments_opened"`
	SegmentsClosed  int     `json:"segments_closed"`
	SamplesWritten  int64   `json:"samples_written"`
	SamplesDropped  int64   `json:"samples_dropped"`
	SamplesInvalid  int64   `json:"samples_invalid"`
	OpenFailures    int64   `json:"open_failures"`
	FinalizeErrors  int64   `json:"finalize_errors"`
	CaptureError    string  `json:"capture_error,omitempty"`
}

// SegmentFileResponse is one entry of the segment directory listing.
type SegmentFileResponse struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// SegmentListResponse is the HTTP response for the segment directory listing.
type SegmentListResponse struct {
	Segments []SegmentFileResponse `json:"segments"`
}

// CatalogResponse is the HTTP response for closed-segment records.
type CatalogResponse struct {
	Segments []segment.Info `json:"segments"`
}

// IndexEvent is the data of a Server-Sent "index" event.
type IndexEvent struct {
	Index int `json:"index"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
