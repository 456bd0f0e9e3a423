package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/encoder"
	"github.com/maauso/segment-recorder/internal/events"
	"github.com/maauso/segment-recorder/internal/recorder"
	"github.com/maauso/segment-recorder/internal/segment"
	"github.com/maauso/segment-recorder/internal/storage"
	"github.com/maauso/segment-recorder/internal/writer"
)

// DefaultStopTimeout bounds how long POST /recording/stop waits for the
// last segments to finalize.
const DefaultStopTimeout = 30 * time.Second

// Recorder is the recording service driven by the API.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Configure(p audio.Profile, segmentDuration time.Duration) error
	Status() recorder.Status
}

// Compile-time check that *recorder.Service implements Recorder.
var _ Recorder = (*recorder.Service)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	recorder    Recorder
	storage     storage.Storage
	catalog     segment.Catalog
	indexes     *events.Stream[int]
	metrics     http.Handler
	validator   *validator.Validate
	logger      *slog.Logger
	stopTimeout time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithCatalog serves closed-segment records on GET /catalog.
func WithCatalog(c segment.Catalog) HandlerOption {
	return func(h *Handlers) { h.catalog = c }
}

// WithIndexEvents serves index changes of s on GET /recording/events.
func WithIndexEvents(s *events.Stream[int]) HandlerOption {
	return func(h *Handlers) { h.indexes = s }
}

// WithMetrics serves m on GET /metrics.
func WithMetrics(m http.Handler) HandlerOption {
	return func(h *Handlers) { h.metrics = m }
}

// WithStopTimeout sets how long a stop request waits for finalization.
func WithStopTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.stopTimeout = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(rec Recorder, st storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		recorder:    rec,
		storage:     st,
		validator:   validator.New(),
		logger:      logger,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GetRecording handles GET /recording requests.
func (h *Handlers) GetRecording(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, recordingResponse(h.recorder.Status()))
}

// sessionID returns the current or last recording session ID.
func (h *Handlers) sessionID() string {
	return h.recorder.Status().Writer.SessionID
}

// StartRecording handles POST /recording/start requests.
func (h *Handlers) StartRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.recorder.Start(r.Context()); err != nil {
		switch {
		case errors.Is(err, recorder.ErrAlreadyRecording):
			writeError(w, http.StatusConflict, err.Error(), "ALREADY_RECORDING")
		case errors.Is(err, writer.ErrInvalidState):
			writeError(w, http.StatusConflict, err.Error(), "RECORDING_STOPPING")
		case errors.Is(err, recorder.ErrNoSource):
			writeError(w, http.StatusServiceUnavailable, err.Error(), "NO_CAPTURE_SOURCE")
		default:
			h.logger.Error("failed to start recording", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to start recording", "START_FAILED")
		}
		return
	}
	writeJSON(w, http.StatusOK, recordingResponse(h.recorder.Status()))
}

// StopRecording handles POST /recording/stop requests. The stop outlives
// a disconnected client, bounded by the stop timeout.
func (h *Handlers) StopRecording(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.stopTimeout)
	defer cancel()

	if err := h.recorder.Stop(ctx); err != nil {
		var finErr *encoder.FinalizeError
		switch {
		case errors.Is(err, recorder.ErrNotRecording):
			writeError(w, http.StatusConflict, err.Error(), "NOT_RECORDING")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "recording is still stopping", "STOP_TIMEOUT")
		case errors.As(err, &finErr):
			h.logger.Error("segments failed to finalize", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error(), "FINALIZE_FAILED")
		default:
			h.logger.Error("failed to stop recording", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to stop recording", "STOP_FAILED")
		}
		return
	}
	writeJSON(w, http.StatusOK, recordingResponse(h.recorder.Status()))
}

// UpdateConfig handles PUT /recording/config requests.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	p := audio.Profile{
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		BitDepth:   req.BitDepth,
		Encoding:   audio.Encoding(req.Encoding),
		Container:  audio.Container(req.Container),
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	d := h.recorder.Status().Writer.SegmentDuration
	switch {
	case req.Preset != "":
		d = writer.DurationPreset(req.Preset).Duration()
	case req.SegmentDurationSeconds > 0:
		d = time.Duration(req.SegmentDurationSeconds * float64(time.Second))
	}

	if err := h.recorder.Configure(p, d); err != nil {
		switch {
		case errors.Is(err, writer.ErrInvalidState):
			writeError(w, http.StatusConflict, err.Error(), "RECORDING_STOPPING")
		case errors.Is(err, writer.ErrInvalidDuration), errors.Is(err, audio.ErrInvalidProfile):
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		default:
			h.logger.Error("failed to configure recorder", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to configure recorder", "CONFIG_FAILED")
		}
		return
	}

	h.logger.Info("recorder configured",
		slog.String("profile", p.String()),
		slog.Duration("segment_duration", d),
	)
	writeJSON(w, http.StatusOK, recordingResponse(h.recorder.Status()))
}

// RecordingEvents handles GET /recording/events requests. It streams
// Server-Sent "index" events until the client goes away; a "complete"
// event marks the end of a session.
func (h *Handlers) RecordingEvents(w http.ResponseWriter, r *http.Request) {
	if h.indexes == nil {
		writeError(w, http.StatusNotFound, "index events are not enabled", "EVENTS_DISABLED")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "STREAMING_UNSUPPORTED")
		return
	}

	sub := h.indexes.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "index", IndexEvent{Index: h.recorder.Status().Writer.Index})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case index, ok := <-sub.C():
			if !ok {
				writeEvent(w, "complete", struct{}{})
				flusher.Flush()
				return
			}
			writeEvent(w, "index", IndexEvent{Index: index})
			flusher.Flush()
		}
	}
}

// ListSegments handles GET /segments requests.
func (h *Handlers) ListSegments(w http.ResponseWriter, r *http.Request) {
	var c audio.Container
	if q := r.URL.Query().Get("container"); q != "" {
		parsed, err := audio.ParseContainer(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CONTAINER")
			return
		}
		c = parsed
	}

	files, err := h.storage.ListSegments(r.Context(), c)
	if err != nil {
		h.logger.Error("failed to list segments", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list segments", "LIST_FAILED")
		return
	}

	resp := SegmentListResponse{Segments: make([]SegmentFileResponse, 0, len(files))}
	for _, f := range files {
		resp.Segments = append(resp.Segments, SegmentFileResponse{
			Name:       f.Name,
			Size:       f.Size,
			ModifiedAt: f.ModTime.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSegment handles GET /segments/{name} requests.
func (h *Handlers) GetSegment(w http.ResponseWriter, r *http.Request) {
	name, ok := h.segmentName(w, r)
	if !ok {
		return
	}

	f, info, err := h.storage.OpenSegment(r.Context(), name)
	if err != nil {
		h.writeStorageError(w, name, err)
		return
	}
	defer func() { _ = f.Close() }()

	http.ServeContent(w, r, info.Name, info.ModTime, f)
}

// DeleteSegment handles DELETE /segments/{name} requests.
func (h *Handlers) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	name, ok := h.segmentName(w, r)
	if !ok {
		return
	}

	f, _, err := h.storage.OpenSegment(r.Context(), name)
	if err != nil {
		h.writeStorageError(w, name, err)
		return
	}
	_ = f.Close()

	if err := h.storage.RemoveSegments(r.Context(), []string{name}); err != nil {
		h.writeStorageError(w, name, err)
		return
	}

	h.logger.Info("segment removed", slog.String("name", name))
	w.WriteHeader(http.StatusNoContent)
}

// GetCatalog handles GET /catalog requests, optionally filtered by ?session=.
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeJSON(w, http.StatusOK, CatalogResponse{Segments: []segment.Info{}})
		return
	}

	var (
		infos []segment.Info
		err   error
	)
	if session := r.URL.Query().Get("session"); session != "" {
		infos, err = h.catalog.ListSession(r.Context(), session)
	} else {
		infos, err = h.catalog.List(r.Context())
	}
	if err != nil {
		h.logger.Error("failed to list catalog", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list catalog", "CATALOG_FAILED")
		return
	}
	if infos == nil {
		infos = []segment.Info{}
	}
	writeJSON(w, http.StatusOK, CatalogResponse{Segments: infos})
}

// Metrics handles GET /metrics requests.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics are not enabled", "METRICS_DISABLED")
		return
	}
	h.metrics.ServeHTTP(w, r)
}

// segmentName validates the {name} path value. Only finished segment files
// are addressable, never in-progress ones.
func (h *Handlers) segmentName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "segment name is required", "MISSING_SEGMENT_NAME")
		return "", false
	}
	if _, err := audio.ParseContainer(filepath.Ext(name)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SEGMENT_NAME")
		return "", false
	}
	return name, true
}

func (h *Handlers) writeStorageError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SEGMENT_NAME")
	case errors.Is(err, storage.ErrSegmentNotFound):
		writeError(w, http.StatusNotFound, "segment not found", "SEGMENT_NOT_FOUND")
	default:
		h.logger.Error("segment storage failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "segment storage failed", "STORAGE_FAILED")
	}
}

func recordingResponse(st recorder.Status) RecordingResponse {
	ws := st.Writer
	return RecordingResponse{
		Recording:              st.Recording,
		State:                  string(ws.State),
		SessionID:              ws.SessionID,
		Index:                  ws.Index,
		Profile:                ws.Profile,
		SegmentDurationSeconds: ws.SegmentDuration.Seconds(),
		DurationSeconds:        st.Duration.Seconds(),
		RecordedSeconds:        ws.RecordedDuration().Seconds(),
		SegmentsOpened:         ws.SegmentsOpened,
		SegmentsClosed:         ws.SegmentsClosed,
		SamplesWritten:         ws.SamplesWritten,
		SamplesDropped:         ws.SamplesDropped,
		SamplesInvalid:         ws.SamplesInvalid,
		OpenFailures:           ws.OpenFailures,
		FinalizeErrors:         ws.FinalizeErrors,
		CaptureError:           st.CaptureError,
	}
}

// writeEvent writes one Server-Sent Event with a JSON payload.
func writeEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode event", slog.String("error", err.Error()))
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
