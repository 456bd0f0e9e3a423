package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/encoder"
	"github.com/maauso/segment-recorder/internal/events"
	"github.com/maauso/segment-recorder/internal/mediatime"
	"github.com/maauso/segment-recorder/internal/recorder"
	"github.com/maauso/segment-recorder/internal/segment"
	"github.com/maauso/segment-recorder/internal/storage"
	"github.com/maauso/segment-recorder/internal/writer"
)

// mockRecorder implements Recorder for testing.
type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockRecorder) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockRecorder) Configure(p audio.Profile, d time.Duration) error {
	args := m.Called(p, d)
	return args.Error(0)
}

func (m *mockRecorder) Status() recorder.Status {
	args := m.Called()
	return args.Get(0).(recorder.Status)
}

type testEnv struct {
	h        *Handlers
	rec      *mockRecorder
	dir      string
	catalog  *segment.MemoryCatalog
	indexes  *events.Stream[int]
	logger   *slog.Logger
	idleStat recorder.Status
}

func newTestHandlers(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	env := &testEnv{
		rec:     &mockRecorder{},
		dir:     dir,
		catalog: segment.NewMemoryCatalog(),
		indexes: &events.Stream[int]{},
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		idleStat: recorder.Status{Writer: writer.Stats{
			State:           writer.StateIdle,
			Profile:         audio.DefaultProfile(),
			SegmentDuration: 10 * time.Second,
		}},
	}
	env.h = NewHandlers(env.rec, st, env.logger,
		WithCatalog(env.catalog),
		WithIndexEvents(env.indexes),
		WithStopTimeout(time.Second),
	)
	return env
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	env.h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestGetRecording(t *testing.T) {
	env := newTestHandlers(t)
	env.rec.On("Status").Return(recorder.Status{
		Recording: true,
		Duration:  2500 * time.Millisecond,
		Writer: writer.Stats{
			State:           writer.StateActive,
			SessionID:       "rec-1",
			Index:           3,
			Profile:         audio.DefaultProfile(),
			SegmentDuration: time.Second,
			SegmentsOpened:  3,
			SamplesWritten:  25,
			FirstPTS:        mediatime.Zero(48000),
			EndPTS:          mediatime.New(120000, 48000),
		},
	})

	rec := httptest.NewRecorder()
	env.h.GetRecording(rec, httptest.NewRequest(http.MethodGet, "/recording", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp RecordingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Recording)
	assert.Equal(t, "ACTIVE", resp.State)
	assert.Equal(t, "rec-1", resp.SessionID)
	assert.Equal(t, 3, resp.Index)
	assert.Equal(t, 1.0, resp.SegmentDurationSeconds)
	assert.Equal(t, 2.5, resp.DurationSeconds)
	assert.Equal(t, 2.5, resp.RecordedSeconds)
	assert.Equal(t, int64(25), resp.SamplesWritten)
}

func TestStartRecording(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"already recording", recorder.ErrAlreadyRecording, http.StatusConflict, "ALREADY_RECORDING"},
		{"writer stopping", writer.ErrInvalidState, http.StatusConflict, "RECORDING_STOPPING"},
		{"no source", recorder.ErrNoSource, http.StatusServiceUnavailable, "NO_CAPTURE_SOURCE"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "START_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandlers(t)
			env.rec.On("Start", mock.Anything).Return(tt.err)
			env.rec.On("Status").Return(env.idleStat).Maybe()

			rec := httptest.NewRecorder()
			env.h.StartRecording(rec, httptest.NewRequest(http.MethodPost, "/recording/start", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, rec.Body).Code)
			}
			env.rec.AssertExpectations(t)
		})
	}
}

func TestStopRecording(t *testing.T) {
	finalize := errors.Join(&encoder.FinalizeError{Path: "a.wav", Err: errors.New("disk full")})
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"not recording", recorder.ErrNotRecording, http.StatusConflict, "NOT_RECORDING"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "STOP_TIMEOUT"},
		{"finalize failed", finalize, http.StatusInternalServerError, "FINALIZE_FAILED"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "STOP_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandlers(t)
			env.rec.On("Stop", mock.MatchedBy(func(ctx context.Context) bool {
				_, hasDeadline := ctx.Deadline()
				return hasDeadline
			})).Return(tt.err)
			env.rec.On("Status").Return(env.idleStat).Maybe()

			rec := httptest.NewRecorder()
			env.h.StopRecording(rec, httptest.NewRequest(http.MethodPost, "/recording/stop", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, rec.Body).Code)
			}
			env.rec.AssertExpectations(t)
		})
	}
}

func configBody(t *testing.T, req ConfigRequest) io.Reader {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestUpdateConfig(t *testing.T) {
	stereoCAF := audio.Profile{SampleRate: 44100, Channels: 2, BitDepth: 24, Encoding: audio.EncodingInt, Container: audio.ContainerCAF}
	base := ConfigRequest{SampleRate: 44100, Channels: 2, BitDepth: 24, Encoding: "pcm_int", Container: "caf"}

	t.Run("preset", func(t *testing.T) {
		env := newTestHandlers(t)
		env.rec.On("Status").Return(env.idleStat)
		env.rec.On("Configure", stereoCAF, 20*time.Second).Return(nil).Once()

		req := base
		req.Preset = "medium"
		rec := httptest.NewRecorder()
		env.h.UpdateConfig(rec, httptest.NewRequest(http.MethodPut, "/recording/config", configBody(t, req)))

		assert.Equal(t, http.StatusOK, rec.Code)
		env.rec.AssertExpectations(t)
	})

	t.Run("explicit seconds", func(t *testing.T) {
		env := newTestHandlers(t)
		env.rec.On("Status").Return(env.idleStat)
		env.rec.On("Configure", stereoCAF, 1500*time.Millisecond).Return(nil).Once()

		req := base
		req.SegmentDurationSeconds = 1.5
		rec := httptest.NewRecorder()
		env.h.UpdateConfig(rec, httptest.NewRequest(http.MethodPut, "/recording/config", configBody(t, req)))

		assert.Equal(t, http.StatusOK, rec.Code)
		env.rec.AssertExpectations(t)
	})

	t.Run("keeps current duration", func(t *testing.T) {
		env := newTestHandlers(t)
		env.rec.On("Status").Return(env.idleStat)
		env.rec.On("Configure", stereoCAF, 10*time.Second).Return(nil).Once()

		rec := httptest.NewRecorder()
		env.h.UpdateConfig(rec, httptest.NewRequest(http.MethodPut, "/recording/config", configBody(t, base)))

		assert.Equal(t, http.StatusOK, rec.Code)
		env.rec.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		env := newTestHandlers(t)
		rec := httptest.NewRecorder()
		env.h.UpdateConfig(rec, httptest.NewRequest(http.MethodPut, "/recording/config", strings.NewReader("nope")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_JSON", decodeError(t, rec.Body).Code)
	})

	t.Run("validation error", func(t *testing.T) {
		env := newTestHandlers(t)
		req := base
		req.BitDepth = 12
		req.Preset = "huge"
		rec := httptest.NewRecorder()
		env.h.UpdateConfig(rec, httptest.NewRequest(http.MethodPut, "/recording/config", configBody(t, req)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec.Body).Code)
		env.rec.AssertNotCalled(t, "Configure", mock.Anything, mock.Anything)
	})

	t.Run("float needs 32 or 64 bits", func(t *testing.T) {
		env := newTestHandlers(t)
		req := base
		req.Encoding = "pcm_float"
		req.BitDepth = 16
		rec := httptest.NewRecorder()
		env.h.UpdateConfig(rec, httptest.NewRequest(http.MethodPut, "/recording/config", configBody(t, req)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec.Body).Code)
	})

	t.Run("stopping", func(t *testing.T) {
		env := newTestHandlers(t)
		env.rec.On("Status").Return(env.idleStat)
		env.rec.On("Configure", stereoCAF, 10*time.Second).Return(writer.ErrInvalidState)

		rec := httptest.NewRecorder()
		env.h.UpdateConfig(rec, httptest.NewRequest(http.MethodPut, "/recording/config", configBody(t, base)))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "RECORDING_STOPPING", decodeError(t, rec.Body).Code)
	})
}

func writeSegmentFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data:"+name), 0600))
	}
}

func TestListSegments(t *testing.T) {
	env := newTestHandlers(t)
	writeSegmentFiles(t, env.dir,
		"rec_segment_0002.wav",
		"rec_segment_0001.wav",
		"rec_segment_0003.wav.partial",
		"other_segment_0001.caf",
		"notes.txt",
	)

	rec := httptest.NewRecorder()
	env.h.ListSegments(rec, httptest.NewRequest(http.MethodGet, "/segments?container=wav", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SegmentListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Segments, 2)
	assert.Equal(t, "rec_segment_0001.wav", resp.Segments[0].Name)
	assert.Equal(t, "rec_segment_0002.wav", resp.Segments[1].Name)
	assert.Equal(t, int64(len("data:rec_segment_0001.wav")), resp.Segments[0].Size)

	rec = httptest.NewRecorder()
	env.h.ListSegments(rec, httptest.NewRequest(http.MethodGet, "/segments", nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Segments, 3)

	rec = httptest.NewRecorder()
	env.h.ListSegments(rec, httptest.NewRequest(http.MethodGet, "/segments?container=ogg", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CONTAINER", decodeError(t, rec.Body).Code)
}

func TestGetSegment(t *testing.T) {
	env := newTestHandlers(t)
	writeSegmentFiles(t, env.dir, "rec_segment_0001.wav", "rec_segment_0002.wav.partial")

	tests := []struct {
		name     string
		segment  string
		wantCode int
	}{
		{"found", "rec_segment_0001.wav", http.StatusOK},
		{"missing", "rec_segment_0009.wav", http.StatusNotFound},
		{"in progress", "rec_segment_0002.wav.partial", http.StatusBadRequest},
		{"hidden", ".rec.wav", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/segments/x", nil)
			req.SetPathValue("name", tt.segment)
			rec := httptest.NewRecorder()

			env.h.GetSegment(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "data:rec_segment_0001.wav", rec.Body.String())
			}
		})
	}
}

func TestDeleteSegment(t *testing.T) {
	env := newTestHandlers(t)
	writeSegmentFiles(t, env.dir, "rec_segment_0001.wav")

	req := httptest.NewRequest(http.MethodDelete, "/segments/x", nil)
	req.SetPathValue("name", "rec_segment_0001.wav")
	rec := httptest.NewRecorder()
	env.h.DeleteSegment(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := os.Stat(filepath.Join(env.dir, "rec_segment_0001.wav"))
	assert.True(t, os.IsNotExist(err))

	rec = httptest.NewRecorder()
	env.h.DeleteSegment(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SEGMENT_NOT_FOUND", decodeError(t, rec.Body).Code)
}

func TestGetCatalog(t *testing.T) {
	env := newTestHandlers(t)
	ctx := context.Background()
	for _, info := range []segment.Info{
		{SessionID: "a", Index: 1, Path: "/x/a_segment_0001.wav", Profile: audio.DefaultProfile()},
		{SessionID: "b", Index: 1, Path: "/x/b_segment_0001.wav", Profile: audio.DefaultProfile()},
		{SessionID: "a", Index: 2, Path: "/x/a_segment_0002.wav", Profile: audio.DefaultProfile()},
	} {
		require.NoError(t, env.catalog.Save(ctx, info))
	}

	type catalogJSON struct {
		Segments []struct {
			SessionID string `json:"session_id"`
			Index     int    `json:"index"`
			Status    string `json:"status"`
		} `json:"segments"`
	}

	rec := httptest.NewRecorder()
	env.h.GetCatalog(rec, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all catalogJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&all))
	assert.Len(t, all.Segments, 3)

	rec = httptest.NewRecorder()
	env.h.GetCatalog(rec, httptest.NewRequest(http.MethodGet, "/catalog?session=a", nil))
	var session catalogJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	require.Len(t, session.Segments, 2)
	assert.Equal(t, 1, session.Segments[0].Index)
	assert.Equal(t, 2, session.Segments[1].Index)
	assert.Equal(t, "closed", session.Segments[0].Status)
}

func TestRecordingEvents(t *testing.T) {
	env := newTestHandlers(t)
	env.rec.On("Status").Return(env.idleStat)

	srv := httptest.NewServer(NewRouter(env.h, env.logger, DefaultConfig()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/recording/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var event, data string
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return event, data
			}
		}
	}

	event, data := readEvent()
	assert.Equal(t, "index", event)
	assert.JSONEq(t, `{"index":0}`, data)

	env.indexes.Publish(1)
	env.indexes.Publish(2)
	env.indexes.Complete()

	event, data = readEvent()
	assert.Equal(t, "index", event)
	assert.JSONEq(t, `{"index":1}`, data)
	_, data = readEvent()
	assert.JSONEq(t, `{"index":2}`, data)
	event, _ = readEvent()
	assert.Equal(t, "complete", event)
}

func TestMetrics(t *testing.T) {
	env := newTestHandlers(t)

	rec := httptest.NewRecorder()
	env.h.Metrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.h.metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "segrec_segments_opened_total 1\n")
	})
	rec = httptest.NewRecorder()
	env.h.Metrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "segrec_segments_opened_total")
}

func TestRouter_Integration(t *testing.T) {
	env := newTestHandlers(t)
	env.rec.On("Status").Return(env.idleStat)
	writeSegmentFiles(t, env.dir, "rec_segment_0001.wav")

	router := NewRouter(env.h, env.logger, DefaultConfig())

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/recording", http.StatusOK},
		{http.MethodGet, "/segments", http.StatusOK},
		{http.MethodGet, "/segments/rec_segment_0001.wav", http.StatusOK},
		{http.MethodGet, "/catalog", http.StatusOK},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(env.h, env.logger, cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/recording/start", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec.Body).Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	body := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	handler := LoggingMiddleware(logger, func() string { return "rec-42" })(body)

	decodeLast := func(t *testing.T) map[string]any {
		t.Helper()
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
		return entry
	}

	t.Run("recording requests carry the session", func(t *testing.T) {
		buf.Reset()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/recording/stop", nil))

		entry := decodeLast(t)
		assert.Equal(t, "http request", entry["msg"])
		assert.Equal(t, "rec-42", entry["session_id"])
		assert.Equal(t, float64(5), entry["bytes"])
		assert.Equal(t, float64(http.StatusOK), entry["status"])
	})

	t.Run("other requests do not", func(t *testing.T) {
		buf.Reset()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/segments", nil))

		entry := decodeLast(t)
		assert.NotContains(t, entry, "session_id")
	})

	t.Run("health checks log at debug", func(t *testing.T) {
		buf.Reset()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Empty(t, buf.String())
	})

	t.Run("nil session func", func(t *testing.T) {
		buf.Reset()
		h := LoggingMiddleware(logger, nil)(body)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/recording", nil))
		assert.NotContains(t, decodeLast(t), "session_id")
	})
}
