package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/mediatime"
	"github.com/maauso/segment-recorder/internal/segment"
	"github.com/maauso/segment-recorder/internal/storage"
)

// MockHandler is a mock implementation of Handler.
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) HandleSegment(ctx context.Context, info segment.Info) error {
	args := m.Called(ctx, info)
	return args.Error(0)
}

type countingFailures struct {
	mu    sync.Mutex
	count map[string]int
}

func (c *countingFailures) DeliveryFailed(handler string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = make(map[string]int)
	}
	c.count[handler]++
}

func testInfo(dir string) segment.Info {
	return segment.Info{
		SessionID: "rec-1-abcd",
		Index:     1,
		Path:      filepath.Join(dir, "rec-1-abcd_segment_0001.wav"),
		Profile:   audio.DefaultProfile(),
		Start:     mediatime.Zero(48000),
		End:       mediatime.New(480000, 48000),
		Status:    segment.StatusClosed,
	}
}

func TestDispatcher_DeliverRunsCatalogAndHandlers(t *testing.T) {
	catalog := segment.NewMemoryCatalog()
	h := new(MockHandler)
	info := testInfo(t.TempDir())
	h.On("HandleSegment", mock.Anything, info).Return(nil).Once()

	d := NewDispatcher(WithCatalog(catalog), WithHandler("mock", h))
	require.NoError(t, d.Deliver(context.Background(), info))

	h.AssertExpectations(t)
	stored, err := catalog.Find(context.Background(), info.SessionID, info.Index)
	require.NoError(t, err)
	assert.Equal(t, segment.StatusClosed, stored.Status)
}

func TestDispatcher_FailedSegmentIsOnlyCataloged(t *testing.T) {
	catalog := segment.NewMemoryCatalog()
	h := new(MockHandler)
	info := testInfo(t.TempDir())
	info.Status = segment.StatusFailed
	info.Err = errors.New("disk full")

	d := NewDispatcher(WithCatalog(catalog), WithHandler("mock", h))
	require.NoError(t, d.Deliver(context.Background(), info))

	h.AssertNotCalled(t, "HandleSegment", mock.Anything, mock.Anything)
	stored, err := catalog.Find(context.Background(), info.SessionID, info.Index)
	require.NoError(t, err)
	assert.True(t, stored.Failed())
}

func TestDispatcher_HandlerErrorIsCountedNotFatal(t *testing.T) {
	failing := new(MockHandler)
	ok := new(MockHandler)
	info := testInfo(t.TempDir())
	failing.On("HandleSegment", mock.Anything, info).Return(errors.New("boom"))
	ok.On("HandleSegment", mock.Anything, info).Return(nil)
	failures := &countingFailures{}

	d := NewDispatcher(
		WithHandler("failing", failing),
		WithHandler("ok", ok),
		WithFailureCounter(failures),
	)
	err := d.Deliver(context.Background(), info)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: boom")
	ok.AssertExpectations(t)
	assert.Equal(t, 1, failures.count["failing"])
}

func TestDispatcher_NotifierSeesUploadURL(t *testing.T) {
	catalog := segment.NewMemoryCatalog()
	info := testInfo(t.TempDir())

	upload := HandlerFunc(func(ctx context.Context, i segment.Info) error {
		return catalog.MarkUploaded(ctx, i.SessionID, i.Index, "https://bucket/key")
	})
	var notified segment.Info
	notify := HandlerFunc(func(_ context.Context, i segment.Info) error {
		notified = i
		return nil
	})

	d := NewDispatcher(WithCatalog(catalog), WithHandler("upload", upload), WithNotifier("notify", notify))
	require.NoError(t, d.Deliver(context.Background(), info))

	assert.Equal(t, "https://bucket/key", notified.URL)
	assert.Equal(t, segment.StatusUploaded, notified.Status)
}

func TestDispatcher_SegmentClosedIsAsyncAndCloseWaits(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []int
	slow := HandlerFunc(func(_ context.Context, i segment.Info) error {
		<-release
		mu.Lock()
		delivered = append(delivered, i.Index)
		mu.Unlock()
		return nil
	})

	d := NewDispatcher(WithHandler("slow", slow))
	info := testInfo(t.TempDir())

	returned := make(chan struct{})
	go func() {
		d.SegmentClosed(info)
		info.Index = 2
		d.SegmentClosed(info)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("SegmentClosed blocked on a slow handler")
	}

	close(release)
	require.NoError(t, d.Close(context.Background()))
	mu.Lock()
	assert.ElementsMatch(t, []int{1, 2}, delivered)
	mu.Unlock()

	d.SegmentClosed(info)
	assert.ErrorIs(t, d.Close(context.Background()), ErrClosed)
}

func TestDispatcher_CloseTimeoutCancelsDeliveries(t *testing.T) {
	blocking := HandlerFunc(func(ctx context.Context, _ segment.Info) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher(WithHandler("blocking", blocking))
	d.SegmentClosed(testInfo(t.TempDir()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestUploader_HandleSegment(t *testing.T) {
	var gotPath string
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	s3, err := storage.NewS3Storage(dir, storage.S3Config{
		Bucket:          "segments",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "k",
		SecretAccessKey: "s",
	})
	require.NoError(t, err)

	info := testInfo(dir)
	require.NoError(t, os.WriteFile(info.Path, []byte("RIFF"), 0600))

	catalog := segment.NewMemoryCatalog()
	require.NoError(t, catalog.Save(context.Background(), info))

	u := NewUploader(s3, catalog, nil)
	require.NoError(t, u.HandleSegment(context.Background(), info))

	assert.Equal(t, "/segments/rec-1-abcd/rec-1-abcd_segment_0001.wav", gotPath)
	assert.Equal(t, "RIFF", gotBody)

	stored, err := catalog.Find(context.Background(), info.SessionID, info.Index)
	require.NoError(t, err)
	assert.Equal(t, segment.StatusUploaded, stored.Status)
	assert.Equal(t, server.URL+"/segments/rec-1-abcd/rec-1-abcd_segment_0001.wav", stored.URL)
}

func TestUploader_LocalStorageNotConfigured(t *testing.T) {
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	info := testInfo(dir)
	require.NoError(t, os.WriteFile(info.Path, []byte("RIFF"), 0600))

	err = NewUploader(local, nil, nil).HandleSegment(context.Background(), info)
	assert.ErrorIs(t, err, storage.ErrS3NotConfigured)
}
