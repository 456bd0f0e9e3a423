package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maauso/segment-recorder/internal/audio"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		dir := filepath.Join(os.TempDir(), "segrec_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(dir) }()

		storage, err := NewLocalStorage(dir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.Dir() != dir {
			t.Errorf("Dir() = %v, want %v", storage.Dir(), dir)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "segment-recorder")
		if storage.Dir() != expected {
			t.Errorf("Dir() = %v, want %v", storage.Dir(), expected)
		}
	})
}

func TestLocalStorage_ListSegments(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	writeFile(t, storage.Dir(), "rec_segment_0002.wav", "bb")
	writeFile(t, storage.Dir(), "rec_segment_0001.wav", "a")
	writeFile(t, storage.Dir(), "rec_segment_0010.WAV", "cccc")
	writeFile(t, storage.Dir(), "rec_segment_0003.wav.partial", "x")
	writeFile(t, storage.Dir(), "rec_segment_0001.caf", "caf")
	writeFile(t, storage.Dir(), ".hidden.wav", "h")
	writeFile(t, storage.Dir(), "notes.txt", "n")
	if err := os.Mkdir(filepath.Join(storage.Dir(), "dir.wav"), 0750); err != nil {
		t.Fatal(err)
	}

	t.Run("filters by container and sorts by name", func(t *testing.T) {
		files, err := storage.ListSegments(ctx, audio.ContainerWAV)
		if err != nil {
			t.Fatalf("ListSegments() error = %v", err)
		}

		want := []string{"rec_segment_0001.wav", "rec_segment_0002.wav", "rec_segment_0010.WAV"}
		if len(files) != len(want) {
			t.Fatalf("got %d files, want %d: %+v", len(files), len(want), files)
		}
		for i, f := range files {
			if f.Name != want[i] {
				t.Errorf("files[%d] = %s, want %s", i, f.Name, want[i])
			}
		}
		if files[1].Size != 2 {
			t.Errorf("size = %d, want 2", files[1].Size)
		}
		if files[0].Path != filepath.Join(storage.Dir(), "rec_segment_0001.wav") {
			t.Errorf("unexpected path %s", files[0].Path)
		}
	})

	t.Run("empty container lists all known containers", func(t *testing.T) {
		files, err := storage.ListSegments(ctx, "")
		if err != nil {
			t.Fatalf("ListSegments() error = %v", err)
		}
		if len(files) != 4 {
			t.Errorf("got %d files, want 4", len(files))
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := storage.ListSegments(cancelled, audio.ContainerWAV)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_OpenSegment(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	writeFile(t, storage.Dir(), "seg.wav", "audio bytes")

	t.Run("opens existing segment", func(t *testing.T) {
		r, file, err := storage.OpenSegment(ctx, "seg.wav")
		if err != nil {
			t.Fatalf("OpenSegment() error = %v", err)
		}
		defer r.Close()

		content, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(content) != "audio bytes" {
			t.Errorf("got %q", string(content))
		}
		if file.Size != int64(len("audio bytes")) {
			t.Errorf("size = %d", file.Size)
		}
	})

	t.Run("missing segment", func(t *testing.T) {
		_, _, err := storage.OpenSegment(ctx, "nope.wav")
		if !errors.Is(err, ErrSegmentNotFound) {
			t.Errorf("expected ErrSegmentNotFound, got %v", err)
		}
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		for _, name := range []string{"../etc/passwd", "a/b.wav", "", ".hidden", `..\x.wav`} {
			_, _, err := storage.OpenSegment(ctx, name)
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("OpenSegment(%q) expected ErrInvalidName, got %v", name, err)
			}
		}
	})
}

func TestLocalStorage_RemoveSegments(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	writeFile(t, storage.Dir(), "a.wav", "a")
	writeFile(t, storage.Dir(), "b.wav", "b")

	t.Run("removes files and ignores missing", func(t *testing.T) {
		if err := storage.RemoveSegments(ctx, []string{"a.wav", "missing.wav"}); err != nil {
			t.Fatalf("RemoveSegments() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(storage.Dir(), "a.wav")); !os.IsNotExist(err) {
			t.Error("a.wav should be removed")
		}
	})

	t.Run("invalid name reported but others removed", func(t *testing.T) {
		err := storage.RemoveSegments(ctx, []string{"../x", "b.wav"})
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected ErrInvalidName, got %v", err)
		}
		if _, err := os.Stat(filepath.Join(storage.Dir(), "b.wav")); !os.IsNotExist(err) {
			t.Error("b.wav should be removed")
		}
	})
}

func TestLocalStorage_UploadSegment(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.UploadSegment(context.Background(), "key", nil)
	if !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("expected ErrS3NotConfigured, got %v", err)
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	dir := filepath.Join(os.TempDir(), "segrec_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	storage, err := NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
