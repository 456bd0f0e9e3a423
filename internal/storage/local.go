package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maauso/segment-recorder/internal/audio"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements the Storage interface over the segment directory.
// It does not support uploads unless wrapped with S3Storage.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If dir is empty, a "segment-recorder" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "segment-recorder")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}

	return &LocalStorage{dir: dir}, nil
}

// Dir returns the segment directory path.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// ListSegments implements Storage. In-progress files end in ".partial" and
// are never listed.
func (s *LocalStorage) ListSegments(ctx context.Context, c audio.Container) ([]SegmentFile, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read segment directory: %w", err)
	}

	files := make([]SegmentFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() {
			continue
		}
		if !matchesContainer(name, c) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, SegmentFile{
			Name:    name,
			Path:    filepath.Join(s.dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// OpenSegment implements Storage.
func (s *LocalStorage) OpenSegment(ctx context.Context, name string) (io.ReadSeekCloser, SegmentFile, error) {
	select {
	case <-ctx.Done():
		return nil, SegmentFile{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path, err := s.resolve(name)
	if err != nil {
		return nil, SegmentFile{}, err
	}

	f, err := os.Open(path) // #nosec G304 - name is validated to stay inside dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, SegmentFile{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
		}
		return nil, SegmentFile{}, fmt.Errorf("open segment file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, SegmentFile{}, fmt.Errorf("stat segment file: %w", err)
	}

	return f, SegmentFile{Name: name, Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// RemoveSegments implements Storage. Missing files are ignored;
// the first other error encountered is returned.
func (s *LocalStorage) RemoveSegments(ctx context.Context, names []string) error {
	var firstErr error
	for _, name := range names {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		path, err := s.resolve(name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove segment file %s: %w", name, err)
			}
		}
	}
	return firstErr
}

// UploadSegment is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadSegment(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// resolve maps a bare file name to a path inside dir.
func (s *LocalStorage) resolve(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

func matchesContainer(name string, c audio.Container) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if c != "" {
		return ext == c.Extension()
	}
	for _, known := range audio.Containers {
		if ext == known.Extension() {
			return true
		}
	}
	return false
}
