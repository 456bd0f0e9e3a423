// Package storage provides access to finished segment files.
// It defines the Storage interface (port) and implementations for the local
// segment directory and for S3 delivery on top of it.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/maauso/segment-recorder/internal/audio"
)

// Static errors for storage operations.
var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrInvalidName is returned when a segment name is empty, hidden or contains a path.
	ErrInvalidName = errors.New("invalid segment name")
	// ErrSegmentNotFound is returned when a segment file does not exist.
	ErrSegmentNotFound = errors.New("segment file not found")
)

// SegmentFile describes a completed segment on disk.
type SegmentFile struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Storage defines the interface for segment file access.
type Storage interface {
	// Dir returns the local segment directory.
	Dir() string

	// ListSegments returns completed segment files with the container's
	// extension, sorted by name. An empty container lists every known one.
	ListSegments(ctx context.Context, c audio.Container) ([]SegmentFile, error)

	// OpenSegment opens a segment for reading by file name.
	// The caller is responsible for closing the returned file.
	OpenSegment(ctx context.Context, name string) (io.ReadSeekCloser, SegmentFile, error)

	// RemoveSegments deletes segment files by name.
	// It continues even if some files fail to delete.
	RemoveSegments(ctx context.Context, names []string) error

	// UploadSegment uploads data to object storage and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadSegment(ctx context.Context, key string, data io.Reader) (url string, err error)
}
