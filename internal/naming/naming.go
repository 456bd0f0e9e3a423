// Package naming produces session identifiers and segment destination paths.
package naming

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/maauso/segment-recorder/internal/audio"
)

// ErrInvalidIndex is returned when a segment index is not positive.
var ErrInvalidIndex = errors.New("segment index must be positive")

// ErrEmptySession is returned when the session ID is empty.
var ErrEmptySession = errors.New("session ID is required")

// Namer returns the destination path for a segment.
// Implementations must return a path unique across the process lifetime
// for a given (sessionID, index) pair.
type Namer interface {
	NextPath(sessionID string, index int, p audio.Profile) (string, error)
}

// Compile-time check that DirNamer implements Namer.
var _ Namer = (*DirNamer)(nil)

// DirNamer places segments in a single directory as
// <sessionID>_segment_<index><ext>, with the index zero-padded so that
// filename order equals segment order.
type DirNamer struct {
	dir string
}

// NewDirNamer creates a DirNamer rooted at dir.
// If dir is empty, os.TempDir() is used. The directory is created if it doesn't exist.
func NewDirNamer(dir string) (*DirNamer, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}
	return &DirNamer{dir: dir}, nil
}

// Dir returns the directory segments are written to.
func (n *DirNamer) Dir() string {
	return n.dir
}

// NextPath implements Namer.
func (n *DirNamer) NextPath(sessionID string, index int, p audio.Profile) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySession
	}
	if index <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	return filepath.Join(n.dir, SegmentName(sessionID, index, p.Container)), nil
}

// SegmentName returns the file name used for a segment.
func SegmentName(sessionID string, index int, c audio.Container) string {
	return fmt.Sprintf("%s_segment_%04d%s", sessionID, index, c.Extension())
}

// SessionIDFunc returns a new session ID on every call.
type SessionIDFunc func() string

// NewSessionID creates a new unique recording session ID.
// Format: rec-<timestamp>-<random>
// Example: rec-1701432000-a1b2c3d4
func NewSessionID() string {
	return sessionID(time.Now(), rand.Reader)
}

func sessionID(now time.Time, entropy io.Reader) string {
	var random [4]byte
	if _, err := io.ReadFull(entropy, random[:]); err != nil {
		return fmt.Sprintf("rec-%d", now.Unix())
	}
	return fmt.Sprintf("rec-%d-%s", now.Unix(), hex.EncodeToString(random[:]))
}

// SequentialSessionIDs returns prefix-1, prefix-2 and so on. It is safe for
// concurrent use.
func SequentialSessionIDs(prefix string) SessionIDFunc {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
