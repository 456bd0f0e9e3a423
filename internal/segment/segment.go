// Package segment provides the closed-segment record and its catalog.
package segment

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/maauso/segment-recorder/internal/audio"
	"github.com/maauso/segment-recorder/internal/mediatime"
)

// Status represents the delivery state of a closed segment.
type Status string

const (
	// StatusClosed indicates the segment file is complete on local disk.
	StatusClosed Status = "closed"
	// StatusFailed indicates the segment could not be finalized.
	StatusFailed Status = "failed"
	// StatusUploaded indicates the segment was also copied to object storage.
	StatusUploaded Status = "uploaded"
)

// Info describes one finalized segment.
type Info struct {
	// SessionID is the recording session the segment belongs to.
	SessionID string
	// Index is the 1-based position of the segment within the session.
	Index int
	// Path is the final local path of the segment file.
	Path string
	// URL is the object storage location, set once uploaded.
	URL string
	// Profile is the output profile the segment was written with.
	Profile audio.Profile
	// Start is the PTS of the first sample in the segment.
	Start mediatime.Time
	// End is the PTS just past the last frame written.
	End mediatime.Time
	// Samples and Bytes count accepted sample buffers and payload bytes.
	Samples int64
	Bytes   int64
	// Dropped counts samples rejected by backpressure while this segment was open.
	Dropped int64
	// Status is the delivery state.
	Status Status
	// Err is the finalize failure, if any.
	Err error
	// ClosedAt is the wall-clock time finalization completed.
	ClosedAt time.Time
}

// Name returns the segment file name.
func (i Info) Name() string {
	return filepath.Base(i.Path)
}

// Duration returns the media time covered by the segment.
func (i Info) Duration() mediatime.Time {
	if !i.Start.IsValid() || !i.End.IsValid() {
		return mediatime.Zero(mediatime.DefaultScale)
	}
	return i.End.Sub(i.Start)
}

// Failed returns true if the segment did not finalize cleanly.
func (i Info) Failed() bool {
	return i.Err != nil || i.Status == StatusFailed
}

// Key returns a stable identifier "<session>/<index>".
func (i Info) Key() string {
	return fmt.Sprintf("%s/%d", i.SessionID, i.Index)
}

// infoJSON is the wire form of Info.
type infoJSON struct {
	SessionID       string        `json:"session_id"`
	Index           int           `json:"index"`
	Name            string        `json:"name"`
	Path            string        `json:"path"`
	URL             string        `json:"url,omitempty"`
	Profile         audio.Profile `json:"profile"`
	StartSeconds    float64       `json:"start_seconds"`
	DurationSeconds float64       `json:"duration_seconds"`
	Samples         int64         `json:"samples"`
	Bytes           int64         `json:"bytes"`
	Dropped         int64         `json:"dropped"`
	Status          Status        `json:"status"`
	Error           string        `json:"error,omitempty"`
	ClosedAt        time.Time     `json:"closed_at"`
}

// MarshalJSON renders timestamps as seconds.
func (i Info) MarshalJSON() ([]byte, error) {
	v := infoJSON{
		SessionID:       i.SessionID,
		Index:           i.Index,
		Name:            i.Name(),
		Path:            i.Path,
		URL:             i.URL,
		Profile:         i.Profile,
		StartSeconds:    i.Start.Seconds(),
		DurationSeconds: i.Duration().Seconds(),
		Samples:         i.Samples,
		Bytes:           i.Bytes,
		Dropped:         i.Dropped,
		Status:          i.Status,
		ClosedAt:        i.ClosedAt,
	}
	if i.Err != nil {
		v.Error = i.Err.Error()
	}
	return json.Marshal(v)
}
