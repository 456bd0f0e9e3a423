package segment

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a segment record cannot be found.
var ErrNotFound = errors.New("segment not found")

// Catalog defines the interface for closed-segment records.
type Catalog interface {
	// Save stores info, replacing any record with the same session and index.
	Save(ctx context.Context, info Info) error

	// Find returns the record for a session and index.
	// Returns ErrNotFound if it does not exist.
	Find(ctx context.Context, sessionID string, index int) (Info, error)

	// List returns all records ordered by session then index.
	List(ctx context.Context) ([]Info, error)

	// ListSession returns the records of one session ordered by index.
	ListSession(ctx context.Context, sessionID string) ([]Info, error)

	// MarkUploaded records the object storage URL of a segment.
	MarkUploaded(ctx context.Context, sessionID string, index int, url string) error
}

// Compile-time check that MemoryCatalog implements Catalog.
var _ Catalog = (*MemoryCatalog)(nil)

type key struct {
	session string
	index   int
}

// MemoryCatalog is an in-memory implementation of Catalog.
// It uses a map with RWMutex for thread-safe access. Info is a value type,
// so stored and returned records never alias.
type MemoryCatalog struct {
	mu      sync.RWMutex
	records map[key]Info
}

// NewMemoryCatalog creates a new in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		records: make(map[key]Info),
	}
}

// Save implements Catalog.
func (c *MemoryCatalog) Save(_ context.Context, info Info) error {
	if info.Status == "" {
		info.Status = StatusClosed
		if info.Err != nil {
			info.Status = StatusFailed
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[key{info.SessionID, info.Index}] = info
	return nil
}

// HandleSegment saves info, letting the catalog receive closed segments directly.
func (c *MemoryCatalog) HandleSegment(ctx context.Context, info Info) error {
	return c.Save(ctx, info)
}

// Find implements Catalog.
func (c *MemoryCatalog) Find(_ context.Context, sessionID string, index int) (Info, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.records[key{sessionID, index}]
	if !ok {
		return Info{}, ErrNotFound
	}
	return info, nil
}

// List implements Catalog.
func (c *MemoryCatalog) List(_ context.Context) ([]Info, error) {
	c.mu.RLock()
	result := make([]Info, 0, len(c.records))
	for _, info := range c.records {
		result = append(result, info)
	}
	c.mu.RUnlock()

	sortInfos(result)
	return result, nil
}

// ListSession implements Catalog.
func (c *MemoryCatalog) ListSession(_ context.Context, sessionID string) ([]Info, error) {
	c.mu.RLock()
	result := make([]Info, 0)
	for k, info := range c.records {
		if k.session == sessionID {
			result = append(result, info)
		}
	}
	c.mu.RUnlock()

	sortInfos(result)
	return result, nil
}

// MarkUploaded implements Catalog.
func (c *MemoryCatalog) MarkUploaded(_ context.Context, sessionID string, index int, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{sessionID, index}
	info, ok := c.records[k]
	if !ok {
		return ErrNotFound
	}
	info.URL = url
	info.Status = StatusUploaded
	c.records[k] = info
	return nil
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].SessionID != infos[j].SessionID {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].Index < infos[j].Index
	})
}
