package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/maauso/segment-recorder/internal/segment"
	"github.com/maauso/segment-recorder/internal/storage"
)

// Compile-time check that Uploader implements Handler.
var _ Handler = (*Uploader)(nil)

// Uploader copies closed segments to object storage under
// <session>/<file name> and records the URL in the catalog.
type Uploader struct {
	storage storage.Storage
	catalog segment.Catalog
	logger  *slog.Logger
}

// NewUploader creates an Uploader. catalog may be nil.
func NewUploader(s storage.Storage, catalog segment.Catalog, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{storage: s, catalog: catalog, logger: logger}
}

// HandleSegment implements Handler.
func (u *Uploader) HandleSegment(ctx context.Context, info segment.Info) error {
	f, _, err := u.storage.OpenSegment(ctx, info.Name())
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := path.Join(info.SessionID, info.Name())
	url, err := u.storage.UploadSegment(ctx, key, f)
	if err != nil {
		return err
	}

	u.logger.Info("segment uploaded",
		slog.String("segment", info.Key()),
		slog.String("url", url),
	)

	if u.catalog != nil {
		if err := u.catalog.MarkUploaded(ctx, info.SessionID, info.Index, url); err != nil {
			return fmt.Errorf("mark uploaded: %w", err)
		}
	}
	return nil
}
