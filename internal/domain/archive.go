package domain

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one archived object, e.g. a JSONL snapshot of
// closed positions for a given day.
type ObjectInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectWriter uploads archive snapshots to cold storage. PutMultipart is
// used when a snapshot may exceed a single-request upload.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ObjectReader retrieves archived snapshots for restore or inspection.
type ObjectReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ObjectDeleter prunes snapshots, used after an archive has been verified.
type ObjectDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver snapshots settled rows out of the database into cold storage.
// Counts report how many rows each pass moved.
type Archiver interface {
	ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error)
	ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error)
}
