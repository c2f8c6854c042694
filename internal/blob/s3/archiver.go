package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/optfolio/opttracker/internal/domain"
)

// PositionArchiveStore provides read access to closed positions for archival
// purposes. The archiver only needs this one query, not the full
// domain.PositionStore.
type PositionArchiveStore interface {
	// ListClosedBefore returns full aggregates for positions closed
	// strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// AuditArchiveStore provides read access to aged audit entries.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for settled
// records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer    domain.ObjectWriter
	reader    domain.ObjectReader
	deleter   domain.ObjectDeleter
	positions PositionArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. The reader and deleter back the
// post-upload verification: a snapshot is only reported as archived after
// it has been read back at the expected size.
func NewArchiver(
	writer domain.ObjectWriter,
	reader domain.ObjectReader,
	deleter domain.ObjectDeleter,
	positions PositionArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		deleter:   deleter,
		positions: positions,
		audit:     audit,
	}
}

// archivedPosition is the serialized form of one closed aggregate: the
// position header with its lots and exit records inlined.
type archivedPosition struct {
	Position domain.Position     `json:"position"`
	Lots     []domain.EntryLot   `json:"lots"`
	Exits    []domain.ExitRecord `json:"exits"`
}

// ArchiveClosedPositions queries positions closed before the cutoff,
// serializes each full aggregate as one JSONL line, and uploads the file to
// archive/positions/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived positions is returned.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	records := make([]archivedPosition, 0, len(positions))
	for _, pos := range positions {
		rec := archivedPosition{Position: pos, Lots: pos.Lots, Exits: pos.Exits}
		rec.Position.Lots = nil
		rec.Position.Exits = nil
		records = append(records, rec)
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}
	if err := a.verifyUpload(ctx, path, int64(len(buf))); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions: %w", err)
	}

	count := int64(len(positions))

	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}

	return count, nil
}

// ArchiveAuditLog queries audit entries created before the cutoff,
// serializes them to JSONL, and uploads the file to
// archive/audit/YYYY-MM.jsonl. The count of archived entries is returned.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	if err := a.verifyUpload(ctx, path, int64(len(buf))); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// verifyUpload confirms a snapshot landed at the expected size before the
// run is reported as archived. A truncated object is pruned so the next
// sweep re-uploads it instead of leaving a corrupt snapshot behind.
func (a *ArchiveImpl) verifyUpload(ctx context.Context, path string, size int64) error {
	infos, err := a.reader.List(ctx, path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	for _, info := range infos {
		if info.Path != path {
			continue
		}
		if info.Size != size {
			if delErr := a.deleter.Delete(ctx, path); delErr != nil {
				return fmt.Errorf("verify %s: stored %d bytes, want %d; prune failed: %w",
					path, info.Size, size, delErr)
			}
			return fmt.Errorf("verify %s: stored %d bytes, want %d; pruned", path, info.Size, size)
		}
		return nil
	}
	return fmt.Errorf("verify %s: object missing after upload", path)
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
