package s3blob_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	s3blob "github.com/optfolio/opttracker/internal/blob/s3"
	"github.com/optfolio/opttracker/internal/domain"
	"github.com/optfolio/opttracker/internal/store/memory"
)

// fakeBlob is an in-memory object store. truncate drops that many bytes
// from every Put to simulate a short upload.
type fakeBlob struct {
	objects  map[string][]byte
	truncate int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.truncate > 0 && len(b) > f.truncate {
		b = b[:len(b)-f.truncate]
	}
	f.objects[path] = b
	return nil
}

func (f *fakeBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, "")
}

func (f *fakeBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlob) List(_ context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var infos []domain.ObjectInfo
	for path, b := range f.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.ObjectInfo{Path: path, Size: int64(len(b))})
		}
	}
	return infos, nil
}

func (f *fakeBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func (f *fakeBlob) Delete(_ context.Context, path string) error {
	delete(f.objects, path)
	return nil
}

// fakePositions serves a fixed set of closed aggregates.
type fakePositions struct {
	closed []domain.Position
}

func (f *fakePositions) ListClosedBefore(context.Context, time.Time) ([]domain.Position, error) {
	return f.closed, nil
}

func closedPosition(id string, closeDate time.Time) domain.Position {
	return domain.Position{
		ID:        id,
		AccountID: "acct-1",
		Symbol:    "PETRF250W",
		Status:    domain.PositionStatusClosed,
		CloseDate: &closeDate,
		Lots:      []domain.EntryLot{{ID: id + "-lot-1", PositionID: id, Quantity: 100}},
		Exits:     []domain.ExitRecord{{ID: id + "-exit-1", PositionID: id, Quantity: 100}},
	}
}

func TestArchiveClosedPositionsWritesVerifiedSnapshot(t *testing.T) {
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	blob := newFakeBlob()
	audit := memory.NewAuditStore()
	positions := &fakePositions{closed: []domain.Position{
		closedPosition("pos-1", cutoff.AddDate(0, -1, 0)),
		closedPosition("pos-2", cutoff.AddDate(0, -2, 0)),
	}}

	arch := s3blob.NewArchiver(blob, blob, blob, positions, audit)

	count, err := arch.ArchiveClosedPositions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveClosedPositions: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	body, ok := blob.objects["archive/positions/2025-02.jsonl"]
	if !ok {
		t.Fatalf("snapshot not written, have %v", blob.objects)
	}
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("snapshot holds %d lines, want 2", len(lines))
	}

	entries, err := audit.List(context.Background(), domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "archive.positions" {
		t.Errorf("audit entries = %+v, want one archive.positions event", entries)
	}
}

func TestArchivePrunesTruncatedSnapshot(t *testing.T) {
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	blob := newFakeBlob()
	blob.truncate = 10
	positions := &fakePositions{closed: []domain.Position{
		closedPosition("pos-1", cutoff.AddDate(0, -1, 0)),
	}}

	arch := s3blob.NewArchiver(blob, blob, blob, positions, memory.NewAuditStore())

	_, err := arch.ArchiveClosedPositions(context.Background(), cutoff)
	if err == nil {
		t.Fatal("expected verification error for truncated upload")
	}
	if !strings.Contains(err.Error(), "verify") {
		t.Errorf("error = %v, want verification failure", err)
	}
	if _, ok := blob.objects["archive/positions/2025-02.jsonl"]; ok {
		t.Error("truncated snapshot left behind, want it pruned")
	}
}

func TestArchiveAuditLogSnapshotsAgedEntries(t *testing.T) {
	blob := newFakeBlob()
	audit := memory.NewAuditStore()
	ctx := context.Background()

	for _, event := range []string{"position.opened", "position.exited"} {
		if err := audit.Log(ctx, event, map[string]any{"k": "v"}); err != nil {
			t.Fatalf("seed audit: %v", err)
		}
	}

	arch := s3blob.NewArchiver(blob, blob, blob, &fakePositions{}, audit)

	cutoff := time.Now().UTC().Add(time.Hour)
	count, err := arch.ArchiveAuditLog(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchiveAuditLog: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	path := "archive/audit/" + cutoff.Format("2006-01") + ".jsonl"
	if _, ok := blob.objects[path]; !ok {
		t.Errorf("snapshot not written at %s, have %v", path, blob.objects)
	}
}
