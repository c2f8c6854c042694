// Package memory implements the domain store interfaces with in-memory
// maps. Used for tests and the local development storage mode; not suitable
// for production (no persistence).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/optfolio/opttracker/internal/domain"
)

// Store implements domain.PositionStore and domain.OperationStore over
// shared in-memory state guarded by one mutex, which also gives it the same
// serializability the Postgres store gets from its transactions.
type Store struct {
	mu         sync.RWMutex
	positions  map[string]domain.Position
	operations map[string]domain.Operation
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		positions:  make(map[string]domain.Position),
		operations: make(map[string]domain.Operation),
	}
}

func clonePosition(p domain.Position) domain.Position {
	lots := make([]domain.EntryLot, len(p.Lots))
	copy(lots, p.Lots)
	exits := make([]domain.ExitRecord, len(p.Exits))
	copy(exits, p.Exits)
	p.Lots = lots
	p.Exits = exits
	return p
}

// Create stores a new position aggregate and its original-entry operation.
func (s *Store) Create(_ context.Context, pos domain.Position, entry domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	pos.Version = 1
	s.positions[pos.ID] = clonePosition(pos)
	s.operations[entry.ID] = entry
	return nil
}

// GetByID returns a copy of the aggregate.
func (s *Store) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(pos), nil
}

// ListByAccount returns the account's positions, most recently opened first.
func (s *Store) ListByAccount(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, pos := range s.positions {
		if pos.AccountID == accountID {
			out = append(out, clonePosition(pos))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenDate.After(out[j].OpenDate)
	})
	return paginate(out, opts), nil
}

// ListClosedBefore returns closed positions whose close date precedes the
// cutoff.
func (s *Store) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Status == domain.PositionStatusClosed && pos.CloseDate != nil && pos.CloseDate.Before(before) {
			out = append(out, clonePosition(pos))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CloseDate.Before(*out[j].CloseDate)
	})
	return out, nil
}

// ApplyEntry appends a lot and its operation after a version check.
func (s *Store) ApplyEntry(_ context.Context, pos domain.Position, _ domain.EntryLot, op domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.positions[pos.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != pos.Version {
		return domain.ErrVersionConflict
	}

	pos.Version = current.Version + 1
	s.positions[pos.ID] = clonePosition(pos)
	s.operations[op.ID] = op
	return nil
}

// ApplyExit applies the whole exit outcome atomically under the store lock,
// rejecting stale writers with ErrVersionConflict.
func (s *Store) ApplyExit(_ context.Context, outcome domain.ExitOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.positions[outcome.Position.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != outcome.Position.Version {
		return domain.ErrVersionConflict
	}

	pos := outcome.Position
	pos.Version = current.Version + 1
	s.positions[pos.ID] = clonePosition(pos)

	for _, op := range outcome.NewOperations {
		s.operations[op.ID] = op
	}
	for _, op := range outcome.UpdatedOperations {
		s.operations[op.ID] = op
	}
	return nil
}

// GetGroup returns the operations sharing a group ID, ordered by sequence.
func (s *Store) GetGroup(_ context.Context, groupID string) (domain.AverageOperationGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group := domain.AverageOperationGroup{ID: groupID}
	for _, op := range s.operations {
		if op.GroupID == groupID {
			group.PositionID = op.PositionID
			group.Items = append(group.Items, op)
		}
	}
	if len(group.Items) == 0 {
		return domain.AverageOperationGroup{}, domain.ErrNotFound
	}
	sort.Slice(group.Items, func(i, j int) bool {
		return group.Items[i].SequenceNumber < group.Items[j].SequenceNumber
	})
	return group, nil
}

// ListByPosition returns all operations for a position ordered by sequence.
func (s *Store) ListByPosition(_ context.Context, positionID string) ([]domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Operation
	for _, op := range s.operations {
		if op.PositionID == positionID {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out, nil
}

// List returns operations most recently created first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Operation
	for _, op := range s.operations {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

// AuditStore implements domain.AuditStore in memory.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	seq     int64
}

// NewAuditStore creates an empty in-memory audit log.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.seq,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditEntry, len(s.entries))
	copy(out, s.entries)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

// ListBefore returns audit entries created before the cutoff.
func (s *AuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.PositionStore  = (*Store)(nil)
	_ domain.OperationStore = (*Store)(nil)
	_ domain.AuditStore     = (*AuditStore)(nil)
)

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
