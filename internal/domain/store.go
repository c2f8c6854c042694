package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExitOutcome bundles every mutation produced by one processed exit. A
// PositionStore must apply the whole outcome atomically: the position (with
// its updated lots), the new exit records, and the operation group changes
// are one serializable unit scoped to the position.
type ExitOutcome struct {
	Position          Position
	Records           []ExitRecord
	NewOperations     []Operation
	UpdatedOperations []Operation
}

// PositionStore persists position aggregates. GetByID returns the full
// aggregate including lots and exit records.
type PositionStore interface {
	Create(ctx context.Context, pos Position, entry Operation) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)

	// ApplyEntry appends a lot to an open/partial position and records the
	// matching entry operation, checking the position version.
	ApplyEntry(ctx context.Context, pos Position, lot EntryLot, op Operation) error

	// ApplyExit persists an exit outcome in one transaction. It returns
	// ErrVersionConflict when the stored version no longer matches the
	// version carried by the outcome's position.
	ApplyExit(ctx context.Context, outcome ExitOutcome) error
}

// OperationStore reads and maintains operation groups.
type OperationStore interface {
	GetGroup(ctx context.Context, groupID string) (AverageOperationGroup, error)
	ListByPosition(ctx context.Context, positionID string) ([]Operation, error)
	List(ctx context.Context, opts ListOpts) ([]Operation, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// LockManager provides distributed locking, used to serialize exits per
// position across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles request rates per key, used by the HTTP layer to
// cap write traffic per client.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for position events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
