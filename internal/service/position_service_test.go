package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
	"github.com/optfolio/opttracker/internal/engine"
	"github.com/optfolio/opttracker/internal/service"
	"github.com/optfolio/opttracker/internal/store/memory"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(n int) time.Time {
	return time.Date(2025, 3, n, 0, 0, 0, 0, time.UTC)
}

// fakeLocks counts acquisitions and can simulate a held lock.
type fakeLocks struct {
	mu       sync.Mutex
	acquired int
	held     bool
}

func (f *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	return func() {}, nil
}

// fakeBus records published and streamed payloads.
type fakeBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed = append(f.streamed, payload)
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fixture struct {
	svc   *service.PositionService
	store *memory.Store
	audit *memory.AuditStore
	locks *fakeLocks
	bus   *fakeBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	audit := memory.NewAuditStore()
	locks := &fakeLocks{}
	bus := &fakeBus{}
	svc := service.NewPositionService(
		store, store, audit, locks, bus,
		engine.New(logger), nil, time.Second, logger,
	)
	return &fixture{svc: svc, store: store, audit: audit, locks: locks, bus: bus}
}

func TestOpenAddEntryAndExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.svc.Open(ctx, domain.OpenRequest{
		AccountID: "acct-1",
		Brokerage: "broker-a",
		Symbol:    "PETR4C100",
		Direction: domain.DirectionLong,
		EntryDate: day(1),
		Quantity:  200,
		UnitPrice: d(10),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pos.Status != domain.PositionStatusOpen {
		t.Fatalf("status = %s, want open", pos.Status)
	}

	pos, err = f.svc.AddEntry(ctx, domain.EntryRequest{
		PositionID: pos.ID,
		EntryDate:  day(2),
		Quantity:   100,
		UnitPrice:  d(13),
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	// (200*10 + 100*13) / 300 = 11
	if !pos.AveragePrice.Equal(d(11)) {
		t.Fatalf("average after entry = %s, want 11", pos.AveragePrice)
	}
	afterEntry, err := f.svc.Get(ctx, pos.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if afterEntry.Version != 1 {
		t.Fatalf("version after entry = %d, want 1", afterEntry.Version)
	}

	result, err := f.svc.ProcessExit(ctx, domain.ExitRequest{
		PositionID:    pos.ID,
		ExitDate:      day(5),
		Quantity:      150,
		ExitUnitPrice: d(14),
	})
	if err != nil {
		t.Fatalf("ProcessExit: %v", err)
	}
	if result.RemainingQuantity != 150 {
		t.Fatalf("remaining = %d, want 150", result.RemainingQuantity)
	}
	if result.NewStatus != domain.PositionStatusPartial {
		t.Fatalf("status = %s, want partial", result.NewStatus)
	}
	// All prior-day lots: FIFO takes the 150 from the first lot at 10.
	// PnL = 150 * (14 - 10) = 600, all swing.
	if !result.TotalProfitLoss.Equal(d(600)) {
		t.Fatalf("pnl = %s, want 600", result.TotalProfitLoss)
	}
	if !result.SwingTradePnL.Equal(d(600)) || !result.DayTradePnL.IsZero() {
		t.Fatalf("day/swing split = %s/%s, want 0/600",
			result.DayTradePnL, result.SwingTradePnL)
	}

	stored, err := f.svc.Get(ctx, pos.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Version != 2 {
		t.Fatalf("version after exit = %d, want 2", stored.Version)
	}
	if stored.RemainingQuantity != 150 {
		t.Fatalf("stored remaining = %d, want 150", stored.RemainingQuantity)
	}

	if f.locks.acquired != 2 {
		t.Fatalf("lock acquisitions = %d, want 2 (entry + exit)", f.locks.acquired)
	}
}

func TestProcessExitPublishesAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.svc.Open(ctx, domain.OpenRequest{
		AccountID: "acct-1",
		Symbol:    "VALE3P60",
		Direction: domain.DirectionLong,
		EntryDate: day(1),
		Quantity:  100,
		UnitPrice: d(5),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := f.svc.ProcessExit(ctx, domain.ExitRequest{
		PositionID:    pos.ID,
		ExitDate:      day(3),
		Quantity:      100,
		ExitUnitPrice: d(6),
	}); err != nil {
		t.Fatalf("ProcessExit: %v", err)
	}

	var sawExit bool
	for _, payload := range f.bus.published {
		var evt map[string]any
		if err := json.Unmarshal(payload, &evt); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if evt["event"] == "exit_processed" {
			sawExit = true
			if evt["status"] != string(domain.PositionStatusClosed) {
				t.Fatalf("event status = %v, want closed", evt["status"])
			}
		}
	}
	if !sawExit {
		t.Fatal("no exit_processed event published")
	}
	if len(f.bus.streamed) != 1 {
		t.Fatalf("streamed events = %d, want 1", len(f.bus.streamed))
	}

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	events := make(map[string]bool, len(entries))
	for _, e := range entries {
		events[e.Event] = true
	}
	for _, want := range []string{"position_opened", "exit_processed"} {
		if !events[want] {
			t.Fatalf("audit log missing %q event", want)
		}
	}
}

func TestProcessExitLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.svc.Open(ctx, domain.OpenRequest{
		AccountID: "acct-1",
		Symbol:    "BOVA11C120",
		Direction: domain.DirectionLong,
		EntryDate: day(1),
		Quantity:  100,
		UnitPrice: d(10),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	f.locks.held = true
	_, err = f.svc.ProcessExit(ctx, domain.ExitRequest{
		PositionID:    pos.ID,
		ExitDate:      day(2),
		Quantity:      50,
		ExitUnitPrice: d(11),
	})
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}

	stored, err := f.svc.Get(ctx, pos.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.RemainingQuantity != 100 {
		t.Fatalf("remaining changed to %d while locked", stored.RemainingQuantity)
	}
}

func TestProcessExitValidationDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.svc.Open(ctx, domain.OpenRequest{
		AccountID: "acct-1",
		Symbol:    "ITUB4C30",
		Direction: domain.DirectionLong,
		EntryDate: day(1),
		Quantity:  100,
		UnitPrice: d(10),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = f.svc.ProcessExit(ctx, domain.ExitRequest{
		PositionID:    pos.ID,
		ExitDate:      day(2),
		Quantity:      500,
		ExitUnitPrice: d(11),
	})
	if !domain.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}

	stored, err := f.svc.Get(ctx, pos.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Version != 0 || stored.RemainingQuantity != 100 {
		t.Fatalf("position mutated by rejected exit: version=%d remaining=%d",
			stored.Version, stored.RemainingQuantity)
	}
}

func TestGroupOperationsHidesConsolidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.svc.Open(ctx, domain.OpenRequest{
		AccountID: "acct-1",
		Symbol:    "WEGE3C45",
		Direction: domain.DirectionLong,
		EntryDate: day(1),
		Quantity:  300,
		UnitPrice: d(9),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := f.svc.ProcessExit(ctx, domain.ExitRequest{
		PositionID:    pos.ID,
		ExitDate:      day(4),
		Quantity:      100,
		ExitUnitPrice: d(12),
	}); err != nil {
		t.Fatalf("ProcessExit: %v", err)
	}

	visible, err := f.svc.GroupOperations(ctx, pos.GroupID, false)
	if err != nil {
		t.Fatalf("GroupOperations: %v", err)
	}
	// First partial hides the original entry and shows the consolidated pair.
	roles := make(map[domain.OperationRole]int, len(visible))
	for _, op := range visible {
		roles[op.Role]++
	}
	if roles[domain.RoleOriginalEntry] != 0 {
		t.Fatal("original entry still visible after first partial")
	}
	if roles[domain.RoleConsolidatedEntry] != 1 || roles[domain.RoleConsolidatedResult] != 1 {
		t.Fatalf("visible roles = %v, want one consolidated entry and one result", roles)
	}

	all, err := f.svc.GroupOperations(ctx, pos.GroupID, true)
	if err != nil {
		t.Fatalf("GroupOperations all: %v", err)
	}
	if len(all) != len(visible)+1 {
		t.Fatalf("all ops = %d, visible = %d, want exactly one hidden", len(all), len(visible))
	}
}
