// Package service layers orchestration on top of the pure engine: it
// serializes writes per position, persists engine outcomes atomically,
// and fans events out to the signal bus, audit log, and notifiers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/optfolio/opttracker/internal/domain"
	"github.com/optfolio/opttracker/internal/engine"
)

const (
	positionChannel = "positions"
	positionStream  = "positions:events"
)

// Notifier forwards operator-facing alerts. The notify package's Notifier
// satisfies this; a nil Notifier disables alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// PositionService manages position lifecycles: opening, adding entry lots,
// and processing exits through the consumption engine. Every write path
// takes a position-scoped distributed lock so exits serialize across
// processes; the store's version check backstops the lock.
type PositionService struct {
	positions  domain.PositionStore
	operations domain.OperationStore
	audit      domain.AuditStore
	locks      domain.LockManager
	bus        domain.SignalBus
	engine     *engine.Engine
	notifier   Notifier
	lockTTL    time.Duration
	logger     *slog.Logger
}

// NewPositionService creates a PositionService with all required
// dependencies. notifier may be nil.
func NewPositionService(
	positions domain.PositionStore,
	operations domain.OperationStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	eng *engine.Engine,
	notifier Notifier,
	lockTTL time.Duration,
	logger *slog.Logger,
) *PositionService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &PositionService{
		positions:  positions,
		operations: operations,
		audit:      audit,
		locks:      locks,
		bus:        bus,
		engine:     eng,
		notifier:   notifier,
		lockTTL:    lockTTL,
		logger:     logger,
	}
}

// Open creates a new position from its first fill.
func (s *PositionService) Open(ctx context.Context, req domain.OpenRequest) (domain.Position, error) {
	now := time.Now().UTC()

	pos, op, err := engine.NewPosition(req, now)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}

	if err := s.positions.Create(ctx, pos, op); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position: %w", err)
	}

	s.publish(ctx, map[string]any{
		"event":       "position_opened",
		"position_id": pos.ID,
		"account_id":  pos.AccountID,
		"symbol":      pos.Symbol,
		"direction":   string(pos.Direction),
		"quantity":    pos.TotalQuantity,
		"unit_price":  pos.AveragePrice.String(),
	})
	s.auditLog(ctx, "position_opened", map[string]any{
		"position_id":  pos.ID,
		"account_id":   pos.AccountID,
		"symbol":       pos.Symbol,
		"direction":    string(pos.Direction),
		"quantity":     pos.TotalQuantity,
		"unit_price":   pos.AveragePrice.String(),
		"requested_by": req.RequestedBy,
	})

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Int64("quantity", pos.TotalQuantity),
		slog.String("unit_price", pos.AveragePrice.String()),
	)

	return pos, nil
}

// AddEntry appends an additional lot to an open or partial position and
// re-averages its cost basis.
func (s *PositionService) AddEntry(ctx context.Context, req domain.EntryRequest) (domain.Position, error) {
	unlock, err := s.locks.Acquire(ctx, lockKey(req.PositionID), s.lockTTL)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: lock position %q: %w", req.PositionID, err)
	}
	defer unlock()

	pos, err := s.positions.GetByID(ctx, req.PositionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position %q: %w", req.PositionID, err)
	}
	group, err := s.operations.GetGroup(ctx, pos.GroupID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get group %q: %w", pos.GroupID, err)
	}

	now := time.Now().UTC()
	updated, lot, op, err := s.engine.ApplyEntry(pos, group, req, now)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: apply entry: %w", err)
	}

	if err := s.positions.ApplyEntry(ctx, updated, lot, op); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: persist entry: %w", err)
	}

	s.publish(ctx, map[string]any{
		"event":         "entry_added",
		"position_id":   updated.ID,
		"symbol":        updated.Symbol,
		"quantity":      lot.Quantity,
		"unit_price":    lot.UnitPrice.String(),
		"average_price": updated.AveragePrice.String(),
	})
	s.auditLog(ctx, "entry_added", map[string]any{
		"position_id":   updated.ID,
		"lot_id":        lot.ID,
		"quantity":      lot.Quantity,
		"unit_price":    lot.UnitPrice.String(),
		"average_price": updated.AveragePrice.String(),
		"requested_by":  req.RequestedBy,
	})

	s.logger.InfoContext(ctx, "position_service: entry added",
		slog.String("position_id", updated.ID),
		slog.Int64("quantity", lot.Quantity),
		slog.String("average_price", updated.AveragePrice.String()),
	)

	return updated, nil
}

// ProcessExit runs one exit request through the engine under a
// position-scoped lock and persists the outcome atomically.
func (s *PositionService) ProcessExit(ctx context.Context, req domain.ExitRequest) (domain.ExitResult, error) {
	unlock, err := s.locks.Acquire(ctx, lockKey(req.PositionID), s.lockTTL)
	if err != nil {
		return domain.ExitResult{}, fmt.Errorf("position_service: lock position %q: %w", req.PositionID, err)
	}
	defer unlock()

	pos, err := s.positions.GetByID(ctx, req.PositionID)
	if err != nil {
		return domain.ExitResult{}, fmt.Errorf("position_service: get position %q: %w", req.PositionID, err)
	}
	group, err := s.operations.GetGroup(ctx, pos.GroupID)
	if err != nil {
		return domain.ExitResult{}, fmt.Errorf("position_service: get group %q: %w", pos.GroupID, err)
	}

	now := time.Now().UTC()
	result, outcome, err := s.engine.ProcessExit(pos, group, req, now)
	if err != nil {
		if domain.IsConsistencyFault(err) {
			s.logger.ErrorContext(ctx, "position_service: consistency fault",
				slog.String("position_id", req.PositionID),
				slog.String("error", err.Error()),
			)
			s.auditLog(ctx, "consistency_fault", map[string]any{
				"position_id": req.PositionID,
				"reason":      err.Error(),
			})
		}
		return domain.ExitResult{}, fmt.Errorf("position_service: process exit: %w", err)
	}

	if err := s.positions.ApplyExit(ctx, outcome); err != nil {
		return domain.ExitResult{}, fmt.Errorf("position_service: persist exit: %w", err)
	}

	evt := map[string]any{
		"event":             "exit_processed",
		"position_id":       outcome.Position.ID,
		"symbol":            outcome.Position.Symbol,
		"quantity":          result.ExitQuantity,
		"exit_value":        result.TotalExitValue.String(),
		"profit_loss":       result.TotalProfitLoss.String(),
		"day_trade_pnl":     result.DayTradePnL.String(),
		"swing_trade_pnl":   result.SwingTradePnL.String(),
		"remaining":         result.RemainingQuantity,
		"status":            string(result.NewStatus),
		"new_average_price": result.NewAveragePrice.String(),
	}
	s.publish(ctx, evt)
	s.streamAppend(ctx, evt)
	s.auditLog(ctx, "exit_processed", map[string]any{
		"position_id":  outcome.Position.ID,
		"quantity":     result.ExitQuantity,
		"profit_loss":  result.TotalProfitLoss.String(),
		"status":       string(result.NewStatus),
		"requested_by": req.RequestedBy,
	})

	s.logger.InfoContext(ctx, "position_service: exit processed",
		slog.String("position_id", outcome.Position.ID),
		slog.Int64("quantity", result.ExitQuantity),
		slog.String("profit_loss", result.TotalProfitLoss.String()),
		slog.String("status", string(result.NewStatus)),
	)

	if result.NewStatus == domain.PositionStatusClosed {
		s.notifyClosed(ctx, outcome.Position, result)
	}

	return result, nil
}

// Get returns the full position aggregate.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get position %q: %w", id, err)
	}
	return pos, nil
}

// List returns positions for an account, newest first.
func (s *PositionService) List(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByAccount(ctx, accountID, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list for %q: %w", accountID, err)
	}
	return positions, nil
}

// GroupOperations returns the operations of a reporting group in sequence
// order. Hidden operations are filtered out unless includeHidden is set.
func (s *PositionService) GroupOperations(ctx context.Context, groupID string, includeHidden bool) ([]domain.Operation, error) {
	group, err := s.operations.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("position_service: get group %q: %w", groupID, err)
	}
	if includeHidden {
		return group.Items, nil
	}
	visible := make([]domain.Operation, 0, len(group.Items))
	for _, op := range group.Items {
		if !op.Hidden {
			visible = append(visible, op)
		}
	}
	return visible, nil
}

// ListOperations returns operations across all groups.
func (s *PositionService) ListOperations(ctx context.Context, opts domain.ListOpts) ([]domain.Operation, error) {
	ops, err := s.operations.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list operations: %w", err)
	}
	return ops, nil
}

// AuditLog returns audit entries, newest first.
func (s *PositionService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list audit: %w", err)
	}
	return entries, nil
}

func (s *PositionService) notifyClosed(ctx context.Context, pos domain.Position, result domain.ExitResult) {
	if s.notifier == nil {
		return
	}
	outcome := "profit"
	if result.TotalProfitLoss.IsNegative() {
		outcome = "loss"
	}
	title := fmt.Sprintf("Position closed: %s", pos.Symbol)
	msg := fmt.Sprintf("%s %s closed with %s %s (%s%%)",
		pos.Symbol, pos.Direction, outcome,
		pos.TotalRealizedPnL.String(), pos.TotalRealizedPnLPct.StringFixed(2),
	)
	if err := s.notifier.Notify(ctx, "position_closed", title, msg); err != nil {
		s.logger.WarnContext(ctx, "position_service: notify failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) publish(ctx context.Context, evt map[string]any) {
	payload, _ := json.Marshal(evt)
	if err := s.bus.Publish(ctx, positionChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) streamAppend(ctx context.Context, evt map[string]any) {
	payload, _ := json.Marshal(evt)
	if err := s.bus.StreamAppend(ctx, positionStream, payload); err != nil {
		s.logger.WarnContext(ctx, "position_service: stream append failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// lockKey names the per-position lock; the lock manager adds its own
// namespace prefix.
func lockKey(positionID string) string {
	return "position:" + positionID
}
