package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
)

// NewPosition builds a position aggregate from its first fill, together
// with the original-entry operation that anchors its reporting group.
func NewPosition(req domain.OpenRequest, now time.Time) (domain.Position, domain.Operation, error) {
	if req.Quantity <= 0 {
		return domain.Position{}, domain.Operation{}, domain.Validationf("entry quantity must be positive, got %d", req.Quantity)
	}
	if req.UnitPrice.IsNegative() {
		return domain.Position{}, domain.Operation{}, domain.Validationf("entry price must not be negative")
	}
	if req.Direction != domain.DirectionLong && req.Direction != domain.DirectionShort {
		return domain.Position{}, domain.Operation{}, domain.Validationf("direction must be long or short, got %q", req.Direction)
	}

	totalValue := req.UnitPrice.Mul(decimal.NewFromInt(req.Quantity))
	posID := uuid.New().String()
	groupID := uuid.New().String()

	pos := domain.Position{
		ID:                posID,
		AccountID:         req.AccountID,
		Brokerage:         req.Brokerage,
		Symbol:            req.Symbol,
		Direction:         req.Direction,
		Status:            domain.PositionStatusOpen,
		OpenDate:          req.EntryDate,
		TotalQuantity:     req.Quantity,
		RemainingQuantity: req.Quantity,
		AveragePrice:      req.UnitPrice,
		GroupID:           groupID,
		Lots: []domain.EntryLot{{
			ID:                uuid.New().String(),
			PositionID:        posID,
			EntryDate:         req.EntryDate,
			Quantity:          req.Quantity,
			UnitPrice:         req.UnitPrice,
			TotalValue:        totalValue,
			RemainingQuantity: req.Quantity,
			SequenceNumber:    1,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	op := domain.Operation{
		ID:             uuid.New().String(),
		GroupID:        groupID,
		PositionID:     posID,
		Role:           domain.RoleOriginalEntry,
		SequenceNumber: 1,
		Symbol:         req.Symbol,
		Direction:      req.Direction,
		TradeDate:      req.EntryDate,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		TotalValue:     totalValue,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	return pos, op, nil
}

// ApplyEntry appends an additional lot to an open or partial position and
// re-averages the cost basis over the combined remaining exposure. The new
// lot takes the next sequence number; an additional-entry operation joins
// the position's reporting group.
func (e *Engine) ApplyEntry(
	pos domain.Position,
	group domain.AverageOperationGroup,
	req domain.EntryRequest,
	now time.Time,
) (domain.Position, domain.EntryLot, domain.Operation, error) {
	pos = clonePosition(pos)

	if pos.Status == domain.PositionStatusClosed {
		return domain.Position{}, domain.EntryLot{}, domain.Operation{}, domain.ErrPositionClosed
	}
	if req.Quantity <= 0 {
		return domain.Position{}, domain.EntryLot{}, domain.Operation{}, domain.Validationf("entry quantity must be positive, got %d", req.Quantity)
	}
	if req.UnitPrice.IsNegative() {
		return domain.Position{}, domain.EntryLot{}, domain.Operation{}, domain.Validationf("entry price must not be negative")
	}

	added := decimal.NewFromInt(req.Quantity)
	addedValue := req.UnitPrice.Mul(added)
	newRemaining := pos.RemainingQuantity + req.Quantity

	pos.AveragePrice = pos.InvestedValue().Add(addedValue).
		DivRound(decimal.NewFromInt(newRemaining), priceScale)
	pos.RemainingQuantity = newRemaining
	pos.TotalQuantity += req.Quantity
	pos.Status = domain.StatusFor(pos.RemainingQuantity, pos.TotalQuantity)
	pos.UpdatedAt = now

	seq := 0
	for i := range pos.Lots {
		if pos.Lots[i].SequenceNumber > seq {
			seq = pos.Lots[i].SequenceNumber
		}
	}

	lot := domain.EntryLot{
		ID:                uuid.New().String(),
		PositionID:        pos.ID,
		EntryDate:         req.EntryDate,
		Quantity:          req.Quantity,
		UnitPrice:         req.UnitPrice,
		TotalValue:        addedValue,
		RemainingQuantity: req.Quantity,
		SequenceNumber:    seq + 1,
	}
	pos.Lots = append(pos.Lots, lot)

	op := domain.Operation{
		ID:             uuid.New().String(),
		GroupID:        pos.GroupID,
		PositionID:     pos.ID,
		Role:           domain.RoleAdditionalEntry,
		SequenceNumber: group.NextSequence(),
		Symbol:         pos.Symbol,
		Direction:      pos.Direction,
		TradeDate:      req.EntryDate,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		TotalValue:     addedValue,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	return pos, lot, op, nil
}
