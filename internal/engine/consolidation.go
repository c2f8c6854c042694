package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
)

// ConsolidationManager maintains the role chain inside an operation group:
// the consolidated entry (remaining exposure snapshot) and consolidated
// result (cumulative realized outcome) that represent a multi-exit position
// as a single logical trade for reporting.
type ConsolidationManager struct {
	avg    *AveragePriceCalculator
	logger *slog.Logger
}

// NewConsolidationManager creates a manager using the given calculator for
// average exit prices.
func NewConsolidationManager(avg *AveragePriceCalculator, logger *slog.Logger) *ConsolidationManager {
	return &ConsolidationManager{avg: avg, logger: logger}
}

// consolidationChange captures the group mutations produced by one exit.
type consolidationChange struct {
	newOps     []domain.Operation
	updatedOps []domain.Operation

	// consolidatedID is the ID of the consolidated result operation when one
	// exists for this exit, empty otherwise.
	consolidatedID string
}

// Apply updates the operation group for an exit that has already been
// applied to the aggregate: pos carries the post-exit state, including the
// new exit records, and res carries this exit's own figures.
func (m *ConsolidationManager) Apply(
	pos *domain.Position,
	group *domain.AverageOperationGroup,
	exitType ExitType,
	req domain.ExitRequest,
	res ConsumptionResult,
	now time.Time,
) (consolidationChange, error) {
	switch exitType {
	case ExitFirstPartial:
		return m.firstPartial(pos, group, req, res, now), nil
	case ExitSubsequentPartial:
		return m.updateConsolidated(pos, group, req, now, false)
	case ExitFinalPartial:
		return m.updateConsolidated(pos, group, req, now, true)
	case ExitSingleTotal:
		return m.singleTotalExit(pos, group, req, res, now)
	default:
		return consolidationChange{}, &domain.ConsistencyFault{
			PositionID: pos.ID,
			Reason:     "consolidation requested for exit type " + string(exitType),
		}
	}
}

// firstPartial creates the consolidated entry/result pair and hides the
// entry-role records they supersede, so exposure is not double-counted in
// aggregate views.
func (m *ConsolidationManager) firstPartial(
	pos *domain.Position,
	group *domain.AverageOperationGroup,
	req domain.ExitRequest,
	res ConsumptionResult,
	now time.Time,
) consolidationChange {
	var change consolidationChange

	seq := group.NextSequence()
	exitDate := req.ExitDate

	consEntry := domain.Operation{
		ID:             uuid.New().String(),
		GroupID:        group.ID,
		PositionID:     pos.ID,
		Role:           domain.RoleConsolidatedEntry,
		SequenceNumber: seq,
		Symbol:         pos.Symbol,
		Direction:      pos.Direction,
		TradeDate:      req.ExitDate,
		Quantity:       pos.RemainingQuantity,
		UnitPrice:      pos.AveragePrice,
		TotalValue:     pos.InvestedValue(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	consResult := domain.Operation{
		ID:             uuid.New().String(),
		GroupID:        group.ID,
		PositionID:     pos.ID,
		Role:           domain.RoleConsolidatedResult,
		SequenceNumber: seq + 1,
		Symbol:         pos.Symbol,
		Direction:      pos.Direction,
		TradeDate:      req.ExitDate,
		Quantity:       res.TotalQuantity,
		UnitPrice:      res.WeightedEntryPrice,
		TotalValue:     res.TotalEntryValue,
		ExitDate:       &exitDate,
		ExitUnitPrice:  req.ExitUnitPrice,
		ExitTotalValue: res.TotalExitValue,
		ProfitLoss:     res.TotalProfitLoss,
		ProfitLossPct:  PercentageOf(res.TotalProfitLoss, res.TotalEntryValue),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	change.newOps = append(change.newOps, consEntry, consResult)
	change.consolidatedID = consResult.ID

	for i := range group.Items {
		op := &group.Items[i]
		if (op.Role == domain.RoleOriginalEntry || op.Role == domain.RoleAdditionalEntry) && !op.Hidden {
			op.Hidden = true
			op.UpdatedAt = now
			change.updatedOps = append(change.updatedOps, *op)
		}
	}

	group.Items = append(group.Items, consEntry, consResult)
	return change
}

// updateConsolidated updates (never duplicates) the consolidated pair with
// cumulative figures. The percentage uses the cumulative entry value, not
// the incremental one. When terminal is set the result is re-tagged as the
// total exit and given its winner/loser status.
func (m *ConsolidationManager) updateConsolidated(
	pos *domain.Position,
	group *domain.AverageOperationGroup,
	req domain.ExitRequest,
	now time.Time,
	terminal bool,
) (consolidationChange, error) {
	consEntry := group.FindByRole(domain.RoleConsolidatedEntry)
	consResult := group.FindByRole(domain.RoleConsolidatedResult)
	if consEntry == nil || consResult == nil {
		return consolidationChange{}, &domain.ConsistencyFault{
			PositionID: pos.ID,
			Reason:     "consolidated entry/result missing from group " + group.ID,
		}
	}

	cumPnL := decimal.Zero
	cumEntryValue := decimal.Zero
	cumExitValue := decimal.Zero
	for i := range pos.Exits {
		r := &pos.Exits[i]
		cumPnL = cumPnL.Add(r.ProfitLoss)
		cumEntryValue = cumEntryValue.Add(r.EntryValue())
		cumExitValue = cumExitValue.Add(r.ExitValue())
	}
	totalSold := pos.ExitedQuantity()

	consEntry.Quantity = pos.RemainingQuantity
	consEntry.UnitPrice = pos.AveragePrice
	consEntry.TotalValue = pos.InvestedValue()
	consEntry.UpdatedAt = now

	exitDate := req.ExitDate
	consResult.Quantity = totalSold
	consResult.UnitPrice = m.avg.AverageExitPrice(cumEntryValue, totalSold)
	consResult.TotalValue = cumEntryValue
	consResult.ExitDate = &exitDate
	consResult.ExitUnitPrice = m.avg.AverageExitPrice(cumExitValue, totalSold)
	consResult.ExitTotalValue = cumExitValue
	consResult.ProfitLoss = cumPnL
	consResult.ProfitLossPct = PercentageOf(cumPnL, cumEntryValue)
	consResult.UpdatedAt = now

	if terminal {
		consResult.Role = domain.RoleTotalExit
		consResult.Outcome = domain.OutcomeForPnL(cumPnL)
	}

	return consolidationChange{
		updatedOps:     []domain.Operation{*consEntry, *consResult},
		consolidatedID: consResult.ID,
	}, nil
}

// singleTotalExit closes a position that never had a partial exit: no
// consolidation records exist, so the original entry record is updated in
// place with the exit figures and terminal status.
func (m *ConsolidationManager) singleTotalExit(
	pos *domain.Position,
	group *domain.AverageOperationGroup,
	req domain.ExitRequest,
	res ConsumptionResult,
	now time.Time,
) (consolidationChange, error) {
	orig := group.FindByRole(domain.RoleOriginalEntry)
	if orig == nil {
		return consolidationChange{}, &domain.ConsistencyFault{
			PositionID: pos.ID,
			Reason:     "original entry missing from group " + group.ID,
		}
	}

	exitDate := req.ExitDate
	orig.ExitDate = &exitDate
	orig.ExitUnitPrice = m.avg.AverageExitPrice(res.TotalExitValue, res.TotalQuantity)
	orig.ExitTotalValue = res.TotalExitValue
	orig.ProfitLoss = res.TotalProfitLoss
	orig.ProfitLossPct = PercentageOf(res.TotalProfitLoss, res.TotalEntryValue)
	orig.Outcome = domain.OutcomeForPnL(res.TotalProfitLoss)
	orig.UpdatedAt = now

	return consolidationChange{updatedOps: []domain.Operation{*orig}}, nil
}
