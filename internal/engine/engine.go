// Package engine implements the position lot-consumption and consolidation
// core: matching an exit request against previously recorded entry lots,
// splitting the match into day-trade and swing-trade portions, recomputing
// the weighted-average cost basis, and maintaining the consolidated
// operation chain that represents a position across multiple partial exits.
//
// The engine is pure over the aggregate: it never touches storage. Callers
// pass the loaded position and operation group in, and persist the returned
// outcome as one atomic unit.
package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
)

// Engine orchestrates validate → classify → plan → execute → consolidate
// for a single exit request. One invocation is single-threaded and
// synchronous; cross-request serialization per position is the caller's
// responsibility.
type Engine struct {
	logger        *slog.Logger
	avg           *AveragePriceCalculator
	consolidation *ConsolidationManager
}

// New creates an Engine.
func New(logger *slog.Logger) *Engine {
	avg := NewAveragePriceCalculator(logger)
	return &Engine{
		logger:        logger,
		avg:           avg,
		consolidation: NewConsolidationManager(avg, logger),
	}
}

// ProcessExit runs the full exit pipeline against in-memory copies of the
// position aggregate and its operation group. On success it returns the
// caller-facing result plus the complete set of mutations to persist. On
// any error nothing has been mutated and nothing must be persisted.
func (e *Engine) ProcessExit(
	pos domain.Position,
	group domain.AverageOperationGroup,
	req domain.ExitRequest,
	now time.Time,
) (domain.ExitResult, domain.ExitOutcome, error) {
	pos = clonePosition(pos)
	group = cloneGroup(group)

	if err := ValidateExit(&pos, req.Quantity); err != nil {
		return domain.ExitResult{}, domain.ExitOutcome{}, err
	}

	scenario := ClassifyScenario(&pos, req.Quantity)
	exitType := DetermineExitType(&pos, req.Quantity)
	if exitType == ExitUnknown {
		return domain.ExitResult{}, domain.ExitOutcome{}, &domain.ConsistencyFault{
			PositionID: pos.ID,
			Reason:     "exit does not match any lifecycle stage",
		}
	}

	e.logger.Debug("engine: exit classified",
		slog.String("position_id", pos.ID),
		slog.String("scenario", string(scenario)),
		slog.String("exit_type", string(exitType)),
		slog.Int64("quantity", req.Quantity),
	)

	plan := PlanConsumption(&pos, req.ExitDate, req.Quantity)
	if covered := plan.TotalQuantity(); covered != req.Quantity {
		// Lots entered after the exit date are not eligible, so a
		// back-dated exit can plan short even though quantities validate.
		return domain.ExitResult{}, domain.ExitOutcome{}, domain.Validationf(
			"exit dated %s can only consume %d of %d units; later-dated lots are not eligible",
			req.ExitDate.Format("2006-01-02"), covered, req.Quantity)
	}
	res := ExecutePlan(plan, pos.Direction, req.ExitUnitPrice)

	investedBefore := pos.InvestedValue()
	previousAverage := pos.AveragePrice

	strategy := req.StrategyHint
	if strategy == "" {
		strategy = domain.StrategyAuto
	}

	records := make([]domain.ExitRecord, 0, len(res.Results))
	for _, r := range res.Results {
		lot := pos.LotByID(r.LotID)
		if lot == nil {
			return domain.ExitResult{}, domain.ExitOutcome{}, &domain.ConsistencyFault{
				PositionID: pos.ID,
				Reason:     "planned lot " + r.LotID + " not found on aggregate",
			}
		}
		lot.RemainingQuantity -= r.Quantity

		records = append(records, domain.ExitRecord{
			ID:              uuid.New().String(),
			PositionID:      pos.ID,
			LotID:           r.LotID,
			ExitDate:        req.ExitDate,
			Quantity:        r.Quantity,
			EntryUnitPrice:  r.UnitPrice,
			ExitUnitPrice:   req.ExitUnitPrice,
			ProfitLoss:      r.ProfitLoss,
			ProfitLossPct:   r.ProfitLossPct,
			TradeType:       r.TradeType,
			AppliedStrategy: strategy,
			CreatedAt:       now,
		})
	}

	pos.RemainingQuantity -= req.Quantity
	pos.Status = domain.StatusFor(pos.RemainingQuantity, pos.TotalQuantity)
	pos.Exits = append(pos.Exits, records...)
	pos.UpdatedAt = now

	newAverage := e.avg.NewAveragePrice(investedBefore, res.TotalExitValue, pos.RemainingQuantity)
	e.avg.Validate(previousAverage, newAverage, res.TotalProfitLoss)
	pos.AveragePrice = newAverage

	cumPnL := decimal.Zero
	cumEntryValue := decimal.Zero
	for i := range pos.Exits {
		cumPnL = cumPnL.Add(pos.Exits[i].ProfitLoss)
		cumEntryValue = cumEntryValue.Add(pos.Exits[i].EntryValue())
	}
	pos.TotalRealizedPnL = cumPnL
	pos.TotalRealizedPnLPct = PercentageOf(cumPnL, cumEntryValue)

	if pos.Status == domain.PositionStatusClosed {
		closeDate := req.ExitDate
		pos.CloseDate = &closeDate
	}

	change, err := e.consolidation.Apply(&pos, &group, exitType, req, res, now)
	if err != nil {
		return domain.ExitResult{}, domain.ExitOutcome{}, err
	}

	result := domain.ExitResult{
		ExitQuantity:            req.Quantity,
		TotalExitValue:          res.TotalExitValue,
		TotalProfitLoss:         res.TotalProfitLoss,
		ProfitLossPercentage:    PercentageOf(res.TotalProfitLoss, res.TotalEntryValue),
		DayTradePnL:             res.DayTradePnL,
		SwingTradePnL:           res.SwingTradePnL,
		RemainingQuantity:       pos.RemainingQuantity,
		NewStatus:               pos.Status,
		NewAveragePrice:         pos.AveragePrice,
		PerLotExitRecords:       records,
		ConsolidatedOperationID: change.consolidatedID,
	}

	outcome := domain.ExitOutcome{
		Position:          pos,
		Records:           records,
		NewOperations:     change.newOps,
		UpdatedOperations: change.updatedOps,
	}

	return result, outcome, nil
}

func clonePosition(pos domain.Position) domain.Position {
	lots := make([]domain.EntryLot, len(pos.Lots))
	copy(lots, pos.Lots)
	exits := make([]domain.ExitRecord, len(pos.Exits))
	copy(exits, pos.Exits)
	pos.Lots = lots
	pos.Exits = exits
	return pos
}

func cloneGroup(group domain.AverageOperationGroup) domain.AverageOperationGroup {
	items := make([]domain.Operation, len(group.Items))
	copy(items, group.Items)
	group.Items = items
	return group
}
