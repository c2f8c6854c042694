package engine

import (
	"sort"
	"time"

	"github.com/optfolio/opttracker/internal/domain"
)

// PlanConsumption builds the ordered, trade-type-tagged plan of lot draws
// for one exit. The ordering encodes the tax rule for day trades:
//
//  1. Lots entered on the exit date are consumed first, most recent first
//     (sequence number descending), and tagged as day trades.
//  2. Remaining quantity then drains prior-day lots oldest first (entry
//     date, then sequence number ascending) tagged as swing trades.
//
// Each draw takes min(lot remaining, quantity still needed). The plan never
// mutates the aggregate; execution does.
func PlanConsumption(pos *domain.Position, exitDate time.Time, quantity int64) ConsumptionPlan {
	var sameDay, priorDay []*domain.EntryLot
	for i := range pos.Lots {
		l := &pos.Lots[i]
		if l.RemainingQuantity <= 0 {
			continue
		}
		if domain.SameDay(l.EntryDate, exitDate) {
			sameDay = append(sameDay, l)
		} else if l.EntryDate.Before(exitDate) {
			priorDay = append(priorDay, l)
		}
	}

	sort.SliceStable(sameDay, func(i, j int) bool {
		return sameDay[i].SequenceNumber > sameDay[j].SequenceNumber
	})
	sort.SliceStable(priorDay, func(i, j int) bool {
		if !priorDay[i].EntryDate.Equal(priorDay[j].EntryDate) {
			return priorDay[i].EntryDate.Before(priorDay[j].EntryDate)
		}
		return priorDay[i].SequenceNumber < priorDay[j].SequenceNumber
	})

	plan := ConsumptionPlan{ExitDate: exitDate}
	needed := quantity

	needed = drawFrom(&plan, sameDay, needed, domain.TradeTypeDay)
	drawFrom(&plan, priorDay, needed, domain.TradeTypeSwing)

	return plan
}

// drawFrom greedily consumes the given lots in order until needed is
// satisfied, appending one tagged draw per touched lot. It returns the
// quantity still needed.
func drawFrom(plan *ConsumptionPlan, lots []*domain.EntryLot, needed int64, tt domain.TradeType) int64 {
	for _, l := range lots {
		if needed <= 0 {
			break
		}
		qty := l.RemainingQuantity
		if qty > needed {
			qty = needed
		}
		plan.Draws = append(plan.Draws, LotConsumption{
			LotID:          l.ID,
			SequenceNumber: l.SequenceNumber,
			EntryDate:      l.EntryDate,
			UnitPrice:      l.UnitPrice,
			Quantity:       qty,
			TradeType:      tt,
		})
		needed -= qty
	}
	return needed
}
