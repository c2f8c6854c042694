package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
	"github.com/optfolio/opttracker/internal/engine"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(dayOfMonth int) time.Time {
	return time.Date(2025, 3, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

// lot builds an untouched entry lot.
func lot(id string, entry time.Time, qty int64, price float64, seq int) domain.EntryLot {
	return domain.EntryLot{
		ID:                id,
		EntryDate:         entry,
		Quantity:          qty,
		UnitPrice:         d(price),
		TotalValue:        d(price).Mul(decimal.NewFromInt(qty)),
		RemainingQuantity: qty,
		SequenceNumber:    seq,
	}
}

func position(direction domain.Direction, lots ...domain.EntryLot) domain.Position {
	var total int64
	for _, l := range lots {
		total += l.Quantity
	}
	return domain.Position{
		ID:                "pos-1",
		Symbol:            "PETRF250W",
		Direction:         direction,
		Status:            domain.PositionStatusOpen,
		OpenDate:          lots[0].EntryDate,
		TotalQuantity:     total,
		RemainingQuantity: total,
		AveragePrice:      lots[0].UnitPrice,
		GroupID:           "group-1",
		Lots:              lots,
	}
}

func TestPlanConsumption_FIFOAcrossDays(t *testing.T) {
	// Lots entered on D1 < D2 < D3; an exit on D4 must fully drain D1
	// before touching D2, and D2 before D3.
	pos := position(domain.DirectionLong,
		lot("l1", day(1), 100, 10, 1),
		lot("l2", day(2), 100, 11, 2),
		lot("l3", day(3), 100, 12, 3),
	)

	plan := engine.PlanConsumption(&pos, day(4), 150)

	if len(plan.Draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(plan.Draws))
	}
	if plan.Draws[0].LotID != "l1" || plan.Draws[0].Quantity != 100 {
		t.Errorf("first draw = %s/%d, want l1/100", plan.Draws[0].LotID, plan.Draws[0].Quantity)
	}
	if plan.Draws[1].LotID != "l2" || plan.Draws[1].Quantity != 50 {
		t.Errorf("second draw = %s/%d, want l2/50", plan.Draws[1].LotID, plan.Draws[1].Quantity)
	}
	for _, draw := range plan.Draws {
		if draw.TradeType != domain.TradeTypeSwing {
			t.Errorf("draw on lot %s tagged %s, want swing", draw.LotID, draw.TradeType)
		}
	}
}

func TestPlanConsumption_SameDayLIFO(t *testing.T) {
	// Two lots entered on the exit date: the most recently entered lot
	// (higher sequence) is consumed first.
	pos := position(domain.DirectionLong,
		lot("l1", day(5), 100, 10, 1),
		lot("l2", day(5), 100, 10.5, 2),
	)

	plan := engine.PlanConsumption(&pos, day(5), 150)

	if len(plan.Draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(plan.Draws))
	}
	if plan.Draws[0].LotID != "l2" || plan.Draws[0].Quantity != 100 {
		t.Errorf("first draw = %s/%d, want l2/100", plan.Draws[0].LotID, plan.Draws[0].Quantity)
	}
	if plan.Draws[1].LotID != "l1" || plan.Draws[1].Quantity != 50 {
		t.Errorf("second draw = %s/%d, want l1/50", plan.Draws[1].LotID, plan.Draws[1].Quantity)
	}
	for _, draw := range plan.Draws {
		if draw.TradeType != domain.TradeTypeDay {
			t.Errorf("draw on lot %s tagged %s, want day", draw.LotID, draw.TradeType)
		}
	}
}

func TestPlanConsumption_DaySwingSplit(t *testing.T) {
	// Exit of 150 against a same-day lot of 100 and a prior-day lot of 200:
	// plan must be [100 day, 50 swing], same-day first.
	pos := position(domain.DirectionLong,
		lot("prior", day(1), 200, 10, 1),
		lot("today", day(8), 100, 11, 2),
	)

	plan := engine.PlanConsumption(&pos, day(8), 150)

	if len(plan.Draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(plan.Draws))
	}
	if plan.Draws[0].LotID != "today" || plan.Draws[0].Quantity != 100 || plan.Draws[0].TradeType != domain.TradeTypeDay {
		t.Errorf("first draw = %+v, want today/100/day", plan.Draws[0])
	}
	if plan.Draws[1].LotID != "prior" || plan.Draws[1].Quantity != 50 || plan.Draws[1].TradeType != domain.TradeTypeSwing {
		t.Errorf("second draw = %+v, want prior/50/swing", plan.Draws[1])
	}
	if plan.TotalQuantity() != 150 {
		t.Errorf("plan covers %d, want 150", plan.TotalQuantity())
	}
}

func TestPlanConsumption_SkipsDrainedLots(t *testing.T) {
	drained := lot("l1", day(1), 100, 10, 1)
	drained.RemainingQuantity = 0
	pos := position(domain.DirectionLong,
		drained,
		lot("l2", day(2), 100, 11, 2),
	)
	pos.RemainingQuantity = 100
	pos.Status = domain.PositionStatusPartial

	plan := engine.PlanConsumption(&pos, day(3), 50)

	if len(plan.Draws) != 1 || plan.Draws[0].LotID != "l2" {
		t.Fatalf("expected single draw from l2, got %+v", plan.Draws)
	}
}

func TestPlanConsumption_PartiallyConsumedLotCapped(t *testing.T) {
	partial := lot("l1", day(1), 100, 10, 1)
	partial.RemainingQuantity = 30
	pos := position(domain.DirectionLong,
		partial,
		lot("l2", day(2), 100, 11, 2),
	)
	pos.RemainingQuantity = 130
	pos.Status = domain.PositionStatusPartial

	plan := engine.PlanConsumption(&pos, day(3), 60)

	if len(plan.Draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(plan.Draws))
	}
	if plan.Draws[0].LotID != "l1" || plan.Draws[0].Quantity != 30 {
		t.Errorf("first draw = %s/%d, want l1/30", plan.Draws[0].LotID, plan.Draws[0].Quantity)
	}
	if plan.Draws[1].LotID != "l2" || plan.Draws[1].Quantity != 30 {
		t.Errorf("second draw = %s/%d, want l2/30", plan.Draws[1].LotID, plan.Draws[1].Quantity)
	}
}
