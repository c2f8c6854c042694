package engine_test

import (
	"testing"

	"github.com/optfolio/opttracker/internal/domain"
	"github.com/optfolio/opttracker/internal/engine"
)

func TestExecutePlan_LongProfit(t *testing.T) {
	pos := position(domain.DirectionLong, lot("l1", day(1), 300, 10, 1))
	plan := engine.PlanConsumption(&pos, day(2), 100)

	res := engine.ExecutePlan(plan, domain.DirectionLong, d(12))

	if !res.TotalProfitLoss.Equal(d(200)) {
		t.Errorf("TotalProfitLoss = %s, want 200", res.TotalProfitLoss)
	}
	if !res.TotalExitValue.Equal(d(1200)) {
		t.Errorf("TotalExitValue = %s, want 1200", res.TotalExitValue)
	}
	if !res.TotalEntryValue.Equal(d(1000)) {
		t.Errorf("TotalEntryValue = %s, want 1000", res.TotalEntryValue)
	}
	if !res.WeightedEntryPrice.Equal(d(10)) {
		t.Errorf("WeightedEntryPrice = %s, want 10", res.WeightedEntryPrice)
	}
	if len(res.Results) != 1 || !res.Results[0].ProfitLossPct.Equal(d(20)) {
		t.Errorf("per-lot pct = %+v, want 20%%", res.Results)
	}
}

func TestExecutePlan_ShortFlipsSign(t *testing.T) {
	// A short position profits when the exit (cover) price is below entry.
	pos := position(domain.DirectionShort, lot("l1", day(1), 100, 10, 1))
	plan := engine.PlanConsumption(&pos, day(2), 100)

	res := engine.ExecutePlan(plan, domain.DirectionShort, d(8))

	if !res.TotalProfitLoss.Equal(d(200)) {
		t.Errorf("short cover at 8 from 10: pnl = %s, want 200", res.TotalProfitLoss)
	}
}

func TestExecutePlan_PnLSplitByTradeType(t *testing.T) {
	pos := position(domain.DirectionLong,
		lot("prior", day(1), 200, 10, 1),
		lot("today", day(8), 100, 11, 2),
	)
	plan := engine.PlanConsumption(&pos, day(8), 150)

	res := engine.ExecutePlan(plan, domain.DirectionLong, d(12))

	// Day: 100 × (12−11) = 100. Swing: 50 × (12−10) = 100.
	if !res.DayTradePnL.Equal(d(100)) {
		t.Errorf("DayTradePnL = %s, want 100", res.DayTradePnL)
	}
	if !res.SwingTradePnL.Equal(d(100)) {
		t.Errorf("SwingTradePnL = %s, want 100", res.SwingTradePnL)
	}
	if !res.TotalProfitLoss.Equal(d(200)) {
		t.Errorf("TotalProfitLoss = %s, want 200", res.TotalProfitLoss)
	}

	// Weighted entry price: (100×11 + 50×10) / 150 = 1600/150.
	want := d(1600).DivRound(d(150), 6)
	if !res.WeightedEntryPrice.Equal(want) {
		t.Errorf("WeightedEntryPrice = %s, want %s", res.WeightedEntryPrice, want)
	}
}

func TestExecutePlan_ZeroEntryValue(t *testing.T) {
	pos := position(domain.DirectionLong, lot("free", day(1), 100, 0, 1))
	plan := engine.PlanConsumption(&pos, day(2), 100)

	res := engine.ExecutePlan(plan, domain.DirectionLong, d(1))

	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	if !res.Results[0].ProfitLossPct.IsZero() {
		t.Errorf("pct with zero entry value = %s, want 0", res.Results[0].ProfitLossPct)
	}
}
