package engine

import (
	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// ExecutePlan turns a consumption plan into per-lot financial results.
//
// For each draw: entry value is the lot's unit price times quantity, exit
// value is the exit unit price times quantity, and profit is the price
// difference times quantity with the sign flipped for short positions.
func ExecutePlan(plan ConsumptionPlan, direction domain.Direction, exitUnitPrice decimal.Decimal) ConsumptionResult {
	res := ConsumptionResult{}

	for _, draw := range plan.Draws {
		qty := decimal.NewFromInt(draw.Quantity)
		entryValue := draw.UnitPrice.Mul(qty)
		exitValue := exitUnitPrice.Mul(qty)

		pnl := exitUnitPrice.Sub(draw.UnitPrice).Mul(qty)
		if direction == domain.DirectionShort {
			pnl = pnl.Neg()
		}

		pct := decimal.Zero
		if !entryValue.IsZero() {
			pct = pnl.Mul(oneHundred).DivRound(entryValue, priceScale)
		}

		res.Results = append(res.Results, LotConsumptionResult{
			LotConsumption: draw,
			EntryValue:     entryValue,
			ExitValue:      exitValue,
			ProfitLoss:     pnl,
			ProfitLossPct:  pct,
		})

		res.TotalQuantity += draw.Quantity
		res.TotalEntryValue = res.TotalEntryValue.Add(entryValue)
		res.TotalExitValue = res.TotalExitValue.Add(exitValue)
		res.TotalProfitLoss = res.TotalProfitLoss.Add(pnl)
		switch draw.TradeType {
		case domain.TradeTypeDay:
			res.DayTradePnL = res.DayTradePnL.Add(pnl)
		case domain.TradeTypeSwing:
			res.SwingTradePnL = res.SwingTradePnL.Add(pnl)
		}
	}

	if res.TotalQuantity > 0 {
		res.WeightedEntryPrice = res.TotalEntryValue.DivRound(
			decimal.NewFromInt(res.TotalQuantity), priceScale)
	}

	return res
}

// PercentageOf returns pnl relative to base as a percentage, or zero when
// the base is zero.
func PercentageOf(pnl, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return pnl.Mul(oneHundred).DivRound(base, priceScale)
}
