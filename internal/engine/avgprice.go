package engine

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// priceScale is the fixed-point scale for all price and percentage results:
// six fractional digits, ties rounded up.
const priceScale = 6

// AveragePriceCalculator recomputes the weighted-average cost basis after a
// partial exit. Cost basis shrinks by the capital removed (the proceeds),
// not by re-averaging prices; that is the only formula that stays
// consistent across an arbitrary sequence of partial exits.
type AveragePriceCalculator struct {
	logger *slog.Logger
}

// NewAveragePriceCalculator creates a calculator that reports arithmetic
// anomalies on the given logger.
func NewAveragePriceCalculator(logger *slog.Logger) *AveragePriceCalculator {
	return &AveragePriceCalculator{logger: logger}
}

// NewAveragePrice returns the new per-unit cost basis after removing
// exitValueReceived of capital, leaving remainingQty units. A negative
// remaining value is an arithmetic anomaly: it is clamped to zero and
// logged, never propagated.
//
// The function is pure apart from the anomaly log: identical inputs always
// yield identical output.
func (c *AveragePriceCalculator) NewAveragePrice(
	currentInvestedValue, exitValueReceived decimal.Decimal, remainingQty int64,
) decimal.Decimal {
	remainingValue := currentInvestedValue.Sub(exitValueReceived)
	if remainingValue.IsNegative() {
		if c.logger != nil {
			c.logger.Warn("engine: negative remaining invested value clamped to zero",
				slog.String("invested", currentInvestedValue.String()),
				slog.String("proceeds", exitValueReceived.String()),
			)
		}
		remainingValue = decimal.Zero
	}

	if remainingQty == 0 {
		return decimal.Zero
	}
	return remainingValue.DivRound(decimal.NewFromInt(remainingQty), priceScale)
}

// AverageExitPrice returns totalValueReceived / totalQtySold at the fixed
// price scale, or zero when nothing was sold.
func (c *AveragePriceCalculator) AverageExitPrice(totalValueReceived decimal.Decimal, totalQtySold int64) decimal.Decimal {
	if totalQtySold == 0 {
		return decimal.Zero
	}
	return totalValueReceived.DivRound(decimal.NewFromInt(totalQtySold), priceScale)
}

// Validate sanity-checks a recomputed average against the heuristic that a
// profitable exit should not raise the cost basis and a losing exit should
// not lower it. Violations are logged as anomalies, not failed: mixed-lot
// histories can legitimately break the heuristic. It returns false when the
// heuristic was violated.
func (c *AveragePriceCalculator) Validate(originalPrice, newAveragePrice, profitLoss decimal.Decimal) bool {
	ok := true
	if profitLoss.IsPositive() && newAveragePrice.GreaterThan(originalPrice) {
		ok = false
	}
	if profitLoss.IsNegative() && newAveragePrice.LessThan(originalPrice) {
		ok = false
	}

	if !ok && c.logger != nil {
		c.logger.Warn("engine: average price moved against profit direction",
			slog.String("original", originalPrice.String()),
			slog.String("new", newAveragePrice.String()),
			slog.String("pnl", profitLoss.String()),
		)
	}
	return ok
}
