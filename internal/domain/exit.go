package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitStrategy is the lot-selection strategy requested by the caller. AUTO
// lets the planner apply the default ordering (same-day LIFO, then FIFO).
type ExitStrategy string

const (
	StrategyFIFO ExitStrategy = "FIFO"
	StrategyLIFO ExitStrategy = "LIFO"
	StrategyAuto ExitStrategy = "AUTO"
)

// TradeType classifies one lot draw for tax purposes: a draw against a lot
// entered on the exit date is a day trade, anything older is a swing trade.
type TradeType string

const (
	TradeTypeDay   TradeType = "day"
	TradeTypeSwing TradeType = "swing"
)

// ExitRecord is one executed consumption of a lot. Records are immutable
// once created.
type ExitRecord struct {
	ID         string
	PositionID string
	LotID      string

	ExitDate time.Time
	Quantity int64

	EntryUnitPrice decimal.Decimal
	ExitUnitPrice  decimal.Decimal

	ProfitLoss    decimal.Decimal
	ProfitLossPct decimal.Decimal

	TradeType       TradeType
	AppliedStrategy ExitStrategy

	CreatedAt time.Time
}

// EntryValue returns the cost basis consumed by this record.
func (r ExitRecord) EntryValue() decimal.Decimal {
	return r.EntryUnitPrice.Mul(decimal.NewFromInt(r.Quantity))
}

// ExitValue returns the proceeds of this record.
func (r ExitRecord) ExitValue() decimal.Decimal {
	return r.ExitUnitPrice.Mul(decimal.NewFromInt(r.Quantity))
}

// ExitRequest is a validated request to exit quantity from a position. The
// orchestration layer has already resolved identity and series lookups;
// RequestedBy is carried explicitly for auditing.
type ExitRequest struct {
	PositionID    string
	ExitDate      time.Time
	Quantity      int64
	ExitUnitPrice decimal.Decimal
	StrategyHint  ExitStrategy
	RequestedBy   string
}

// ExitResult is the outcome of one processed exit, returned to the caller.
type ExitResult struct {
	ExitQuantity   int64
	TotalExitValue decimal.Decimal

	TotalProfitLoss      decimal.Decimal
	ProfitLossPercentage decimal.Decimal
	DayTradePnL          decimal.Decimal
	SwingTradePnL        decimal.Decimal

	RemainingQuantity int64
	NewStatus         PositionStatus
	NewAveragePrice   decimal.Decimal

	PerLotExitRecords []ExitRecord

	// ConsolidatedOperationID references the consolidated result operation
	// when consolidation was performed; empty otherwise.
	ConsolidatedOperationID string
}
