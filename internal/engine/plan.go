package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
)

// LotConsumption is one planned draw against a lot. Plans are built and
// consumed within a single request and are never persisted.
type LotConsumption struct {
	LotID          string
	SequenceNumber int
	EntryDate      time.Time
	UnitPrice      decimal.Decimal
	Quantity       int64
	TradeType      domain.TradeType
}

// ConsumptionPlan is the ordered list of draws that satisfies one exit.
type ConsumptionPlan struct {
	ExitDate time.Time
	Draws    []LotConsumption
}

// TotalQuantity returns the quantity covered by the plan.
func (p ConsumptionPlan) TotalQuantity() int64 {
	var sum int64
	for _, d := range p.Draws {
		sum += d.Quantity
	}
	return sum
}

// LotConsumptionResult is the computed outcome of executing one draw.
type LotConsumptionResult struct {
	LotConsumption

	EntryValue    decimal.Decimal
	ExitValue     decimal.Decimal
	ProfitLoss    decimal.Decimal
	ProfitLossPct decimal.Decimal
}

// ConsumptionResult aggregates the executed draws of one exit.
type ConsumptionResult struct {
	Results []LotConsumptionResult

	TotalQuantity   int64
	TotalEntryValue decimal.Decimal
	TotalExitValue  decimal.Decimal

	TotalProfitLoss decimal.Decimal
	DayTradePnL     decimal.Decimal
	SwingTradePnL   decimal.Decimal

	// WeightedEntryPrice is Σ(entryValue)/Σ(quantity) across all draws.
	WeightedEntryPrice decimal.Decimal
}
