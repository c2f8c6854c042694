package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationRole tags a persisted trade record with its role inside an
// operation group. A group is the sequence of records that together
// represent one logical position for external reporting.
type OperationRole string

const (
	RoleOriginalEntry      OperationRole = "ORIGINAL_ENTRY"
	RoleAdditionalEntry    OperationRole = "ADDITIONAL_ENTRY"
	RoleConsolidatedEntry  OperationRole = "CONSOLIDATED_ENTRY"
	RoleConsolidatedResult OperationRole = "CONSOLIDATED_RESULT"
	RoleTotalExit          OperationRole = "TOTAL_EXIT"
)

// OperationOutcome is the terminal win/loss status of a fully realized
// position. Break-even is tagged winner, matching upstream reporting
// semantics.
type OperationOutcome string

const (
	OutcomeNone   OperationOutcome = ""
	OutcomeWinner OperationOutcome = "winner"
	OutcomeLoser  OperationOutcome = "loser"
)

// OutcomeForPnL maps a cumulative profit/loss to its terminal outcome.
func OutcomeForPnL(pnl decimal.Decimal) OperationOutcome {
	if pnl.IsNegative() {
		return OutcomeLoser
	}
	return OutcomeWinner
}

// Operation is one role-tagged trade record inside an operation group.
// Entry-role operations carry entry figures; result-role operations carry
// cumulative exit figures.
type Operation struct {
	ID         string
	GroupID    string
	PositionID string

	Role           OperationRole
	SequenceNumber int

	// Hidden operations are excluded from aggregate views; the original
	// entry is hidden once a consolidated entry supersedes it.
	Hidden bool

	Symbol    string
	Direction Direction
	TradeDate time.Time

	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalValue decimal.Decimal

	ExitDate       *time.Time
	ExitUnitPrice  decimal.Decimal
	ExitTotalValue decimal.Decimal

	ProfitLoss    decimal.Decimal
	ProfitLossPct decimal.Decimal
	Outcome       OperationOutcome

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AverageOperationGroup is the ordered set of operations sharing a GroupID.
type AverageOperationGroup struct {
	ID         string
	PositionID string
	Items      []Operation
}

// FindByRole returns a pointer to the first item with the given role, or nil.
func (g *AverageOperationGroup) FindByRole(role OperationRole) *Operation {
	for i := range g.Items {
		if g.Items[i].Role == role {
			return &g.Items[i]
		}
	}
	return nil
}

// NextSequence returns the sequence number for the next item added.
func (g *AverageOperationGroup) NextSequence() int {
	max := 0
	for i := range g.Items {
		if g.Items[i].SequenceNumber > max {
			max = g.Items[i].SequenceNumber
		}
	}
	return max + 1
}

// Terminal returns the group's terminal record: the single operation that
// represents the fully realized result of the position, or nil while the
// position is still open.
func (g *AverageOperationGroup) Terminal() *Operation {
	if op := g.FindByRole(RoleTotalExit); op != nil {
		return op
	}
	// A single-total-exit position terminates in its original entry record,
	// updated in place with exit fields.
	if op := g.FindByRole(RoleOriginalEntry); op != nil && op.Outcome != OutcomeNone {
		return op
	}
	return nil
}
