package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates which way the position is exposed.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PositionStatus tracks the position lifecycle. A position is open while no
// quantity has been exited, partial once some (but not all) quantity has
// been exited, and closed when nothing remains.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusPartial PositionStatus = "partial"
	PositionStatusClosed  PositionStatus = "closed"
)

// StatusFor derives the position status from remaining vs. total quantity.
// This is the single source of truth for the OPEN/PARTIAL/CLOSED machine.
func StatusFor(remaining, total int64) PositionStatus {
	switch {
	case remaining == total:
		return PositionStatusOpen
	case remaining > 0:
		return PositionStatusPartial
	default:
		return PositionStatusClosed
	}
}

// Position is the aggregate root for one directional stake in one option
// series at one brokerage. It exclusively owns its entry lots and exit
// records; mutation always goes through the aggregate, never through a
// child reference.
type Position struct {
	ID        string
	AccountID string
	Brokerage string
	Symbol    string // option series ticker, e.g. "PETRF250W"
	Direction Direction
	Status    PositionStatus

	OpenDate  time.Time
	CloseDate *time.Time

	TotalQuantity     int64
	RemainingQuantity int64
	AveragePrice      decimal.Decimal // weighted cost basis per unit

	TotalRealizedPnL    decimal.Decimal
	TotalRealizedPnLPct decimal.Decimal

	// GroupID ties the position to its operation group for reporting.
	GroupID string

	// Version supports optimistic concurrency: every persisted mutation
	// increments it, and writers must present the version they read.
	Version int64

	Lots  []EntryLot
	Exits []ExitRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LotRemainingSum returns the sum of remaining quantity across all lots.
// It must always equal RemainingQuantity; a mismatch is a consistency fault.
func (p *Position) LotRemainingSum() int64 {
	var sum int64
	for i := range p.Lots {
		sum += p.Lots[i].RemainingQuantity
	}
	return sum
}

// InvestedValue returns the capital currently tied up in the position:
// average price times remaining quantity.
func (p *Position) InvestedValue() decimal.Decimal {
	return p.AveragePrice.Mul(decimal.NewFromInt(p.RemainingQuantity))
}

// ExitedQuantity returns the total quantity realized so far.
func (p *Position) ExitedQuantity() int64 {
	var sum int64
	for i := range p.Exits {
		sum += p.Exits[i].Quantity
	}
	return sum
}

// LotByID returns a pointer into the aggregate's lot slice, or nil.
func (p *Position) LotByID(id string) *EntryLot {
	for i := range p.Lots {
		if p.Lots[i].ID == id {
			return &p.Lots[i]
		}
	}
	return nil
}

// EntryLot is one batch of quantity entered at a given date and price. Its
// original Quantity is immutable; only RemainingQuantity ever changes, and
// it only ever decreases.
type EntryLot struct {
	ID         string
	PositionID string

	EntryDate  time.Time
	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalValue decimal.Decimal

	RemainingQuantity int64

	// SequenceNumber records creation order within the position and breaks
	// ties between lots entered on the same date.
	SequenceNumber int
}

// FullyConsumed reports whether the lot has nothing left to draw from.
func (l *EntryLot) FullyConsumed() bool {
	return l.RemainingQuantity == 0
}

// SameDay reports whether two timestamps fall on the same calendar date (UTC).
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
