package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenRequest creates a new position from its first fill.
type OpenRequest struct {
	AccountID   string
	Brokerage   string
	Symbol      string
	Direction   Direction
	EntryDate   time.Time
	Quantity    int64
	UnitPrice   decimal.Decimal
	RequestedBy string
}

// EntryRequest adds a lot to an existing open or partial position.
type EntryRequest struct {
	PositionID  string
	EntryDate   time.Time
	Quantity    int64
	UnitPrice   decimal.Decimal
	RequestedBy string
}
