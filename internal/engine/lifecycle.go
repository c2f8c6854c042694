package engine

import "github.com/optfolio/opttracker/internal/domain"

// ExitType classifies an exit by where it falls in the position lifecycle:
//
//	OPEN --(partial)--> PARTIAL --(partial)--> PARTIAL --(final)--> CLOSED
//	OPEN --(exit == full remaining)--> CLOSED (no consolidation)
type ExitType string

const (
	ExitFirstPartial      ExitType = "first_partial"
	ExitSubsequentPartial ExitType = "subsequent_partial"
	ExitFinalPartial      ExitType = "final_partial"
	ExitSingleTotal       ExitType = "single_total_exit"
	ExitUnknown           ExitType = "unknown"
)

// DetermineExitType classifies the requested exit by lifecycle stage.
// ExitUnknown must never occur for valid input; callers treat it as a
// logic/data error and abort rather than guess.
func DetermineExitType(pos *domain.Position, quantity int64) ExitType {
	remaining := pos.RemainingQuantity

	switch {
	case pos.Status == domain.PositionStatusOpen &&
		remaining == pos.TotalQuantity && quantity < remaining:
		return ExitFirstPartial

	case pos.Status == domain.PositionStatusPartial &&
		remaining > 0 && quantity < remaining:
		return ExitSubsequentPartial

	case quantity == remaining && remaining > 0 &&
		pos.Status == domain.PositionStatusPartial:
		return ExitFinalPartial

	case quantity == remaining && remaining > 0 &&
		pos.Status == domain.PositionStatusOpen && remaining == pos.TotalQuantity:
		return ExitSingleTotal

	default:
		return ExitUnknown
	}
}
