package engine

import (
	"fmt"

	"github.com/optfolio/opttracker/internal/domain"
)

// ValidateExit gates an exit request against the aggregate. It has no side
// effects: either the request is executable against the current lot state,
// or a typed error explains why nothing was changed.
//
// A quantity problem is the caller's fault and yields a ValidationError. A
// disagreement between the lot remaining sum and the position's remaining
// quantity is corrupted upstream state and yields a ConsistencyFault.
func ValidateExit(pos *domain.Position, quantity int64) error {
	if quantity <= 0 {
		return domain.Validationf("exit quantity must be positive, got %d", quantity)
	}

	lotSum := pos.LotRemainingSum()
	if quantity > lotSum {
		return domain.Validationf(
			"exit quantity %d exceeds remaining quantity %d on position %s",
			quantity, lotSum, pos.ID,
		)
	}

	if lotSum != pos.RemainingQuantity {
		return &domain.ConsistencyFault{
			PositionID: pos.ID,
			Reason: fmt.Sprintf(
				"lot remaining sum %d != position remaining quantity %d",
				lotSum, pos.RemainingQuantity,
			),
		}
	}

	return nil
}
