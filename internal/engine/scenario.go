package engine

import "github.com/optfolio/opttracker/internal/domain"

// Scenario classifies an exit by the complexity of the lot state it has to
// consume. The classification is a domain rule, not a heuristic: it decides
// which downstream path handles the exit and is recorded for auditing.
type Scenario string

const (
	ScenarioSingleLot              Scenario = "single_lot"
	ScenarioMultipleLotsTotalExit  Scenario = "multiple_lots_total_exit"
	ScenarioPartialSingleSource    Scenario = "partial_single_source"
	ScenarioComplexMultipleSources Scenario = "complex_multiple_sources"
)

// ClassifyScenario classifies the requested exit against the position.
//
// Multiple historical entries combined with an already partially consumed
// lot is the complex case. A partial exit over a single historical entry
// draws from one source. Multiple lots drained by a full exit is the
// multi-lot total exit. Everything else reduces to the single-lot case.
func ClassifyScenario(pos *domain.Position, quantity int64) Scenario {
	partialExit := quantity < pos.RemainingQuantity
	multipleEntries := len(pos.Lots) > 1

	switch {
	case multipleEntries && hasPartiallyConsumedLot(pos):
		return ScenarioComplexMultipleSources
	case partialExit && !multipleEntries:
		return ScenarioPartialSingleSource
	case multipleEntries && !partialExit:
		return ScenarioMultipleLotsTotalExit
	default:
		return ScenarioSingleLot
	}
}

// hasPartiallyConsumedLot reports whether any active lot has already been
// drawn from but not drained.
func hasPartiallyConsumedLot(pos *domain.Position) bool {
	for i := range pos.Lots {
		l := &pos.Lots[i]
		if l.RemainingQuantity > 0 && l.RemainingQuantity < l.Quantity {
			return true
		}
	}
	return false
}
