package engine_test

import (
	"testing"

	"github.com/optfolio/opttracker/internal/domain"
	"github.com/optfolio/opttracker/internal/engine"
)

func TestDetermineExitType(t *testing.T) {
	tests := []struct {
		name      string
		status    domain.PositionStatus
		total     int64
		remaining int64
		quantity  int64
		want      engine.ExitType
	}{
		{"first partial from open", domain.PositionStatusOpen, 300, 300, 100, engine.ExitFirstPartial},
		{"subsequent partial", domain.PositionStatusPartial, 300, 200, 100, engine.ExitSubsequentPartial},
		{"final partial drains remaining", domain.PositionStatusPartial, 300, 100, 100, engine.ExitFinalPartial},
		{"single total exit from open", domain.PositionStatusOpen, 300, 300, 300, engine.ExitSingleTotal},
		{"closed position is unknown", domain.PositionStatusClosed, 300, 0, 100, engine.ExitUnknown},
		{"open with mismatched remaining is unknown", domain.PositionStatusOpen, 300, 200, 100, engine.ExitUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := domain.Position{
				Status:            tt.status,
				TotalQuantity:     tt.total,
				RemainingQuantity: tt.remaining,
			}
			if got := engine.DetermineExitType(&pos, tt.quantity); got != tt.want {
				t.Errorf("DetermineExitType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyScenario(t *testing.T) {
	t.Run("single fresh lot", func(t *testing.T) {
		pos := position(domain.DirectionLong, lot("l1", day(1), 300, 10, 1))
		if got := engine.ClassifyScenario(&pos, 300); got != engine.ScenarioSingleLot {
			t.Errorf("ClassifyScenario() = %s, want %s", got, engine.ScenarioSingleLot)
		}
	})

	t.Run("partial with single historical entry", func(t *testing.T) {
		pos := position(domain.DirectionLong, lot("l1", day(1), 300, 10, 1))
		if got := engine.ClassifyScenario(&pos, 100); got != engine.ScenarioPartialSingleSource {
			t.Errorf("ClassifyScenario() = %s, want %s", got, engine.ScenarioPartialSingleSource)
		}
	})

	t.Run("multiple lots drained by a full exit", func(t *testing.T) {
		pos := position(domain.DirectionLong,
			lot("l1", day(1), 100, 10, 1),
			lot("l2", day(2), 200, 11, 2),
		)
		if got := engine.ClassifyScenario(&pos, 300); got != engine.ScenarioMultipleLotsTotalExit {
			t.Errorf("ClassifyScenario() = %s, want %s", got, engine.ScenarioMultipleLotsTotalExit)
		}
	})

	t.Run("multiple entries with a partially consumed lot", func(t *testing.T) {
		touched := lot("l1", day(1), 100, 10, 1)
		touched.RemainingQuantity = 40
		pos := position(domain.DirectionLong, touched, lot("l2", day(2), 200, 11, 2))
		pos.RemainingQuantity = 240
		pos.Status = domain.PositionStatusPartial

		if got := engine.ClassifyScenario(&pos, 50); got != engine.ScenarioComplexMultipleSources {
			t.Errorf("ClassifyScenario() = %s, want %s", got, engine.ScenarioComplexMultipleSources)
		}
	})
}
