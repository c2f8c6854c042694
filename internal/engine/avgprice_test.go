package engine_test

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/engine"
)

func newCalc() *engine.AveragePriceCalculator {
	return engine.NewAveragePriceCalculator(slog.Default())
}

func TestNewAveragePrice_WorkedExample(t *testing.T) {
	// One lot of 300 at 10.00 (invested 3000.00); exit 100 at 12.00.
	// Proceeds 1200.00 leave 1800.00 invested over 200 units: 9.00.
	calc := newCalc()

	got := calc.NewAveragePrice(d(3000), d(1200), 200)
	if !got.Equal(d(9)) {
		t.Errorf("NewAveragePrice(3000, 1200, 200) = %s, want 9", got)
	}
}

func TestNewAveragePrice_Pure(t *testing.T) {
	calc := newCalc()
	first := calc.NewAveragePrice(d(1234.56), d(789.01), 37)
	for i := 0; i < 5; i++ {
		if got := calc.NewAveragePrice(d(1234.56), d(789.01), 37); !got.Equal(first) {
			t.Fatalf("call %d returned %s, first call returned %s", i, got, first)
		}
	}
}

func TestNewAveragePrice_ZeroRemaining(t *testing.T) {
	calc := newCalc()
	if got := calc.NewAveragePrice(d(3000), d(3300), 0); !got.IsZero() {
		t.Errorf("NewAveragePrice with zero remaining = %s, want 0", got)
	}
}

func TestNewAveragePrice_NegativeValueClamped(t *testing.T) {
	// Proceeds exceeding invested value is an arithmetic anomaly: clamp to
	// zero rather than produce a negative cost basis.
	calc := newCalc()
	if got := calc.NewAveragePrice(d(1000), d(1500), 50); !got.IsZero() {
		t.Errorf("NewAveragePrice(1000, 1500, 50) = %s, want 0", got)
	}
}

func TestNewAveragePrice_Rounding(t *testing.T) {
	// 1000 / 3 at six fractional digits, half up.
	calc := newCalc()
	got := calc.NewAveragePrice(d(1000), decimal.Zero, 3)
	want, _ := decimal.NewFromString("333.333333")
	if !got.Equal(want) {
		t.Errorf("NewAveragePrice(1000, 0, 3) = %s, want %s", got, want)
	}
}

func TestAverageExitPrice(t *testing.T) {
	calc := newCalc()
	if got := calc.AverageExitPrice(d(2000), 200); !got.Equal(d(10)) {
		t.Errorf("AverageExitPrice(2000, 200) = %s, want 10", got)
	}
	if got := calc.AverageExitPrice(d(2000), 0); !got.IsZero() {
		t.Errorf("AverageExitPrice(2000, 0) = %s, want 0", got)
	}
}

func TestValidate_Heuristic(t *testing.T) {
	calc := newCalc()

	// Profit should not raise the basis; loss should not lower it.
	if calc.Validate(d(10), d(11), d(200)) {
		t.Error("profit raising the average should flag an anomaly")
	}
	if calc.Validate(d(10), d(9), d(-200)) {
		t.Error("loss lowering the average should flag an anomaly")
	}
	if !calc.Validate(d(10), d(9), d(200)) {
		t.Error("profit lowering the average is the expected shape")
	}
	if !calc.Validate(d(10), d(10), decimal.Zero) {
		t.Error("break-even with unchanged average should pass")
	}
}
