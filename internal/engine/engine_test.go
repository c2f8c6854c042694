package engine_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/optfolio/opttracker/internal/domain"
	"github.com/optfolio/opttracker/internal/engine"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openPosition(t *testing.T, qty int64, price float64) (domain.Position, domain.AverageOperationGroup) {
	t.Helper()
	pos, origOp, err := engine.NewPosition(domain.OpenRequest{
		AccountID: "acct-1",
		Brokerage: "broker-1",
		Symbol:    "PETRF250W",
		Direction: domain.DirectionLong,
		EntryDate: day(1),
		Quantity:  qty,
		UnitPrice: d(price),
	}, testNow)
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	group := domain.AverageOperationGroup{
		ID:         pos.GroupID,
		PositionID: pos.ID,
		Items:      []domain.Operation{origOp},
	}
	return pos, group
}

// applyToGroup replays an exit outcome's group mutations, the way the
// operation store would.
func applyToGroup(group *domain.AverageOperationGroup, outcome domain.ExitOutcome) {
	for _, upd := range outcome.UpdatedOperations {
		for i := range group.Items {
			if group.Items[i].ID == upd.ID {
				group.Items[i] = upd
			}
		}
	}
	group.Items = append(group.Items, outcome.NewOperations...)
}

func checkInvariants(t *testing.T, pos *domain.Position) {
	t.Helper()
	if got := pos.LotRemainingSum(); got != pos.RemainingQuantity {
		t.Errorf("lot remaining sum %d != position remaining %d", got, pos.RemainingQuantity)
	}
	if want := domain.StatusFor(pos.RemainingQuantity, pos.TotalQuantity); pos.Status != want {
		t.Errorf("status %s does not match remaining/total, want %s", pos.Status, want)
	}
	for i := range pos.Lots {
		l := &pos.Lots[i]
		if l.RemainingQuantity < 0 || l.RemainingQuantity > l.Quantity {
			t.Errorf("lot %s remaining %d out of [0,%d]", l.ID, l.RemainingQuantity, l.Quantity)
		}
	}
}

func TestProcessExit_WorkedExample(t *testing.T) {
	// One lot of 300 at 10.00. Exit 100 at 12.00: pnl 200.00, proceeds
	// 1200.00, new average 9.00 over the remaining 200.
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 300, 10)

	result, outcome, err := eng.ProcessExit(pos, group, domain.ExitRequest{
		PositionID:    pos.ID,
		ExitDate:      day(2),
		Quantity:      100,
		ExitUnitPrice: d(12),
	}, testNow)
	if err != nil {
		t.Fatalf("ProcessExit: %v", err)
	}

	if !result.TotalProfitLoss.Equal(d(200)) {
		t.Errorf("TotalProfitLoss = %s, want 200", result.TotalProfitLoss)
	}
	if !result.TotalExitValue.Equal(d(1200)) {
		t.Errorf("TotalExitValue = %s, want 1200", result.TotalExitValue)
	}
	if !result.NewAveragePrice.Equal(d(9)) {
		t.Errorf("NewAveragePrice = %s, want 9", result.NewAveragePrice)
	}
	if result.RemainingQuantity != 200 {
		t.Errorf("RemainingQuantity = %d, want 200", result.RemainingQuantity)
	}
	if result.NewStatus != domain.PositionStatusPartial {
		t.Errorf("NewStatus = %s, want partial", result.NewStatus)
	}
	if !result.ProfitLossPercentage.Equal(d(20)) {
		t.Errorf("ProfitLossPercentage = %s, want 20", result.ProfitLossPercentage)
	}
	checkInvariants(t, &outcome.Position)
}

func TestProcessExit_ConsolidationLifecycle(t *testing.T) {
	// Position of 300: three exits of 100. The first creates exactly one
	// consolidated entry (qty 200) and one consolidated result; the second
	// updates both in place; the final re-tags the result as the total exit
	// with the terminal outcome decided by cumulative pnl sign.
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 300, 10)

	// --- First partial: 100 @ 12 (pnl +200) ---
	_, outcome, err := eng.ProcessExit(pos, group, domain.ExitRequest{
		PositionID: pos.ID, ExitDate: day(2), Quantity: 100, ExitUnitPrice: d(12),
	}, testNow)
	if err != nil {
		t.Fatalf("first exit: %v", err)
	}
	if len(outcome.NewOperations) != 2 {
		t.Fatalf("first exit created %d operations, want 2", len(outcome.NewOperations))
	}
	applyToGroup(&group, outcome)
	pos = outcome.Position
	checkInvariants(t, &pos)

	consEntry := group.FindByRole(domain.RoleConsolidatedEntry)
	consResult := group.FindByRole(domain.RoleConsolidatedResult)
	if consEntry == nil || consResult == nil {
		t.Fatal("consolidated entry/result missing after first partial")
	}
	if consEntry.Quantity != 200 || !consEntry.UnitPrice.Equal(d(9)) {
		t.Errorf("consolidated entry = qty %d @ %s, want 200 @ 9", consEntry.Quantity, consEntry.UnitPrice)
	}
	if consResult.Quantity != 100 || !consResult.ProfitLoss.Equal(d(200)) {
		t.Errorf("consolidated result = qty %d pnl %s, want 100 / 200", consResult.Quantity, consResult.ProfitLoss)
	}
	orig := group.FindByRole(domain.RoleOriginalEntry)
	if orig == nil || !orig.Hidden {
		t.Error("original entry should be hidden after first partial")
	}

	// --- Subsequent partial: 100 @ 8 (pnl −200, cumulative 0) ---
	_, outcome, err = eng.ProcessExit(pos, group, domain.ExitRequest{
		PositionID: pos.ID, ExitDate: day(3), Quantity: 100, ExitUnitPrice: d(8),
	}, testNow)
	if err != nil {
		t.Fatalf("second exit: %v", err)
	}
	if len(outcome.NewOperations) != 0 {
		t.Fatalf("second exit created %d operations, want 0 (update, not duplicate)", len(outcome.NewOperations))
	}
	applyToGroup(&group, outcome)
	pos = outcome.Position
	checkInvariants(t, &pos)

	consEntry = group.FindByRole(domain.RoleConsolidatedEntry)
	consResult = group.FindByRole(domain.RoleConsolidatedResult)
	if consEntry.Quantity != 100 || !consEntry.UnitPrice.Equal(d(10)) {
		t.Errorf("consolidated entry = qty %d @ %s, want 100 @ 10", consEntry.Quantity, consEntry.UnitPrice)
	}
	if consResult.Quantity != 200 || !consResult.ProfitLoss.IsZero() {
		t.Errorf("consolidated result = qty %d pnl %s, want 200 / 0", consResult.Quantity, consResult.ProfitLoss)
	}
	if !consResult.ExitUnitPrice.Equal(d(10)) {
		// (1200 + 800) / 200
		t.Errorf("average exit price = %s, want 10", consResult.ExitUnitPrice)
	}

	// --- Final partial: 100 @ 11 (pnl +100, cumulative +100) ---
	result, outcome, err := eng.ProcessExit(pos, group, domain.ExitRequest{
		PositionID: pos.ID, ExitDate: day(4), Quantity: 100, ExitUnitPrice: d(11),
	}, testNow)
	if err != nil {
		t.Fatalf("final exit: %v", err)
	}
	applyToGroup(&group, outcome)
	pos = outcome.Position
	checkInvariants(t, &pos)

	if pos.Status != domain.PositionStatusClosed {
		t.Errorf("status = %s, want closed", pos.Status)
	}
	if pos.CloseDate == nil || !domain.SameDay(*pos.CloseDate, day(4)) {
		t.Error("close date not set to the final exit date")
	}
	if group.FindByRole(domain.RoleConsolidatedResult) != nil {
		t.Error("consolidated result should have been re-tagged as total exit")
	}
	terminal := group.FindByRole(domain.RoleTotalExit)
	if terminal == nil {
		t.Fatal("total exit record missing after final partial")
	}
	if terminal.Outcome != domain.OutcomeWinner {
		t.Errorf("terminal outcome = %s, want winner (cumulative pnl +100)", terminal.Outcome)
	}
	if terminal.Quantity != 300 || !terminal.ProfitLoss.Equal(d(100)) {
		t.Errorf("terminal = qty %d pnl %s, want 300 / 100", terminal.Quantity, terminal.ProfitLoss)
	}
	if !pos.TotalRealizedPnL.Equal(d(100)) {
		t.Errorf("TotalRealizedPnL = %s, want 100", pos.TotalRealizedPnL)
	}
	if result.ConsolidatedOperationID != terminal.ID {
		t.Errorf("ConsolidatedOperationID = %s, want %s", result.ConsolidatedOperationID, terminal.ID)
	}
}

func TestProcessExit_SingleTotalExit(t *testing.T) {
	// A full exit from OPEN bypasses consolidation: the original entry is
	// updated in place with the exit fields and terminal status.
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 300, 10)

	result, outcome, err := eng.ProcessExit(pos, group, domain.ExitRequest{
		PositionID: pos.ID, ExitDate: day(5), Quantity: 300, ExitUnitPrice: d(9),
	}, testNow)
	if err != nil {
		t.Fatalf("ProcessExit: %v", err)
	}

	if len(outcome.NewOperations) != 0 {
		t.Errorf("single total exit created %d operations, want 0", len(outcome.NewOperations))
	}
	if result.ConsolidatedOperationID != "" {
		t.Errorf("ConsolidatedOperationID = %q, want empty", result.ConsolidatedOperationID)
	}
	if len(outcome.UpdatedOperations) != 1 {
		t.Fatalf("updated %d operations, want 1", len(outcome.UpdatedOperations))
	}

	orig := outcome.UpdatedOperations[0]
	if orig.Role != domain.RoleOriginalEntry {
		t.Errorf("updated role = %s, want original entry", orig.Role)
	}
	if orig.Hidden {
		t.Error("single total exit must not hide the original entry")
	}
	if orig.Outcome != domain.OutcomeLoser {
		t.Errorf("outcome = %s, want loser (pnl −300)", orig.Outcome)
	}
	if !orig.ProfitLoss.Equal(d(-300)) {
		t.Errorf("pnl = %s, want -300", orig.ProfitLoss)
	}
	if outcome.Position.Status != domain.PositionStatusClosed {
		t.Errorf("status = %s, want closed", outcome.Position.Status)
	}
	checkInvariants(t, &outcome.Position)
}

func TestProcessExit_BreakEvenIsWinner(t *testing.T) {
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 100, 10)

	_, outcome, err := eng.ProcessExit(pos, group, domain.ExitRequest{
		PositionID: pos.ID, ExitDate: day(2), Quantity: 100, ExitUnitPrice: d(10),
	}, testNow)
	if err != nil {
		t.Fatalf("ProcessExit: %v", err)
	}
	if got := outcome.UpdatedOperations[0].Outcome; got != domain.OutcomeWinner {
		t.Errorf("break-even outcome = %s, want winner", got)
	}
}

func TestProcessExit_NoMutationOnValidationError(t *testing.T) {
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 100, 10)

	_, _, err := eng.ProcessExit(pos, group, domain.ExitRequest{
		PositionID: pos.ID, ExitDate: day(2), Quantity: 500, ExitUnitPrice: d(10),
	}, testNow)
	if !domain.IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}

	// The caller's aggregate is untouched.
	if pos.RemainingQuantity != 100 || pos.Lots[0].RemainingQuantity != 100 {
		t.Error("aggregate mutated by a rejected exit")
	}
	if len(group.Items) != 1 {
		t.Error("group mutated by a rejected exit")
	}
}

func TestProcessExit_RejectsBackdatedExit(t *testing.T) {
	// Quantities validate, but no lot existed yet on the exit date. The
	// plan cannot cover the request and the exit must be rejected whole,
	// not applied against zero draws.
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 100, 10)
	pos.Lots[0].EntryDate = day(5)

	_, _, err := eng.ProcessExit(pos, group, domain.ExitRequest{
		PositionID: pos.ID, ExitDate: day(3), Quantity: 100, ExitUnitPrice: d(12),
	}, testNow)
	if !domain.IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
	if pos.RemainingQuantity != 100 || pos.Lots[0].RemainingQuantity != 100 {
		t.Error("aggregate mutated by a rejected exit")
	}
	checkInvariants(t, &pos)
}

func TestProcessExit_RejectsPartiallyCoverableExit(t *testing.T) {
	// One lot predates the exit, a second does not. Even though the two
	// lots together hold enough quantity, only the earlier one is
	// eligible, so the request is rejected rather than half-filled.
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 50, 10)
	newPos, _, _, err := eng.ApplyEntry(pos, group, domain.EntryRequest{
		PositionID: pos.ID, EntryDate: day(5), Quantity: 50, UnitPrice: d(12),
	}, testNow)
	if err != nil {
		t.Fatalf("ApplyEntry: %v", err)
	}

	_, _, err = eng.ProcessExit(newPos, group, domain.ExitRequest{
		PositionID: newPos.ID, ExitDate: day(3), Quantity: 100, ExitUnitPrice: d(12),
	}, testNow)
	if !domain.IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
	if got := newPos.LotRemainingSum(); got != newPos.RemainingQuantity {
		t.Errorf("lot remaining sum %d != position remaining %d", got, newPos.RemainingQuantity)
	}
}

func TestApplyEntry_ReAverages(t *testing.T) {
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 100, 10)

	newPos, lot, op, err := eng.ApplyEntry(pos, group, domain.EntryRequest{
		PositionID: pos.ID,
		EntryDate:  day(2),
		Quantity:   100,
		UnitPrice:  d(12),
	}, testNow)
	if err != nil {
		t.Fatalf("ApplyEntry: %v", err)
	}

	if !newPos.AveragePrice.Equal(d(11)) {
		t.Errorf("average = %s, want 11", newPos.AveragePrice)
	}
	if newPos.TotalQuantity != 200 || newPos.RemainingQuantity != 200 {
		t.Errorf("quantities = %d/%d, want 200/200", newPos.TotalQuantity, newPos.RemainingQuantity)
	}
	if lot.SequenceNumber != 2 {
		t.Errorf("lot sequence = %d, want 2", lot.SequenceNumber)
	}
	if op.Role != domain.RoleAdditionalEntry || op.SequenceNumber != 2 {
		t.Errorf("operation = %s seq %d, want additional entry seq 2", op.Role, op.SequenceNumber)
	}
	checkInvariants(t, &newPos)
}

func TestApplyEntry_RejectedOnClosed(t *testing.T) {
	eng := engine.New(slog.Default())
	pos, group := openPosition(t, 100, 10)
	pos.Status = domain.PositionStatusClosed
	pos.RemainingQuantity = 0
	pos.Lots[0].RemainingQuantity = 0

	_, _, _, err := eng.ApplyEntry(pos, group, domain.EntryRequest{
		PositionID: pos.ID, EntryDate: day(2), Quantity: 50, UnitPrice: d(10),
	}, testNow)
	if err != domain.ErrPositionClosed {
		t.Errorf("got %v, want ErrPositionClosed", err)
	}
}
