package balance

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var (
	orderO1 = reservation.Ref{Type: reservation.RefTypeOrder, ID: "O1"}
	batchK1 = reservation.Ref{Type: "batch", ID: "K1"}
)

func TestReserveReleaseRestoresAvailableExactly(t *testing.T) {
	var l Ledger
	if err := l.Produce(d("100")); err != nil {
		t.Fatalf("produce: %v", err)
	}
	before := l.Available()
	if err := l.Reserve("L1", orderO1, d("40.5")); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := l.Available(); !got.Equal(d("59.5")) {
		t.Fatalf("available = %s, want 59.5", got)
	}
	if _, err := l.Release("L1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := l.Available(); !got.Equal(before) {
		t.Fatalf("available = %s, want %s", got, before)
	}
	if _, err := l.Release("L1"); !errors.Is(err, ErrLinkUnknown) {
		t.Fatalf("second release err = %v, want ErrLinkUnknown", err)
	}
}

func TestReserveRejectsOverdraftWithoutMutation(t *testing.T) {
	var l Ledger
	_ = l.Produce(d("60"))
	err := l.Reserve("L1", orderO1, d("70"))
	var shortfall *ShortfallError
	if !errors.As(err, &shortfall) || !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want shortfall", err)
	}
	if !shortfall.Available.Equal(d("60")) || !shortfall.Requested.Equal(d("70")) {
		t.Fatalf("unexpected shortfall %+v", shortfall)
	}
	if !l.Reserved.IsZero() || len(l.Holds) != 0 {
		t.Fatalf("ledger mutated on error: %+v", l)
	}
}

func TestConsumeHoldKeepsAvailable(t *testing.T) {
	var l Ledger
	_ = l.Produce(d("100"))
	_ = l.Reserve("L1", orderO1, d("40"))
	available := l.Available()
	hold, err := l.ConsumeHold("L1")
	if err != nil {
		t.Fatalf("consume hold: %v", err)
	}
	if !hold.Quantity.Equal(d("40")) || !l.Available().Equal(available) {
		t.Fatalf("available changed: %s -> %s", available, l.Available())
	}
	if !l.Consumed.Equal(d("40")) || !l.Reserved.IsZero() {
		t.Fatalf("unexpected ledger %+v", l)
	}
	if _, err := l.Release("L1"); err == nil {
		t.Fatal("expected consumed link to be unreleasable")
	}
}

func TestConsumeAndReturn(t *testing.T) {
	var l Ledger
	_ = l.Produce(d("10"))
	if err := l.Consume("C1", batchK1, d("4")); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := l.Consume("C1", batchK1, d("1")); !errors.Is(err, ErrLinkExists) {
		t.Fatalf("err = %v, want ErrLinkExists", err)
	}
	if _, err := l.Return("C1", d("5")); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("over-return err = %v", err)
	}
	if _, err := l.Return("C1", d("4")); err != nil {
		t.Fatalf("return: %v", err)
	}
	if !l.Available().Equal(d("10")) || len(l.Outputs) != 0 {
		t.Fatalf("unexpected ledger after return %+v", l)
	}
}

func TestScrapAndWithdrawRespectAvailable(t *testing.T) {
	var l Ledger
	_ = l.Produce(d("50"))
	_ = l.Reserve("L1", orderO1, d("45"))
	if err := l.Scrap(d("10")); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("scrap err = %v", err)
	}
	if err := l.Withdraw(d("6")); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("withdraw err = %v", err)
	}
	if err := l.Scrap(d("5")); err != nil {
		t.Fatalf("scrap: %v", err)
	}
	if !l.Available().IsZero() {
		t.Fatalf("available = %s, want 0", l.Available())
	}
	if err := l.Scrap(d("0")); !errors.Is(err, ErrQuantity) {
		t.Fatalf("zero scrap err = %v", err)
	}
}

func TestInputsBySourceGroupsLinks(t *testing.T) {
	var l Ledger
	_ = l.AddInput("A", batchK1, d("60"), quantity.Units)
	_ = l.AddInput("B", batchK1, d("40"), quantity.Units)
	_ = l.AddInput("C", reservation.Ref{Type: "batch", ID: "K2"}, d("5"), quantity.Units)

	totals := l.InputsBySource()
	if len(totals) != 2 {
		t.Fatalf("totals = %+v", totals)
	}
	if totals[0].Source.ID != "K1" || !totals[0].Quantity.Equal(d("100")) {
		t.Fatalf("first total = %+v", totals[0])
	}
	if _, err := l.RemoveInput("A", d("61")); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("remove err = %v", err)
	}
	if _, err := l.RemoveInput("A", d("60")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !l.InputTotal().Equal(d("45")) {
		t.Fatalf("input total = %s", l.InputTotal())
	}
}

func TestAllocationLifecycle(t *testing.T) {
	var l Ledger
	supply := reservation.Ref{Type: "stockpile", ID: "S1"}
	if err := l.Allocate("L1", supply, d("12")); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !l.AllocatedTotal().Equal(d("12")) {
		t.Fatalf("allocated = %s", l.AllocatedTotal())
	}
	if _, err := l.ConsumeAllocation("L1", quantity.Tonnes); err != nil {
		t.Fatalf("consume allocation: %v", err)
	}
	if !l.AllocatedTotal().IsZero() || !l.InputTotal().Equal(d("12")) {
		t.Fatalf("unexpected ledger %+v", l)
	}
	if _, err := l.ReleaseAllocation("L1"); !errors.Is(err, ErrLinkUnknown) {
		t.Fatalf("release consumed allocation err = %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	var l Ledger
	_ = l.Produce(d("10"))
	_ = l.Reserve("L1", orderO1, d("5"))
	clone := l.Clone()
	if _, err := clone.Release("L1"); err != nil {
		t.Fatalf("release on clone: %v", err)
	}
	if len(l.Holds) != 1 || !l.Reserved.Equal(d("5")) {
		t.Fatalf("original mutated: %+v", l)
	}
}

func TestSnapshotNonNegative(t *testing.T) {
	var l Ledger
	_ = l.Produce(d("10"))
	snap := l.Snapshot(quantity.Units)
	if err := snap.NonNegative(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := snap.WithFigure("due", d("-1")).NonNegative(); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want ErrInsufficientAvailable", err)
	}
	if _, ok := snap.Figures["due"]; ok {
		t.Fatal("WithFigure must not mutate the receiver")
	}
}

func TestYield(t *testing.T) {
	var l Ledger
	if !l.Yield().IsZero() {
		t.Fatalf("empty yield = %s, want 0", l.Yield())
	}
	if err := l.Produce(d("200")); err != nil {
		t.Fatalf("produce: %v", err)
	}
	if err := l.Scrap(d("15")); err != nil {
		t.Fatalf("scrap: %v", err)
	}
	if got := l.Yield(); !got.Equal(d("92.5")) {
		t.Fatalf("yield = %s, want 92.5", got)
	}
}
