package reservation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransitionHeldEndsOnce(t *testing.T) {
	now := time.Unix(1700000000, 0)
	link := Link{ID: "L1", Kind: KindReservation, Status: StatusHeld, Quantity: decimal.NewFromInt(40)}

	released, err := link.Transition(StatusReleased, now)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != StatusReleased || !released.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected link %+v", released)
	}
	if _, err := released.Transition(StatusConsumed, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	again, err := released.Transition(StatusReleased, now.Add(time.Hour))
	if err != nil || !again.UpdatedAt.Equal(now) {
		t.Fatalf("repeat release should be a no-op: %+v %v", again, err)
	}
}

func TestTransitionConsumptionReturn(t *testing.T) {
	link := Link{ID: "L2", Kind: KindConsumption, Status: StatusConsumed}
	if _, err := link.Transition(StatusReturned, time.Now()); err != nil {
		t.Fatalf("return: %v", err)
	}
	reservationLink := Link{ID: "L3", Kind: KindReservation, Status: StatusConsumed}
	if _, err := reservationLink.Transition(StatusReturned, time.Now()); err == nil {
		t.Fatal("expected consumed reservation to be final")
	}
}

func TestRefHelpers(t *testing.T) {
	ref := Ref{Type: " Order ", ID: " O1 "}.Normalize()
	if ref.String() != "order/O1" || !ref.IsExternal() {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if !(Ref{}).IsZero() {
		t.Fatal("expected zero ref")
	}
}
