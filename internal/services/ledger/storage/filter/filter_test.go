package filter

import (
	"reflect"
	"testing"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

func TestParseEventFilter_TypeEquals(t *testing.T) {
	cond, err := ParseEventFilter(`type = "RESERVED"`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if cond.Clause != "event_type = ?" {
		t.Errorf("expected 'event_type = ?', got %q", cond.Clause)
	}
	if !reflect.DeepEqual(cond.Params, []any{"RESERVED"}) {
		t.Fatalf("Params = %v", cond.Params)
	}
	if !cond.Match(event.Event{Type: event.TypeReserved}) {
		t.Fatal("expected RESERVED to match")
	}
	if cond.Match(event.Event{Type: event.TypeReleased}) {
		t.Fatal("expected RELEASED not to match")
	}
}

func TestParseEventFilter_Empty(t *testing.T) {
	cond, err := ParseEventFilter(" ")
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if !cond.Empty() || cond.Params != nil {
		t.Fatalf("expected empty condition, got %+v", cond)
	}
	if !cond.Match(event.Event{}) {
		t.Fatal("empty condition should match everything")
	}
}

func TestParseEventFilter_AndOr(t *testing.T) {
	cond, err := ParseEventFilter(`type = "CONSUMED" AND actor_role = "operator"`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if cond.Clause != "(event_type = ? AND actor_role = ?)" {
		t.Fatalf("Clause = %q", cond.Clause)
	}
	if !reflect.DeepEqual(cond.Params, []any{"CONSUMED", "operator"}) {
		t.Fatalf("Params = %v", cond.Params)
	}
	if cond.Match(event.Event{Type: event.TypeConsumed, ActorRole: "planner"}) {
		t.Fatal("AND should require both sides")
	}

	cond, err = ParseEventFilter(`aggregate_id = "P1" OR aggregate_id = "P2"`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if cond.Clause != "(aggregate_id = ? OR aggregate_id = ?)" {
		t.Fatalf("Clause = %q", cond.Clause)
	}
	if !cond.Match(event.Event{AggregateID: "P2"}) {
		t.Fatal("OR should match either side")
	}
}

func TestParseEventFilter_Timestamp(t *testing.T) {
	cond, err := ParseEventFilter(`ts >= timestamp("2026-03-01T00:00:00Z")`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if cond.Clause != "timestamp >= ?" {
		t.Fatalf("Clause = %q", cond.Clause)
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if !reflect.DeepEqual(cond.Params, []any{want}) {
		t.Fatalf("Params = %v, want [%d]", cond.Params, want)
	}
	if !cond.Match(event.Event{Timestamp: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}) {
		t.Fatal("later event should match")
	}
	if cond.Match(event.Event{Timestamp: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)}) {
		t.Fatal("earlier event should not match")
	}
}

func TestParseEventFilter_InvalidInput(t *testing.T) {
	for _, raw := range []string{
		`unknown = "x"`,
		`type = `,
		`ts > timestamp("yesterday")`,
	} {
		if _, err := ParseEventFilter(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
