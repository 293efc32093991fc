package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stockpile"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC) }

func decideAndApply(t *testing.T, state any, cmd command.Command) any {
	t.Helper()
	decision, err := Decider{Now: fixedNow}.Decide(state, cmd)
	if err != nil {
		t.Fatalf("decide %s: %v", cmd.Type, err)
	}
	if decision.Rejected() {
		t.Fatalf("decide %s rejected: %s", cmd.Type, decision.Error())
	}
	for _, evt := range decision.Events {
		state, err = Applier{}.Apply(state, evt)
		if err != nil {
			t.Fatalf("apply %s: %v", evt.Type, err)
		}
	}
	return state
}

func stockpileCommand(typ command.Type, corr, payload string) command.Command {
	return command.Command{
		TenantID:      "t1",
		AggregateType: event.AggregateStockpile,
		AggregateID:   "S1",
		Type:          typ,
		CorrelationID: corr,
		PayloadJSON:   []byte(payload),
	}
}

func TestDeciderAndApplierRouteByAggregateType(t *testing.T) {
	var state any
	state = decideAndApply(t, state, stockpileCommand(stockpile.CommandCreate, "c1", `{"name":"dry clay"}`))
	state = decideAndApply(t, state, stockpileCommand(stockpile.CommandReceive, "c2", `{"quantity":"12.5"}`))

	snap, err := Balance(event.AggregateStockpile, state)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !snap.Available.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("available = %s, want 12.5", snap.Available)
	}
	if _, ok := state.(stockpile.State); !ok {
		t.Fatalf("state type = %T, want stockpile.State", state)
	}
}

func TestProjectMatchesIncrementalApply(t *testing.T) {
	var (
		state  any
		events []event.Event
	)
	for i, step := range []command.Command{
		stockpileCommand(stockpile.CommandCreate, "c1", `{"name":"dry clay"}`),
		stockpileCommand(stockpile.CommandReceive, "c2", `{"quantity":"40"}`),
		stockpileCommand(stockpile.CommandReserve, "c3", `{"link_id":"L1","counterparty":{"type":"run","id":"R1"},"quantity":"15"}`),
	} {
		decision, err := Decider{Now: fixedNow}.Decide(state, step)
		if err != nil || decision.Rejected() {
			t.Fatalf("step %d: err=%v decision=%s", i, err, decision.Error())
		}
		for _, evt := range decision.Events {
			evt.Seq = uint64(len(events) + 1)
			events = append(events, evt)
			if state, err = (Applier{}).Apply(state, evt); err != nil {
				t.Fatalf("apply: %v", err)
			}
		}
	}

	projected, err := Project(events)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	a, _ := Balance(event.AggregateStockpile, state)
	b, _ := Balance(event.AggregateStockpile, projected)
	if !a.Available.Equal(b.Available) || !a.Reserved.Equal(b.Reserved) {
		t.Fatalf("projection diverged: incremental %+v, replayed %+v", a, b)
	}
}

func TestProjectRejectsMixedAggregates(t *testing.T) {
	events := []event.Event{
		{AggregateType: event.AggregateStockpile, AggregateID: "S1", Type: event.TypeCreated, PayloadJSON: []byte(`{"name":"a"}`)},
		{AggregateType: event.AggregateStockpile, AggregateID: "S2", Type: event.TypeCreated, PayloadJSON: []byte(`{"name":"b"}`)},
	}
	if _, err := Project(events); err == nil {
		t.Fatal("expected error for mixed aggregates")
	}
}

func TestApplierWrapsStrictFailures(t *testing.T) {
	created, err := Applier{}.Apply(stockpile.NewState("S1"), event.Event{
		AggregateType: event.AggregateStockpile,
		AggregateID:   "S1",
		Type:          event.TypeCreated,
		Seq:           1,
		PayloadJSON:   []byte(`{"name":"a"}`),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = Applier{}.Apply(created, event.Event{
		AggregateType: event.AggregateStockpile,
		AggregateID:   "S1",
		Type:          event.TypeScrapRecorded,
		Seq:           2,
		PayloadJSON:   []byte(`{"quantity":"5"}`),
	})
	if err == nil {
		t.Fatal("expected scrap on empty stockpile to fail")
	}
}

func TestUnknownAggregateType(t *testing.T) {
	_, err := Decider{}.Decide(nil, command.Command{AggregateType: "kiln"})
	if !errors.Is(err, ErrUnknownAggregateType) {
		t.Fatalf("err = %v, want ErrUnknownAggregateType", err)
	}
	if _, err := Lookup("kiln"); !errors.Is(err, ErrUnknownAggregateType) {
		t.Fatalf("lookup err = %v", err)
	}
}

func TestKindsCoverEveryAggregateType(t *testing.T) {
	if len(Kinds()) != len(event.AggregateTypes) {
		t.Fatalf("kinds = %d, aggregate types = %d", len(Kinds()), len(event.AggregateTypes))
	}
	for _, typ := range event.AggregateTypes {
		kind, err := Lookup(typ)
		if err != nil {
			t.Fatalf("lookup %s: %v", typ, err)
		}
		core, err := kind.Core(kind.New("X"))
		if err != nil {
			t.Fatalf("core %s: %v", typ, err)
		}
		if core.AggregateType != typ || core.AggregateID != "X" {
			t.Fatalf("core = %+v for %s", core, typ)
		}
		if kind.Vocabulary.AggregateType != typ {
			t.Fatalf("vocabulary type = %s, want %s", kind.Vocabulary.AggregateType, typ)
		}
	}
}

func TestRegistriesRegisterEveryStage(t *testing.T) {
	commands, events, err := Registries()
	if err != nil {
		t.Fatalf("registries: %v", err)
	}
	for _, typ := range event.AggregateTypes {
		if len(commands.Types(typ)) == 0 {
			t.Fatalf("no commands for %s", typ)
		}
		if !events.IsCreate(typ, event.TypeCreated) {
			t.Fatalf("%s CREATED not registered as create", typ)
		}
	}
}

func TestApplyRejectsInapplicableEvents(t *testing.T) {
	kind, err := Lookup(event.AggregateStockpile)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	created := event.Event{AggregateType: event.AggregateStockpile, AggregateID: "S1", Type: event.TypeCreated, Seq: 1, PayloadJSON: []byte(`{"name":"clay"}`)}
	state, err := kind.Apply(nil, created)
	if err != nil {
		t.Fatalf("apply created: %v", err)
	}
	scrap := event.Event{AggregateType: event.AggregateStockpile, AggregateID: "S1", Type: event.TypeScrapRecorded, Seq: 2, PayloadJSON: []byte(`{"quantity":"5"}`)}
	if _, err := kind.Apply(state, scrap); err == nil {
		t.Fatal("expected scrap beyond available to fail")
	}
	if _, err := Project([]event.Event{created, scrap}); err == nil {
		t.Fatal("expected projection to surface the failing event")
	}
	snap, err := kind.Balance(state)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !snap.Scrapped.IsZero() {
		t.Fatalf("scrapped = %s, want 0", snap.Scrapped)
	}
}

func TestAssertState(t *testing.T) {
	s := stockpile.NewState("S1")
	if _, err := AssertState[stockpile.State](&s); err != nil {
		t.Fatalf("pointer: %v", err)
	}
	if _, err := AssertState[stockpile.State](nil); err == nil {
		t.Fatal("expected error for nil state")
	}
	var nilPtr *stockpile.State
	if _, err := AssertState[stockpile.State](nilPtr); err == nil {
		t.Fatal("expected error for nil pointer")
	}
}
