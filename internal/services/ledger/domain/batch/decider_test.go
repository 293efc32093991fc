package batch

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 4, 22, 30, 0, 0, time.UTC) }

func cmd(typ command.Type, payload string) command.Command {
	return command.Command{
		TenantID:      "t1",
		AggregateType: event.AggregateBatch,
		AggregateID:   "K1",
		Type:          typ,
		CorrelationID: "corr-" + string(typ),
		PayloadJSON:   []byte(payload),
	}
}

func decide(t *testing.T, state State, c command.Command) (State, command.Decision) {
	t.Helper()
	decision := Decide(state, c, fixedNow)
	for _, evt := range decision.Events {
		next, err := Apply(state, evt)
		if err != nil {
			t.Fatalf("apply %s: %v", evt.Type, err)
		}
		state = next
	}
	return state, decision
}

func firing(t *testing.T) State {
	t.Helper()
	state, decision := decide(t, NewState("K1"), cmd(CommandCreate, `{"product":"hollow brick","kiln":"tunnel-2","planned_units":"4000"}`))
	if decision.Rejected() {
		t.Fatalf("create: %s", decision.Error())
	}
	state, decision = decide(t, state, cmd(CommandStart, `{}`))
	if decision.Rejected() {
		t.Fatalf("start: %s", decision.Error())
	}
	return state
}

func TestCreateRequiresKiln(t *testing.T) {
	_, decision := decide(t, NewState("K1"), cmd(CommandCreate, `{"product":"hollow brick"}`))
	if !decision.Rejected() || decision.Rejections[0].Metadata["Field"] != "kiln" {
		t.Fatalf("decision = %+v", decision)
	}
	state, decision := decide(t, NewState("K1"), cmd(CommandCreate, `{"product":"hollow brick","kiln":" tunnel-2 "}`))
	if decision.Rejected() {
		t.Fatalf("create: %s", decision.Error())
	}
	if state.Kiln != "tunnel-2" || state.InputUnit != "units" || state.Status != lifecycle.StatusPlanned {
		t.Fatalf("state = %+v", state)
	}
}

func TestLoadsFromRunsAndStockpiles(t *testing.T) {
	state := firing(t)
	steps := []struct {
		command command.Type
		payload string
	}{
		{CommandAddInput, `{"link_id":"L1","counterparty":{"type":"run","id":"R1"},"quantity":"3000","unit":"units"}`},
		{CommandAddInput, `{"link_id":"L2","counterparty":{"type":"stockpile","id":"S1"},"quantity":"2.5","unit":"t"}`},
		{CommandRecordOutput, `{"quantity":"2900"}`},
		{CommandRecordScrap, `{"quantity":"29"}`},
	}
	for _, step := range steps {
		var decision command.Decision
		state, decision = decide(t, state, cmd(step.command, step.payload))
		if decision.Rejected() {
			t.Fatalf("%s: %s", step.command, decision.Error())
		}
	}
	snap := Balance(state)
	if !snap.Figures["fired"].Equal(decimal.NewFromInt(2900)) {
		t.Fatalf("fired = %s", snap.Figures["fired"])
	}
	if !snap.Figures["yield"].Equal(decimal.NewFromInt(99)) {
		t.Fatalf("yield = %s, want 99", snap.Figures["yield"])
	}
	if !snap.Available.Equal(decimal.NewFromInt(2871)) {
		t.Fatalf("available = %s, want 2871", snap.Available)
	}
	if len(snap.InputsBySource) != 2 || snap.InputsBySource[0].Unit != "units" || snap.InputsBySource[1].Unit != "t" {
		t.Fatalf("inputs by source = %+v", snap.InputsBySource)
	}
}

func TestPackingDrawsFiredUnits(t *testing.T) {
	state := firing(t)
	state, _ = decide(t, state, cmd(CommandRecordOutput, `{"quantity":"100"}`))

	_, decision := decide(t, state, cmd(CommandConsume, `{"link_id":"L9","counterparty":{"type":"pallet","id":"P1"},"quantity":"101"}`))
	if !decision.Rejected() || decision.Rejections[0].Code != string(apperrors.CodeInsufficientAvailable) {
		t.Fatalf("decision = %+v", decision)
	}
	if decision.Rejections[0].Metadata["Available"] != "100" || decision.Rejections[0].Metadata["Requested"] != "101" {
		t.Fatalf("metadata = %v", decision.Rejections[0].Metadata)
	}

	state, decision = decide(t, state, cmd(CommandConsume, `{"link_id":"L9","counterparty":{"type":"pallet","id":"P1"},"quantity":"100"}`))
	if decision.Rejected() {
		t.Fatalf("consume: %s", decision.Error())
	}
	if !Balance(state).Available.IsZero() {
		t.Fatalf("available = %s, want 0", Balance(state).Available)
	}
}

func TestCompletedBatchIsImmutable(t *testing.T) {
	state := firing(t)
	state, decision := decide(t, state, cmd(CommandComplete, `{}`))
	if decision.Rejected() {
		t.Fatalf("complete: %s", decision.Error())
	}
	for _, c := range []command.Command{
		cmd(CommandRecordOutput, `{"quantity":"1"}`),
		cmd(CommandStart, `{}`),
		cmd(CommandCancel, `{}`),
	} {
		_, decision := decide(t, state, c)
		if !decision.Rejected() || decision.Rejections[0].Code != string(apperrors.CodeInvalidTransition) {
			t.Fatalf("%s: decision = %+v", c.Type, decision)
		}
	}
}
