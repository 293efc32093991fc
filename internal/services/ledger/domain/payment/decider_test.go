package payment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
)

var fixedNow = func() time.Time { return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC) }

func cmd(typ command.Type, payload string) command.Command {
	return command.Command{
		TenantID:      "t1",
		AggregateType: event.AggregatePayment,
		AggregateID:   "PAY-1",
		Type:          typ,
		CorrelationID: "corr-" + string(typ),
		PayloadJSON:   []byte(payload),
	}
}

func step(t *testing.T, state State, c command.Command) (State, command.Decision) {
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

func TestApplyAndReturn(t *testing.T) {
	state, decision := step(t, NewState("PAY-1"), cmd(CommandCreate, `{"payer":"Construtora Alfa","amount":"700","currency":"BRL","method":"pix"}`))
	if decision.Rejected() {
		t.Fatalf("create: %s", decision.Error())
	}
	state, decision = step(t, state, cmd(CommandConsume, `{"link_id":"L1","counterparty":{"type":"invoice","id":"INV-7"},"quantity":"650"}`))
	if decision.Rejected() {
		t.Fatalf("consume: %s", decision.Error())
	}
	_, decision = step(t, state, cmd(CommandConsume, `{"link_id":"L2","counterparty":{"type":"invoice","id":"INV-8"},"quantity":"51"}`))
	if !decision.Rejected() || decision.Rejections[0].Code != string(apperrors.CodeInsufficientAvailable) {
		t.Fatalf("overapply = %+v", decision)
	}
	if _, decision = step(t, state, cmd(CommandVoid, `{}`)); !decision.Rejected() {
		t.Fatal("void with applied amount accepted")
	}

	state, decision = step(t, state, cmd(CommandReturnInput, `{"link_id":"L1","counterparty":{"type":"invoice","id":"INV-7"},"quantity":"650"}`))
	if decision.Rejected() {
		t.Fatalf("return: %s", decision.Error())
	}
	if got := Balance(state).Figures["unapplied"]; !got.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("unapplied = %s, want 700", got)
	}
	state, decision = step(t, state, cmd(CommandVoid, `{}`))
	if decision.Rejected() || state.Status != lifecycle.StatusVoid {
		t.Fatalf("void = %+v status %s", decision, state.Status)
	}
}

func TestCreateRequiresCurrency(t *testing.T) {
	_, decision := step(t, NewState("PAY-1"), cmd(CommandCreate, `{"payer":"x","amount":"1","currency":"units"}`))
	if !decision.Rejected() || decision.Rejections[0].Metadata["Field"] != "currency" {
		t.Fatalf("decision = %+v", decision)
	}
}
