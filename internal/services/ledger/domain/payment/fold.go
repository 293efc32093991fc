package payment

import (
	"github.com/kilnline/ledger/internal/services/ledger/domain/balance"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// Apply applies an event, failing when it would break a balance or
// lifecycle rule. The input state is never modified.
func Apply(state State, evt event.Event) (State, error) {
	state.Core = state.Core.Clone()
	switch evt.Type {
	case event.TypeCreated:
		var payload CreatePayload
		if err := evt.Decode(&payload); err != nil {
			return state, err
		}
		stage.ApplyCreated(&state.Core, evt, lifecycle.Payment)
		state.Payer = payload.Payer
		state.Method = payload.Method
		state.Reference = payload.Reference
		state.Unit = quantity.Currency(payload.Currency)
		return state, state.Ledger.Produce(payload.Amount)
	case event.TypeVoided:
		return state, state.Transition(lifecycle.Payment, lifecycle.StatusVoid)
	}
	if _, err := stage.ApplyLedger(&state.Core, evt); err != nil {
		return state, err
	}
	return state, nil
}

// Balance returns the payment balance. Available is the unapplied amount.
func Balance(state State) balance.Snapshot {
	return state.Ledger.Snapshot(state.Unit).
		WithFigure("amount", state.Ledger.Produced).
		WithFigure("applied", state.Ledger.Consumed).
		WithFigure("unapplied", state.Ledger.Available())
}
