package invoice

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
		stage.ApplyCreated(&state.Core, evt, lifecycle.Invoice)
		state.Customer = payload.Customer
		state.DueDate = payload.DueDate
		state.Reference = payload.Reference
		state.Unit = quantity.Currency(payload.Currency)
		state.InputUnit = state.Unit
		return state, state.Ledger.Produce(payload.Amount)
	case event.TypeInputAdded:
		var payload stage.LinkPayload
		if err := evt.Decode(&payload); err != nil {
			return state, err
		}
		if err := state.Ledger.Consume(payload.LinkID, payload.Counterparty, payload.Quantity); err != nil {
			return state, err
		}
		return state, state.Ledger.AddInput(payload.LinkID, payload.Counterparty, payload.Quantity, state.Unit)
	case event.TypeInputRemoved:
		var payload stage.LinkPayload
		if err := evt.Decode(&payload); err != nil {
			return state, err
		}
		if _, err := state.Ledger.RemoveInput(payload.LinkID, payload.Quantity); err != nil {
			return state, err
		}
		_, err := state.Ledger.Return(payload.LinkID, payload.Quantity)
		return state, err
	case event.TypeCredited:
		var payload stage.QuantityPayload
		if err := evt.Decode(&payload); err != nil {
			return state, err
		}
		return state, state.Ledger.Scrap(payload.Quantity)
	case event.TypeSettled:
		return state, state.Transition(lifecycle.Invoice, lifecycle.StatusSettled)
	case event.TypeVoided:
		return state, state.Transition(lifecycle.Invoice, lifecycle.StatusVoid)
	}
	return state, nil
}

// Balance returns the invoice balance in its currency. Available is the
// amount due.
func Balance(state State) balance.Snapshot {
	return state.Ledger.Snapshot(state.Unit).
		WithFigure("amount", state.Ledger.Produced).
		WithFigure("paid", state.Ledger.InputTotal()).
		WithFigure("credited", state.Ledger.Scrapped).
		WithFigure("due", state.Due())
}
