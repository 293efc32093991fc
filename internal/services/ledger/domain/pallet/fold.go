package pallet

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
		stage.ApplyCreated(&state.Core, evt, lifecycle.Pallet)
		state.Product = payload.Product
		state.Location = payload.Location
		state.Reference = payload.Reference
		state.Unit = quantity.Units
		state.InputUnit = quantity.Units
		return state, nil
	case event.TypeInputAdded:
		var payload stage.LinkPayload
		if err := evt.Decode(&payload); err != nil {
			return state, err
		}
		if err := state.Ledger.AddInput(payload.LinkID, payload.Counterparty, payload.Quantity, quantity.Units); err != nil {
			return state, err
		}
		return state, state.Ledger.Produce(payload.Quantity)
	case event.TypeInputRemoved:
		var payload stage.LinkPayload
		if err := evt.Decode(&payload); err != nil {
			return state, err
		}
		if err := state.Ledger.Withdraw(payload.Quantity); err != nil {
			return state, err
		}
		_, err := state.Ledger.RemoveInput(payload.LinkID, payload.Quantity)
		return state, err
	case event.TypeClosed:
		return state, state.Transition(lifecycle.Pallet, lifecycle.StatusClosed)
	case event.TypeDispatched:
		return state, state.Transition(lifecycle.Pallet, lifecycle.StatusDispatched)
	case event.TypeCancelled:
		return state, state.Transition(lifecycle.Pallet, lifecycle.StatusCancelled)
	}
	if _, err := stage.ApplyLedger(&state.Core, evt); err != nil {
		return state, err
	}
	return state, nil
}

// Balance returns the pallet balance: packed units less reservations,
// units shipped through consumed reservations and scrap.
func Balance(state State) balance.Snapshot {
	return state.Ledger.Snapshot(state.Unit).WithFigure("packed", state.Ledger.InputTotal())
}
