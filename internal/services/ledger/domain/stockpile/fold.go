package stockpile

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
		stage.ApplyCreated(&state.Core, evt, lifecycle.Stockpile)
		state.Name = payload.Name
		state.Material = payload.Material
		state.Reference = payload.Reference
		state.Unit = quantity.Tonnes
		if payload.Unit != "" {
			state.Unit = quantity.Unit(payload.Unit)
		}
		return state, nil
	case event.TypeClosed:
		return state, state.Transition(lifecycle.Stockpile, lifecycle.StatusClosed)
	case event.TypeCancelled:
		return state, state.Transition(lifecycle.Stockpile, lifecycle.StatusCancelled)
	}
	if _, err := stage.ApplyLedger(&state.Core, evt); err != nil {
		return state, err
	}
	return state, nil
}

// Balance returns the stockpile balance: received tonnes less reserved,
// consumed and scrapped.
func Balance(state State) balance.Snapshot {
	return state.Ledger.Snapshot(state.Unit).WithFigure("received", state.Ledger.Produced)
}
