package shipment

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
		stage.ApplyCreated(&state.Core, evt, lifecycle.Shipment)
		state.Customer = payload.Customer
		state.Destination = payload.Destination
		state.Reference = payload.Reference
		state.Unit = quantity.Units
		state.InputUnit = quantity.Units
		return state, state.Ledger.Produce(payload.PlannedUnits)
	case event.TypeStarted:
		return state, state.Transition(lifecycle.Shipment, lifecycle.StatusActive)
	case event.TypeAllocated:
		var payload stage.LinkPayload
		if err := evt.Decode(&payload); err != nil {
			return state, err
		}
		if open := state.Open(); payload.Quantity.GreaterThan(open) {
			return state, &balance.ShortfallError{Available: open, Requested: payload.Quantity}
		}
		return state, state.Ledger.Allocate(payload.LinkID, payload.Counterparty, payload.Quantity)
	case event.TypeDispatched:
		return state, state.Transition(lifecycle.Shipment, lifecycle.StatusDispatched)
	case event.TypeCancelled:
		return state, state.Transition(lifecycle.Shipment, lifecycle.StatusCancelled)
	}
	if _, err := stage.ApplyLedger(&state.Core, evt); err != nil {
		return state, err
	}
	return state, nil
}

// Balance returns the shipment balance. Available is the open capacity
// still to be allocated.
func Balance(state State) balance.Snapshot {
	snap := state.Ledger.Snapshot(state.Unit).
		WithFigure("planned", state.Planned()).
		WithFigure("shipped", state.Shipped()).
		WithFigure("fulfilment", state.Fulfilment())
	snap.Available = state.Open()
	return snap
}
