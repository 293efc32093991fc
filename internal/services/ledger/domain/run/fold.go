package run

import (
	"github.com/shopspring/decimal"

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
		stage.ApplyCreated(&state.Core, evt, lifecycle.Production)
		state.Product = payload.Product
		state.Line = payload.Line
		state.Planned = payload.PlannedUnits
		state.Reference = payload.Reference
		state.Unit = quantity.Units
		state.InputUnit = quantity.Tonnes
		if payload.InputUnit != "" {
			state.InputUnit = quantity.Unit(payload.InputUnit)
		}
		return state, nil
	case event.TypeStarted, event.TypeResumed:
		return state, state.Transition(lifecycle.Production, lifecycle.StatusActive)
	case event.TypePaused:
		var payload stage.PausePayload
		if err := evt.Decode(&payload); err != nil {
			return state, err
		}
		if err := state.Transition(lifecycle.Production, lifecycle.StatusPaused); err != nil {
			return state, err
		}
		state.PausedMinutes += payload.DurationMinutes
		return state, nil
	case event.TypeCompleted:
		return state, state.Transition(lifecycle.Production, lifecycle.StatusCompleted)
	case event.TypeCancelled:
		return state, state.Transition(lifecycle.Production, lifecycle.StatusCancelled)
	}
	if _, err := stage.ApplyLedger(&state.Core, evt); err != nil {
		return state, err
	}
	return state, nil
}

// Balance returns the run balance. Available is extruded units not yet
// drawn by a kiln batch; yield is the share of output that was not scrapped.
func Balance(state State) balance.Snapshot {
	return state.Ledger.Snapshot(state.Unit).
		WithFigure("planned", state.Planned).
		WithFigure("output", state.Ledger.Produced).
		WithFigure("yield", state.Ledger.Yield()).
		WithFigure("paused_minutes", decimal.NewFromInt(int64(state.PausedMinutes)))
}
