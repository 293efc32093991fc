package shipment

import (
	"encoding/json"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

var inputUnits = []quantity.Unit{quantity.Units}

// Decide returns the decision for a shipment command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	if state.AggregateID == "" {
		state.AggregateID = cmd.AggregateID
	}
	rule, ok := rules[cmd.Type]
	if !ok {
		return command.Reject(stage.Validation(state.Core, "command", "is not a shipment command"))
	}
	if rejection := stage.Gate(state.Core, cmd, lifecycle.Shipment, rule); rejection != nil {
		return command.Reject(*rejection)
	}
	at := now().UTC()

	var (
		evt       event.Event
		rejection *command.Rejection
	)
	switch cmd.Type {
	case CommandCreate:
		var payload CreatePayload
		if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
			return command.Reject(stage.Validation(state.Core, "payload", err.Error()))
		}
		if err := quantity.RequirePositive("planned_units", payload.PlannedUnits); err != nil {
			return command.Reject(stage.FromError(state.Core, cmd, quantity.Units, err))
		}
		evt = command.NewEvent(cmd, event.TypeCreated, payload, at)
	case CommandStart:
		evt = stage.Simple(cmd, event.TypeStarted, at)
	case CommandAllocate:
		evt, rejection = stage.InputEvent(state.Core, cmd, event.TypeAllocated, inputUnits, at)
	case CommandReleaseAllocation:
		evt, rejection = stage.AllocationEvent(state.Core, cmd, event.TypeAllocationReleased, at)
	case CommandConsumeAllocation:
		evt, rejection = stage.AllocationEvent(state.Core, cmd, event.TypeAllocationConsumed, at)
	case CommandDispatch:
		if rejection = stage.RequireNoOpenLinks(state.Core, cmd); rejection == nil && !state.Shipped().IsPositive() {
			r := stage.InvalidTransition(state.Core, cmd, "nothing has been loaded")
			rejection = &r
		}
		if rejection == nil {
			evt = stage.Simple(cmd, event.TypeDispatched, at)
		}
	case CommandCancel:
		return stage.Conclude(state, state.Core, Apply, cmd, state.Unit, stage.CancelEvents(state.Core, cmd, at)...)
	}
	if rejection != nil {
		return command.Reject(*rejection)
	}
	return stage.Conclude(state, state.Core, Apply, cmd, state.Unit, evt)
}
