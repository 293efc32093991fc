package pallet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

var inputUnits = []quantity.Unit{quantity.Units}

// Decide returns the decision for a pallet command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	if state.AggregateID == "" {
		state.AggregateID = cmd.AggregateID
	}
	rule, ok := rules[cmd.Type]
	if !ok {
		return command.Reject(stage.Validation(state.Core, "command", "is not a pallet command"))
	}
	if rejection := stage.Gate(state.Core, cmd, lifecycle.Pallet, rule); rejection != nil {
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
		evt = command.NewEvent(cmd, event.TypeCreated, payload, at)
	case CommandAddInput:
		evt, rejection = stage.InputEvent(state.Core, cmd, event.TypeInputAdded, inputUnits, at)
	case CommandRemoveInput:
		evt, rejection = stage.InputEvent(state.Core, cmd, event.TypeInputRemoved, inputUnits, at)
	case CommandReserve:
		evt, rejection = stage.LinkEvent(state.Core, cmd, event.TypeReserved, state.Unit, at)
	case CommandRelease:
		evt, rejection = stage.HoldEvent(state.Core, cmd, event.TypeReleased, at)
	case CommandConsumeReservation:
		evt, rejection = stage.HoldEvent(state.Core, cmd, event.TypeReservationConsumed, at)
	case CommandRecordScrap:
		evt, rejection = stage.QuantityEvent(state.Core, cmd, event.TypeScrapRecorded, false, at)
	case CommandClose:
		evt = stage.Simple(cmd, event.TypeClosed, at)
	case CommandDispatch:
		if rejection = requireEmpty(state, cmd); rejection == nil {
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

// requireEmpty allows dispatch only once every packed unit has left
// through a consumed reservation or been scrapped.
func requireEmpty(state State, cmd command.Command) *command.Rejection {
	if rejection := stage.RequireNoOpenLinks(state.Core, cmd); rejection != nil {
		return rejection
	}
	if available := state.Ledger.Available(); !available.IsZero() {
		r := stage.InvalidTransition(state.Core, cmd, fmt.Sprintf("%s still on the pallet", quantity.FormatWithUnit(available, state.Unit)))
		return &r
	}
	return nil
}
