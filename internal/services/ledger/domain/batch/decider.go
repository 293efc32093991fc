package batch

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// Decide returns the decision for a batch command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	if state.AggregateID == "" {
		state.AggregateID = cmd.AggregateID
	}
	rule, ok := rules[cmd.Type]
	if !ok {
		return command.Reject(stage.Validation(state.Core, "command", "is not a batch command"))
	}
	if rejection := stage.Gate(state.Core, cmd, lifecycle.Production, rule); rejection != nil {
		return command.Reject(*rejection)
	}
	at := now().UTC()

	var (
		evt       event.Event
		rejection *command.Rejection
	)
	switch cmd.Type {
	case CommandCreate:
		return decideCreate(state, cmd, at)
	case CommandStart:
		evt = stage.Simple(cmd, event.TypeStarted, at)
	case CommandPause:
		evt, rejection = stage.Pause(state.Core, cmd, at)
	case CommandResume:
		evt = stage.Simple(cmd, event.TypeResumed, at)
	case CommandAllocate:
		evt, rejection = stage.InputEvent(state.Core, cmd, event.TypeAllocated, InputUnits, at)
	case CommandReleaseAllocation:
		evt, rejection = stage.AllocationEvent(state.Core, cmd, event.TypeAllocationReleased, at)
	case CommandConsumeAllocation:
		evt, rejection = stage.AllocationEvent(state.Core, cmd, event.TypeAllocationConsumed, at)
	case CommandAddInput:
		evt, rejection = stage.InputEvent(state.Core, cmd, event.TypeInputAdded, InputUnits, at)
	case CommandRemoveInput:
		evt, rejection = stage.InputEvent(state.Core, cmd, event.TypeInputRemoved, InputUnits, at)
	case CommandRecordOutput:
		evt, rejection = stage.QuantityEvent(state.Core, cmd, event.TypeOutputRecorded, true, at)
	case CommandRecordScrap:
		evt, rejection = stage.QuantityEvent(state.Core, cmd, event.TypeScrapRecorded, false, at)
	case CommandConsume:
		evt, rejection = stage.LinkEvent(state.Core, cmd, event.TypeConsumed, state.Unit, at)
	case CommandReturnInput:
		evt, rejection = stage.LinkEvent(state.Core, cmd, event.TypeInputReturned, state.Unit, at)
	case CommandComplete:
		if rejection = stage.RequireNoOpenLinks(state.Core, cmd); rejection == nil {
			evt = stage.Simple(cmd, event.TypeCompleted, at)
		}
	case CommandCancel:
		return stage.Conclude(state, state.Core, Apply, cmd, state.InputUnit, stage.CancelEvents(state.Core, cmd, at)...)
	}
	if rejection != nil {
		return command.Reject(*rejection)
	}
	unit := state.Unit
	if cmd.Type == CommandAllocate || cmd.Type == CommandAddInput || cmd.Type == CommandRemoveInput || cmd.Type == CommandConsumeAllocation {
		unit = state.InputUnit
	}
	return stage.Conclude(state, state.Core, Apply, cmd, unit, evt)
}

func decideCreate(state State, cmd command.Command, at time.Time) command.Decision {
	var payload CreatePayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(stage.Validation(state.Core, "payload", err.Error()))
	}
	payload.Product = strings.TrimSpace(payload.Product)
	if payload.Product == "" {
		return command.Reject(stage.Validation(state.Core, "product", "is required"))
	}
	payload.Kiln = strings.TrimSpace(payload.Kiln)
	if payload.Kiln == "" {
		return command.Reject(stage.Validation(state.Core, "kiln", "is required"))
	}
	if err := quantity.RequireNonNegative("planned_units", payload.PlannedUnits); err != nil {
		return command.Reject(stage.FromError(state.Core, cmd, quantity.Units, err))
	}
	unit := quantity.Units
	if payload.InputUnit != "" {
		parsed, err := quantity.ParseUnit(payload.InputUnit)
		if err != nil || !slices.Contains(InputUnits, parsed) {
			return command.Reject(stage.Validation(state.Core, "input_unit", "must be units or t"))
		}
		unit = parsed
	}
	payload.InputUnit = string(unit)
	return command.Accept(command.NewEvent(cmd, event.TypeCreated, payload, at))
}
