package stockpile

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// Decide returns the decision for a stockpile command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	if state.AggregateID == "" {
		state.AggregateID = cmd.AggregateID
	}
	rule, ok := rules[cmd.Type]
	if !ok {
		return command.Reject(stage.Validation(state.Core, "command", "is not a stockpile command"))
	}
	if rejection := stage.Gate(state.Core, cmd, lifecycle.Stockpile, rule); rejection != nil {
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
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		payload.Name = strings.TrimSpace(payload.Name)
		if payload.Name == "" {
			return command.Reject(stage.Validation(state.Core, "name", "is required"))
		}
		unit := quantity.Tonnes
		if payload.Unit != "" {
			parsed, err := quantity.ParseUnit(payload.Unit)
			if err != nil || parsed.IsCurrency() {
				return command.Reject(stage.Validation(state.Core, "unit", "must be a mass unit"))
			}
			unit = parsed
		}
		payload.Unit = string(unit)
		evt = command.NewEvent(cmd, event.TypeCreated, payload, at)
	case CommandReceive:
		evt, rejection = stage.QuantityEvent(state.Core, cmd, event.TypeReceived, false, at)
	case CommandReserve:
		evt, rejection = stage.LinkEvent(state.Core, cmd, event.TypeReserved, state.Unit, at)
	case CommandRelease:
		evt, rejection = stage.HoldEvent(state.Core, cmd, event.TypeReleased, at)
	case CommandConsumeReservation:
		evt, rejection = stage.HoldEvent(state.Core, cmd, event.TypeReservationConsumed, at)
	case CommandConsume:
		evt, rejection = stage.LinkEvent(state.Core, cmd, event.TypeConsumed, state.Unit, at)
	case CommandReturnInput:
		evt, rejection = stage.LinkEvent(state.Core, cmd, event.TypeInputReturned, state.Unit, at)
	case CommandRecordScrap:
		evt, rejection = stage.QuantityEvent(state.Core, cmd, event.TypeScrapRecorded, false, at)
	case CommandClose:
		evt = stage.Simple(cmd, event.TypeClosed, at)
	case CommandCancel:
		return stage.Conclude(state, state.Core, Apply, cmd, state.Unit, stage.CancelEvents(state.Core, cmd, at)...)
	}
	if rejection != nil {
		return command.Reject(*rejection)
	}
	return stage.Conclude(state, state.Core, Apply, cmd, state.Unit, evt)
}
