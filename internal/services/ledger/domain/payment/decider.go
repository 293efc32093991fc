package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// Decide returns the decision for a payment command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	if state.AggregateID == "" {
		state.AggregateID = cmd.AggregateID
	}
	rule, ok := rules[cmd.Type]
	if !ok {
		return command.Reject(stage.Validation(state.Core, "command", "is not a payment command"))
	}
	if rejection := stage.Gate(state.Core, cmd, lifecycle.Payment, rule); rejection != nil {
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
		payload.Payer = strings.TrimSpace(payload.Payer)
		if payload.Payer == "" {
			return command.Reject(stage.Validation(state.Core, "payer", "is required"))
		}
		currency, err := quantity.ParseUnit(payload.Currency)
		if err != nil || !currency.IsCurrency() {
			return command.Reject(stage.Validation(state.Core, "currency", "must be an ISO 4217 code"))
		}
		if err := quantity.RequirePositive("amount", payload.Amount); err != nil {
			return command.Reject(stage.FromError(state.Core, cmd, currency, err))
		}
		payload.Currency = string(currency)
		evt = command.NewEvent(cmd, event.TypeCreated, payload, at)
	case CommandConsume:
		evt, rejection = stage.LinkEvent(state.Core, cmd, event.TypeConsumed, state.Unit, at)
	case CommandReturnInput:
		evt, rejection = stage.LinkEvent(state.Core, cmd, event.TypeInputReturned, state.Unit, at)
	case CommandVoid:
		if applied := state.Ledger.Consumed; !applied.IsZero() {
			r := stage.InvalidTransition(state.Core, cmd, fmt.Sprintf("%s applied to invoices", quantity.FormatWithUnit(applied, state.Unit)))
			rejection = &r
		} else {
			evt = stage.Simple(cmd, event.TypeVoided, at)
		}
	}
	if rejection != nil {
		return command.Reject(*rejection)
	}
	return stage.Conclude(state, state.Core, Apply, cmd, state.Unit, evt)
}
