package invoice

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

// Decide returns the decision for an invoice command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	if state.AggregateID == "" {
		state.AggregateID = cmd.AggregateID
	}
	rule, ok := rules[cmd.Type]
	if !ok {
		return command.Reject(stage.Validation(state.Core, "command", "is not an invoice command"))
	}
	if rejection := stage.Gate(state.Core, cmd, lifecycle.Invoice, rule); rejection != nil {
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
		payload.Customer = strings.TrimSpace(payload.Customer)
		if payload.Customer == "" {
			return command.Reject(stage.Validation(state.Core, "customer", "is required"))
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
	case CommandApplyPayment:
		evt, rejection = stage.InputEvent(state.Core, cmd, event.TypeInputAdded, []quantity.Unit{state.Unit}, at)
	case CommandUnapplyPayment:
		evt, rejection = stage.InputEvent(state.Core, cmd, event.TypeInputRemoved, []quantity.Unit{state.Unit}, at)
	case CommandCredit:
		evt, rejection = stage.QuantityEvent(state.Core, cmd, event.TypeCredited, false, at)
	case CommandSettle:
		if due := state.Due(); !due.IsZero() {
			r := stage.InvalidTransition(state.Core, cmd, fmt.Sprintf("%s still due", quantity.FormatWithUnit(due, state.Unit)))
			rejection = &r
		} else {
			evt = stage.Simple(cmd, event.TypeSettled, at)
		}
	case CommandVoid:
		if applied := len(state.Ledger.Inputs); applied > 0 {
			r := stage.InvalidTransition(state.Core, cmd, fmt.Sprintf("%d payments applied", applied))
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
