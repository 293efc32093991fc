package stage

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/balance"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
)

// CancelPrefix prefixes the correlation id of links released by a cancel.
const CancelPrefix = "cancel"

// Rule gates one command type: the statuses it may run in. A create rule
// has no statuses and requires the aggregate not to exist yet.
type Rule struct {
	Create  bool
	Allowed []lifecycle.Status
}

// Gate checks existence, terminal status and the rule's allowed statuses.
func Gate(core Core, cmd command.Command, machine lifecycle.Machine, rule Rule) *command.Rejection {
	if rule.Create {
		if core.Created {
			r := InvalidTransition(core, cmd, "already exists")
			return &r
		}
		return nil
	}
	if !core.Created {
		r := NotCreated(core)
		return &r
	}
	if machine.IsTerminal(core.Status) {
		r := InvalidTransition(core, cmd, "lifecycle has ended")
		return &r
	}
	for _, status := range rule.Allowed {
		if status == core.Status {
			return nil
		}
	}
	r := InvalidTransition(core, cmd, "")
	return &r
}

// Apply folds one event into state, failing if the event would break a
// balance or lifecycle rule.
type Apply[S any] func(S, event.Event) (S, error)

// Conclude folds events strictly into state and accepts them, or rejects
// with the first error mapped to a coded rejection.
func Conclude[S any](state S, core Core, apply Apply[S], cmd command.Command, unit quantity.Unit, events ...event.Event) command.Decision {
	next := state
	for _, evt := range events {
		var err error
		next, err = apply(next, evt)
		if err != nil {
			return command.Reject(FromError(core, cmd, unit, err))
		}
	}
	return command.Accept(events...)
}

// DecodeLink reads a link payload from a command.
func DecodeLink(cmd command.Command) (LinkPayload, error) {
	var payload LinkPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return LinkPayload{}, fmt.Errorf("decode link payload: %w", err)
	}
	payload.Counterparty = payload.Counterparty.Normalize()
	return payload, nil
}

// DecodeQuantity reads a quantity payload from a command.
func DecodeQuantity(cmd command.Command) (QuantityPayload, error) {
	var payload QuantityPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return QuantityPayload{}, fmt.Errorf("decode quantity payload: %w", err)
	}
	return payload, nil
}

// HoldEvent builds a release or consumption event for a recorded hold,
// taking quantity and counterparty from the hold itself.
func HoldEvent(core Core, cmd command.Command, typ event.Type, now time.Time) (event.Event, *command.Rejection) {
	payload, err := DecodeLink(cmd)
	if err != nil {
		r := Validation(core, "payload", err.Error())
		return event.Event{}, &r
	}
	hold, ok := core.Ledger.Holds[payload.LinkID]
	if !ok {
		r := FromError(core, cmd, core.Unit, fmt.Errorf("reservation %s is not held on %s %s: %w", payload.LinkID, core.AggregateType, core.AggregateID, balance.ErrLinkUnknown))
		return event.Event{}, &r
	}
	payload.Counterparty = hold.Party
	payload.Quantity = hold.Quantity
	payload.Unit = string(core.Unit)
	return command.NewEvent(cmd, typ, payload, now), nil
}

// AllocationEvent builds a release or consumption event for a recorded
// upstream allocation.
func AllocationEvent(core Core, cmd command.Command, typ event.Type, now time.Time) (event.Event, *command.Rejection) {
	payload, err := DecodeLink(cmd)
	if err != nil {
		r := Validation(core, "payload", err.Error())
		return event.Event{}, &r
	}
	hold, ok := core.Ledger.Allocations[payload.LinkID]
	if !ok {
		r := FromError(core, cmd, core.InputUnit, fmt.Errorf("allocation %s is not held by %s %s: %w", payload.LinkID, core.AggregateType, core.AggregateID, balance.ErrLinkUnknown))
		return event.Event{}, &r
	}
	payload.Counterparty = hold.Party
	payload.Quantity = hold.Quantity
	if payload.Unit == "" {
		payload.Unit = string(core.InputUnit)
	}
	return command.NewEvent(cmd, typ, payload, now), nil
}

// LinkEvent builds a link event from the command payload.
func LinkEvent(core Core, cmd command.Command, typ event.Type, unit quantity.Unit, now time.Time) (event.Event, *command.Rejection) {
	payload, err := DecodeLink(cmd)
	if err != nil {
		r := Validation(core, "payload", err.Error())
		return event.Event{}, &r
	}
	if payload.Unit != "" && unit != "" && quantity.Unit(payload.Unit) != unit {
		r := Validation(core, "unit", fmt.Sprintf("is %s, expected %s", payload.Unit, unit))
		return event.Event{}, &r
	}
	payload.Unit = string(unit)
	return command.NewEvent(cmd, typ, payload, now), nil
}

// CancelEvents releases every open hold and allocation of core, then
// cancels it, as one batch. Each release is keyed by its link so the
// counterpart cascade can be retried idempotently.
func CancelEvents(core Core, cmd command.Command, now time.Time) []event.Event {
	var reason ReasonPayload
	_ = json.Unmarshal(cmd.PayloadJSON, &reason)
	releaseReason := "cancelled"
	if reason.Reason != "" {
		releaseReason = "cancelled: " + reason.Reason
	}

	var events []event.Event
	for _, hold := range core.Ledger.HeldLinks() {
		events = append(events, command.NewCascadeEvent(cmd, event.TypeReleased,
			command.CascadeCorrelation(CancelPrefix, hold.LinkID),
			LinkPayload{LinkID: hold.LinkID, Counterparty: hold.Party, Quantity: hold.Quantity, Unit: string(core.Unit), Reason: releaseReason},
			now))
	}
	for _, hold := range core.Ledger.AllocatedLinks() {
		events = append(events, command.NewCascadeEvent(cmd, event.TypeAllocationReleased,
			command.CascadeCorrelation(CancelPrefix, hold.LinkID),
			LinkPayload{LinkID: hold.LinkID, Counterparty: hold.Party, Quantity: hold.Quantity, Unit: string(core.InputUnit), Reason: releaseReason},
			now))
	}
	return append(events, command.NewEvent(cmd, event.TypeCancelled, reason, now))
}

// RequireNoOpenLinks rejects completion-like commands while holds or
// allocations are outstanding.
func RequireNoOpenLinks(core Core, cmd command.Command) *command.Rejection {
	held, allocated := len(core.Ledger.Holds), len(core.Ledger.Allocations)
	if held == 0 && allocated == 0 {
		return nil
	}
	r := InvalidTransition(core, cmd, fmt.Sprintf("%d held reservations and %d open allocations outstanding", held, allocated))
	return &r
}

// Pause builds a PAUSED event after checking duration and reason.
func Pause(core Core, cmd command.Command, now time.Time) (event.Event, *command.Rejection) {
	var payload PausePayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		r := Validation(core, "payload", err.Error())
		return event.Event{}, &r
	}
	if payload.DurationMinutes <= 0 {
		r := Validation(core, "duration_minutes", "must be greater than zero")
		return event.Event{}, &r
	}
	if payload.Reason == "" {
		r := Validation(core, "reason", "is required")
		return event.Event{}, &r
	}
	return command.NewEvent(cmd, event.TypePaused, payload, now), nil
}

// QuantityEvent builds a single-quantity event, checking the sign rule.
func QuantityEvent(core Core, cmd command.Command, typ event.Type, allowZero bool, now time.Time) (event.Event, *command.Rejection) {
	payload, err := DecodeQuantity(cmd)
	if err != nil {
		r := Validation(core, "payload", err.Error())
		return event.Event{}, &r
	}
	check := quantity.RequirePositive
	if allowZero {
		check = quantity.RequireNonNegative
	}
	if err := check("quantity", payload.Quantity); err != nil {
		r := FromError(core, cmd, core.Unit, err)
		return event.Event{}, &r
	}
	return command.NewEvent(cmd, typ, payload, now), nil
}

// Simple builds an event carrying the command's reason payload.
func Simple(cmd command.Command, typ event.Type, now time.Time) event.Event {
	var reason ReasonPayload
	_ = json.Unmarshal(cmd.PayloadJSON, &reason)
	return command.NewEvent(cmd, typ, reason, now)
}

// InputEvent builds a demand-side link event. The unit defaults to the
// core's input unit and must be one of accepted when any are given.
func InputEvent(core Core, cmd command.Command, typ event.Type, accepted []quantity.Unit, now time.Time) (event.Event, *command.Rejection) {
	payload, err := DecodeLink(cmd)
	if err != nil {
		r := Validation(core, "payload", err.Error())
		return event.Event{}, &r
	}
	unit := core.InputUnit
	if payload.Unit != "" {
		unit = quantity.Unit(payload.Unit)
	}
	if len(accepted) > 0 && !slices.Contains(accepted, unit) {
		r := Validation(core, "unit", fmt.Sprintf("%s is not accepted as input", unit))
		return event.Event{}, &r
	}
	payload.Unit = string(unit)
	return command.NewEvent(cmd, typ, payload, now), nil
}
