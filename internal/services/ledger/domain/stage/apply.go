package stage

import (
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
)

// ApplyLedger applies the quantity events every stage shares to core.Ledger.
// It reports false for events it does not handle so the stage fold can
// deal with them. The ledger is left unchanged on error.
func ApplyLedger(core *Core, evt event.Event) (bool, error) {
	switch evt.Type {
	case event.TypeReceived, event.TypeOutputRecorded:
		var payload QuantityPayload
		if err := evt.Decode(&payload); err != nil {
			return true, err
		}
		return true, core.Ledger.Produce(payload.Quantity)
	case event.TypeScrapRecorded:
		var payload QuantityPayload
		if err := evt.Decode(&payload); err != nil {
			return true, err
		}
		return true, core.Ledger.Scrap(payload.Quantity)
	}

	var payload LinkPayload
	switch evt.Type {
	case event.TypeReserved, event.TypeReleased, event.TypeReservationConsumed,
		event.TypeConsumed, event.TypeInputReturned,
		event.TypeAllocated, event.TypeAllocationReleased, event.TypeAllocationConsumed,
		event.TypeInputAdded, event.TypeInputRemoved:
		if err := evt.Decode(&payload); err != nil {
			return true, err
		}
	default:
		return false, nil
	}

	var err error
	switch evt.Type {
	case event.TypeReserved:
		err = core.Ledger.Reserve(payload.LinkID, payload.Counterparty, payload.Quantity)
	case event.TypeReleased:
		_, err = core.Ledger.Release(payload.LinkID)
	case event.TypeReservationConsumed:
		_, err = core.Ledger.ConsumeHold(payload.LinkID)
	case event.TypeConsumed:
		err = core.Ledger.Consume(payload.LinkID, payload.Counterparty, payload.Quantity)
	case event.TypeInputReturned:
		_, err = core.Ledger.Return(payload.LinkID, payload.Quantity)
	case event.TypeAllocated:
		err = core.Ledger.Allocate(payload.LinkID, payload.Counterparty, payload.Quantity)
	case event.TypeAllocationReleased:
		_, err = core.Ledger.ReleaseAllocation(payload.LinkID)
	case event.TypeAllocationConsumed:
		_, err = core.Ledger.ConsumeAllocation(payload.LinkID, inputUnit(*core, payload))
	case event.TypeInputAdded:
		err = core.Ledger.AddInput(payload.LinkID, payload.Counterparty, payload.Quantity, inputUnit(*core, payload))
	case event.TypeInputRemoved:
		_, err = core.Ledger.RemoveInput(payload.LinkID, payload.Quantity)
	}
	return true, err
}

// ApplyCreated marks core created with the machine's initial status.
func ApplyCreated(core *Core, evt event.Event, machine lifecycle.Machine) {
	core.Created = true
	core.AggregateID = evt.AggregateID
	core.AggregateType = evt.AggregateType
	core.Status = machine.Initial()
}

func inputUnit(core Core, payload LinkPayload) quantity.Unit {
	if payload.Unit != "" {
		return quantity.Unit(payload.Unit)
	}
	return core.InputUnit
}
