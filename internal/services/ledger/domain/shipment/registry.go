package shipment

import (
	"errors"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// RegisterCommands registers shipment commands with the shared registry.
func RegisterCommands(registry *command.Registry) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	defs := []command.Definition{
		{Type: CommandCreate, Creates: true},
		{Type: CommandStart, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandAllocate, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandReleaseAllocation, ValidatePayload: stage.ValidateLinkRefPayload},
		{Type: CommandConsumeAllocation, ValidatePayload: stage.ValidateLinkRefPayload},
		{Type: CommandDispatch, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandCancel, ValidatePayload: stage.ValidateReasonPayload},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregateShipment
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers shipment events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	defs := []event.Definition{
		{Type: event.TypeCreated, Creates: true},
		{Type: event.TypeStarted},
		{Type: event.TypeAllocated, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeAllocationReleased, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeAllocationConsumed, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeDispatched, Terminal: true},
		{Type: event.TypeCancelled, Terminal: true},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregateShipment
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
