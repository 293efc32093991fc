package invoice

import (
	"errors"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// RegisterCommands registers invoice commands with the shared registry.
func RegisterCommands(registry *command.Registry) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	defs := []command.Definition{
		{Type: CommandCreate, Creates: true},
		{Type: CommandApplyPayment, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandUnapplyPayment, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandCredit, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: CommandSettle, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandVoid, ValidatePayload: stage.ValidateReasonPayload},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregateInvoice
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers invoice events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	defs := []event.Definition{
		{Type: event.TypeCreated, Creates: true},
		{Type: event.TypeInputAdded, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeInputRemoved, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeCredited, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: event.TypeSettled, Terminal: true},
		{Type: event.TypeVoided, Terminal: true},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregateInvoice
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
