package payment

import (
	"errors"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// RegisterCommands registers payment commands with the shared registry.
func RegisterCommands(registry *command.Registry) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	defs := []command.Definition{
		{Type: CommandCreate, Creates: true},
		{Type: CommandConsume, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandReturnInput, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandVoid, ValidatePayload: stage.ValidateReasonPayload},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregatePayment
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers payment events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	defs := []event.Definition{
		{Type: event.TypeCreated, Creates: true},
		{Type: event.TypeConsumed, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeInputReturned, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeVoided, Terminal: true},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregatePayment
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
