package stockpile

import (
	"errors"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// RegisterCommands registers stockpile commands with the shared registry.
func RegisterCommands(registry *command.Registry) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	defs := []command.Definition{
		{Type: CommandCreate, Creates: true},
		{Type: CommandReceive, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: CommandReserve, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandRelease, ValidatePayload: stage.ValidateLinkRefPayload},
		{Type: CommandConsumeReservation, ValidatePayload: stage.ValidateLinkRefPayload},
		{Type: CommandConsume, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandReturnInput, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandRecordScrap, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: CommandClose, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandCancel, ValidatePayload: stage.ValidateReasonPayload},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregateStockpile
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers stockpile events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	defs := []event.Definition{
		{Type: event.TypeCreated, Creates: true},
		{Type: event.TypeReceived, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: event.TypeReserved, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeReleased, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeReservationConsumed, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeConsumed, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeInputReturned, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeScrapRecorded, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: event.TypeClosed},
		{Type: event.TypeCancelled, Terminal: true},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregateStockpile
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
