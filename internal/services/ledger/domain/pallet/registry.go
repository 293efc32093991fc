package pallet

import (
	"errors"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// RegisterCommands registers pallet commands with the shared registry.
func RegisterCommands(registry *command.Registry) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	defs := []command.Definition{
		{Type: CommandCreate, Creates: true},
		{Type: CommandAddInput, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandRemoveInput, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandReserve, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandRelease, ValidatePayload: stage.ValidateLinkRefPayload},
		{Type: CommandConsumeReservation, ValidatePayload: stage.ValidateLinkRefPayload},
		{Type: CommandRecordScrap, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: CommandClose, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandDispatch, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandCancel, ValidatePayload: stage.ValidateReasonPayload},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregatePallet
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers pallet events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	defs := []event.Definition{
		{Type: event.TypeCreated, Creates: true},
		{Type: event.TypeInputAdded, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeInputRemoved, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeReserved, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeReleased, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeReservationConsumed, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeScrapRecorded, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: event.TypeClosed},
		{Type: event.TypeDispatched, Terminal: true},
		{Type: event.TypeCancelled, Terminal: true},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregatePallet
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
