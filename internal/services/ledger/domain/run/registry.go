package run

import (
	"errors"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// RegisterCommands registers run commands with the shared registry.
func RegisterCommands(registry *command.Registry) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	defs := []command.Definition{
		{Type: CommandCreate, Creates: true},
		{Type: CommandStart, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandPause, ValidatePayload: stage.ValidatePausePayload},
		{Type: CommandResume, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandAllocate, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandReleaseAllocation, ValidatePayload: stage.ValidateLinkRefPayload},
		{Type: CommandConsumeAllocation, ValidatePayload: stage.ValidateLinkRefPayload},
		{Type: CommandAddInput, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandRemoveInput, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandRecordOutput, ValidatePayload: stage.ValidateOutputPayload},
		{Type: CommandRecordScrap, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: CommandConsume, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandReturnInput, ValidatePayload: stage.ValidateLinkPayload},
		{Type: CommandComplete, ValidatePayload: stage.ValidateReasonPayload},
		{Type: CommandCancel, ValidatePayload: stage.ValidateReasonPayload},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregateRun
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers run events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	defs := []event.Definition{
		{Type: event.TypeCreated, Creates: true},
		{Type: event.TypeStarted},
		{Type: event.TypePaused, ValidatePayload: stage.ValidatePausePayload},
		{Type: event.TypeResumed},
		{Type: event.TypeAllocated, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeAllocationReleased, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeAllocationConsumed, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeInputAdded, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeInputRemoved, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeOutputRecorded, ValidatePayload: stage.ValidateOutputPayload},
		{Type: event.TypeScrapRecorded, ValidatePayload: stage.ValidateQuantityPayload},
		{Type: event.TypeConsumed, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeInputReturned, ValidatePayload: stage.ValidateLinkPayload},
		{Type: event.TypeCompleted, Terminal: true},
		{Type: event.TypeCancelled, Terminal: true},
	}
	for _, def := range defs {
		def.AggregateType = event.AggregateRun
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
