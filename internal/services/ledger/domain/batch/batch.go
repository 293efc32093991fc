// Package batch models kiln firing batches.
//
// A batch loads green units from extrusion runs, or tonnes straight from a
// stockpile for bulk-fired product, and records the units that come out of
// the kiln. Pallets are packed from those fired units.
package batch

import (
	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

const (
	CommandCreate            command.Type = "batch.create"
	CommandStart             command.Type = "batch.start"
	CommandPause             command.Type = "batch.pause"
	CommandResume            command.Type = "batch.resume"
	CommandAllocate          command.Type = "batch.allocate"
	CommandReleaseAllocation command.Type = "batch.release_allocation"
	CommandConsumeAllocation command.Type = "batch.consume_allocation"
	CommandAddInput          command.Type = "batch.add_input"
	CommandRemoveInput       command.Type = "batch.remove_input"
	CommandRecordOutput      command.Type = "batch.record_output"
	CommandRecordScrap       command.Type = "batch.record_scrap"
	CommandConsume           command.Type = "batch.consume"
	CommandReturnInput       command.Type = "batch.return_input"
	CommandComplete          command.Type = "batch.complete"
	CommandCancel            command.Type = "batch.cancel"
)

// Vocabulary is the batch's link role table.
var Vocabulary = stage.Vocabulary{
	AggregateType:     event.AggregateBatch,
	Consume:           CommandConsume,
	ReturnInput:       CommandReturnInput,
	Allocate:          CommandAllocate,
	ReleaseAllocation: CommandReleaseAllocation,
	ConsumeAllocation: CommandConsumeAllocation,
	AddInput:          CommandAddInput,
	RemoveInput:       CommandRemoveInput,
	Cancel:            CommandCancel,
}

// InputUnits are the units a batch accepts from upstream.
var InputUnits = []quantity.Unit{quantity.Units, quantity.Tonnes}

var (
	notStarted = []lifecycle.Status{lifecycle.StatusPlanned, lifecycle.StatusActive, lifecycle.StatusPaused}
	running    = []lifecycle.Status{lifecycle.StatusActive, lifecycle.StatusPaused}
)

var rules = map[command.Type]stage.Rule{
	CommandCreate:            {Create: true},
	CommandStart:             {Allowed: []lifecycle.Status{lifecycle.StatusPlanned}},
	CommandPause:             {Allowed: []lifecycle.Status{lifecycle.StatusActive}},
	CommandResume:            {Allowed: []lifecycle.Status{lifecycle.StatusPaused}},
	CommandAllocate:          {Allowed: notStarted},
	CommandReleaseAllocation: {Allowed: notStarted},
	CommandConsumeAllocation: {Allowed: running},
	CommandAddInput:          {Allowed: running},
	CommandRemoveInput:       {Allowed: running},
	CommandRecordOutput:      {Allowed: []lifecycle.Status{lifecycle.StatusActive}},
	CommandRecordScrap:       {Allowed: running},
	CommandConsume:           {Allowed: running},
	CommandReturnInput:       {Allowed: running},
	CommandComplete:          {Allowed: []lifecycle.Status{lifecycle.StatusActive}},
	CommandCancel:            {Allowed: notStarted},
}

// CreatePayload plans a firing.
type CreatePayload struct {
	Product      string          `json:"product"`
	Kiln         string          `json:"kiln"`
	PlannedUnits decimal.Decimal `json:"planned_units"`
	InputUnit    string          `json:"input_unit,omitempty"`
	Reference    string          `json:"reference,omitempty"`
}

// State is the folded run.
type State struct {
	stage.Core
	Product string
	Kiln    string
	Planned decimal.Decimal
}

// NewState returns the empty state for id.
func NewState(id string) State {
	return State{Core: stage.Core{AggregateType: event.AggregateBatch, AggregateID: id}}
}
