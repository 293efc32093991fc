// Package run models extrusion production runs.
//
// A run draws tonnes of prepared material from stockpiles, either through
// allocations held on a stockpile or by direct input, and records the
// units it extrudes. Kiln batches consume those units downstream.
package run

import (
	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

const (
	CommandCreate            command.Type = "run.create"
	CommandStart             command.Type = "run.start"
	CommandPause             command.Type = "run.pause"
	CommandResume            command.Type = "run.resume"
	CommandAllocate          command.Type = "run.allocate"
	CommandReleaseAllocation command.Type = "run.release_allocation"
	CommandConsumeAllocation command.Type = "run.consume_allocation"
	CommandAddInput          command.Type = "run.add_input"
	CommandRemoveInput       command.Type = "run.remove_input"
	CommandRecordOutput      command.Type = "run.record_output"
	CommandRecordScrap       command.Type = "run.record_scrap"
	CommandConsume           command.Type = "run.consume"
	CommandReturnInput       command.Type = "run.return_input"
	CommandComplete          command.Type = "run.complete"
	CommandCancel            command.Type = "run.cancel"
)

// Vocabulary is the run's link role table.
var Vocabulary = stage.Vocabulary{
	AggregateType:     event.AggregateRun,
	Consume:           CommandConsume,
	ReturnInput:       CommandReturnInput,
	Allocate:          CommandAllocate,
	ReleaseAllocation: CommandReleaseAllocation,
	ConsumeAllocation: CommandConsumeAllocation,
	AddInput:          CommandAddInput,
	RemoveInput:       CommandRemoveInput,
	Cancel:            CommandCancel,
}

// InputUnits are the units a run accepts from upstream.
var InputUnits = []quantity.Unit{quantity.Tonnes, quantity.Kilograms}

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

// CreatePayload plans a run.
type CreatePayload struct {
	Product      string          `json:"product"`
	Line         string          `json:"line,omitempty"`
	PlannedUnits decimal.Decimal `json:"planned_units"`
	InputUnit    string          `json:"input_unit,omitempty"`
	Reference    string          `json:"reference,omitempty"`
}

// State is the folded run.
type State struct {
	stage.Core
	Product string
	Line    string
	Planned decimal.Decimal
}

// NewState returns the empty state for id.
func NewState(id string) State {
	return State{Core: stage.Core{AggregateType: event.AggregateRun, AggregateID: id}}
}
