// Package stockpile models raw and dried material heaps measured in tonnes.
//
// A stockpile is pure supply: receipts raise produced, runs and kiln
// batches reserve or consume from it, and scrap writes material off.
package stockpile

import (
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

const (
	CommandCreate             command.Type = "stockpile.create"
	CommandReceive            command.Type = "stockpile.receive"
	CommandReserve            command.Type = "stockpile.reserve"
	CommandRelease            command.Type = "stockpile.release"
	CommandConsumeReservation command.Type = "stockpile.consume_reservation"
	CommandConsume            command.Type = "stockpile.consume"
	CommandReturnInput        command.Type = "stockpile.return_input"
	CommandRecordScrap        command.Type = "stockpile.record_scrap"
	CommandClose              command.Type = "stockpile.close"
	CommandCancel             command.Type = "stockpile.cancel"
)

// Vocabulary is the stockpile's link role table.
var Vocabulary = stage.Vocabulary{
	AggregateType:      event.AggregateStockpile,
	Reserve:            CommandReserve,
	Release:            CommandRelease,
	ConsumeReservation: CommandConsumeReservation,
	Consume:            CommandConsume,
	ReturnInput:        CommandReturnInput,
	Cancel:             CommandCancel,
}

var drawable = []lifecycle.Status{lifecycle.StatusOpen, lifecycle.StatusClosed}

var rules = map[command.Type]stage.Rule{
	CommandCreate:             {Create: true},
	CommandReceive:            {Allowed: []lifecycle.Status{lifecycle.StatusOpen}},
	CommandReserve:            {Allowed: drawable},
	CommandRelease:            {Allowed: drawable},
	CommandConsumeReservation: {Allowed: drawable},
	CommandConsume:            {Allowed: drawable},
	CommandReturnInput:        {Allowed: drawable},
	CommandRecordScrap:        {Allowed: drawable},
	CommandClose:              {Allowed: []lifecycle.Status{lifecycle.StatusOpen}},
	CommandCancel:             {Allowed: drawable},
}

// CreatePayload opens a stockpile.
type CreatePayload struct {
	Name      string `json:"name"`
	Material  string `json:"material,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// State is the folded stockpile.
type State struct {
	stage.Core
	Name     string
	Material string
}

// NewState returns the empty state for id.
func NewState(id string) State {
	return State{Core: stage.Core{AggregateType: event.AggregateStockpile, AggregateID: id}}
}
