// Package pallet models packed pallets of fired units.
//
// A pallet is filled from kiln batches and drained by reservations for
// shipments or sales orders. It can only be dispatched once every unit has
// left through a consumed reservation.
package pallet

import (
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

const (
	CommandCreate             command.Type = "pallet.create"
	CommandAddInput           command.Type = "pallet.add_input"
	CommandRemoveInput        command.Type = "pallet.remove_input"
	CommandReserve            command.Type = "pallet.reserve"
	CommandRelease            command.Type = "pallet.release"
	CommandConsumeReservation command.Type = "pallet.consume_reservation"
	CommandRecordScrap        command.Type = "pallet.record_scrap"
	CommandClose              command.Type = "pallet.close"
	CommandDispatch           command.Type = "pallet.dispatch"
	CommandCancel             command.Type = "pallet.cancel"
)

// Vocabulary is the pallet's link role table.
var Vocabulary = stage.Vocabulary{
	AggregateType:      event.AggregatePallet,
	Reserve:            CommandReserve,
	Release:            CommandRelease,
	ConsumeReservation: CommandConsumeReservation,
	AddInput:           CommandAddInput,
	RemoveInput:        CommandRemoveInput,
	Cancel:             CommandCancel,
}

var packed = []lifecycle.Status{lifecycle.StatusOpen, lifecycle.StatusClosed}

var rules = map[command.Type]stage.Rule{
	CommandCreate:             {Create: true},
	CommandAddInput:           {Allowed: []lifecycle.Status{lifecycle.StatusOpen}},
	CommandRemoveInput:        {Allowed: packed},
	CommandReserve:            {Allowed: packed},
	CommandRelease:            {Allowed: packed},
	CommandConsumeReservation: {Allowed: packed},
	CommandRecordScrap:        {Allowed: packed},
	CommandClose:              {Allowed: []lifecycle.Status{lifecycle.StatusOpen}},
	CommandDispatch:           {Allowed: []lifecycle.Status{lifecycle.StatusClosed}},
	CommandCancel:             {Allowed: packed},
}

// CreatePayload opens an empty pallet.
type CreatePayload struct {
	Product   string `json:"product,omitempty"`
	Location  string `json:"location,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// State is the folded pallet.
type State struct {
	stage.Core
	Product  string
	Location string
}

// NewState returns the empty state for id.
func NewState(id string) State {
	return State{Core: stage.Core{AggregateType: event.AggregatePallet, AggregateID: id, Unit: quantity.Units, InputUnit: quantity.Units}}
}
