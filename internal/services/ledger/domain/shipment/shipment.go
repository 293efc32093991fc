// Package shipment models outbound truck loads.
//
// A shipment is planned for a number of units and filled by allocations
// held on pallets. Consuming an allocation loads the units; the fulfilment
// figure compares loaded units with the plan.
package shipment

import (
	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

const (
	CommandCreate            command.Type = "shipment.create"
	CommandStart             command.Type = "shipment.start"
	CommandAllocate          command.Type = "shipment.allocate"
	CommandReleaseAllocation command.Type = "shipment.release_allocation"
	CommandConsumeAllocation command.Type = "shipment.consume_allocation"
	CommandDispatch          command.Type = "shipment.dispatch"
	CommandCancel            command.Type = "shipment.cancel"
)

// Vocabulary is the shipment's link role table.
var Vocabulary = stage.Vocabulary{
	AggregateType:     event.AggregateShipment,
	Allocate:          CommandAllocate,
	ReleaseAllocation: CommandReleaseAllocation,
	ConsumeAllocation: CommandConsumeAllocation,
	Cancel:            CommandCancel,
}

var loading = []lifecycle.Status{lifecycle.StatusPlanned, lifecycle.StatusActive}

var rules = map[command.Type]stage.Rule{
	CommandCreate:            {Create: true},
	CommandStart:             {Allowed: []lifecycle.Status{lifecycle.StatusPlanned}},
	CommandAllocate:          {Allowed: loading},
	CommandReleaseAllocation: {Allowed: loading},
	CommandConsumeAllocation: {Allowed: []lifecycle.Status{lifecycle.StatusActive}},
	CommandDispatch:          {Allowed: []lifecycle.Status{lifecycle.StatusActive}},
	CommandCancel:            {Allowed: loading},
}

// CreatePayload plans a shipment.
type CreatePayload struct {
	Customer     string          `json:"customer,omitempty"`
	Destination  string          `json:"destination,omitempty"`
	PlannedUnits decimal.Decimal `json:"planned_units"`
	Reference    string          `json:"reference,omitempty"`
}

// State is the folded shipment. Ledger.Produced holds the planned units.
type State struct {
	stage.Core
	Customer    string
	Destination string
}

// NewState returns the empty state for id.
func NewState(id string) State {
	return State{Core: stage.Core{AggregateType: event.AggregateShipment, AggregateID: id, Unit: quantity.Units, InputUnit: quantity.Units}}
}

// Planned is the number of units the shipment was planned for.
func (s State) Planned() decimal.Decimal {
	return s.Ledger.Produced
}

// Shipped is the number of units loaded through consumed allocations.
func (s State) Shipped() decimal.Decimal {
	return s.Ledger.InputTotal()
}

// Open is the planned capacity not yet allocated or loaded.
func (s State) Open() decimal.Decimal {
	return s.Ledger.Produced.Sub(s.Ledger.AllocatedTotal()).Sub(s.Ledger.InputTotal())
}

// Fulfilment is shipped ÷ planned as a percentage rounded to two places.
func (s State) Fulfilment() decimal.Decimal {
	if !s.Planned().IsPositive() {
		return decimal.Zero
	}
	return s.Shipped().Mul(decimal.NewFromInt(100)).Div(s.Planned()).Round(2)
}
