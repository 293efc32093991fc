package stage

import (
	"github.com/kilnline/ledger/internal/services/ledger/domain/balance"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
)

// Core is the state every stage aggregate carries.
type Core struct {
	AggregateType event.AggregateType
	AggregateID   string
	Created       bool
	Status        lifecycle.Status
	// Unit is the unit of the quantity this aggregate supplies downstream.
	Unit quantity.Unit
	// InputUnit is the unit of quantity received from upstream, if any.
	InputUnit quantity.Unit
	Reference string
	Ledger    balance.Ledger
	// PausedMinutes accumulates reported stoppage time.
	PausedMinutes int
}

// Clone returns a copy whose ledger can be mutated independently.
func (c Core) Clone() Core {
	c.Ledger = c.Ledger.Clone()
	return c
}

// Transition moves the core to next if machine allows it.
func (c *Core) Transition(machine lifecycle.Machine, next lifecycle.Status) error {
	if err := machine.Check(c.Status, next); err != nil {
		return err
	}
	c.Status = next
	return nil
}
