// Package lifecycle holds the status values and transition tables that gate
// commands on each stage aggregate.
package lifecycle

import (
	"errors"
	"fmt"
)

// Status is an aggregate lifecycle status.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusDispatched Status = "dispatched"
	StatusIssued     Status = "issued"
	StatusSettled    Status = "settled"
	StatusReceived   Status = "received"
	StatusVoid       Status = "void"
	StatusCancelled  Status = "cancelled"
)

// ErrInvalidTransition indicates a status change the machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// Machine is a transition table with an initial status and terminal set.
type Machine struct {
	initial     Status
	transitions map[Status]map[Status]struct{}
	terminal    map[Status]struct{}
}

// NewMachine builds a machine from an edge list.
func NewMachine(initial Status, edges map[Status][]Status, terminal ...Status) Machine {
	m := Machine{
		initial:     initial,
		transitions: make(map[Status]map[Status]struct{}, len(edges)),
		terminal:    make(map[Status]struct{}, len(terminal)),
	}
	for from, tos := range edges {
		set := make(map[Status]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		m.transitions[from] = set
	}
	for _, s := range terminal {
		m.terminal[s] = struct{}{}
	}
	return m
}

// Initial returns the status set by the create event.
func (m Machine) Initial() Status {
	return m.initial
}

// CanTransition reports whether from → to is allowed.
func (m Machine) CanTransition(from, to Status) bool {
	_, ok := m.transitions[from][to]
	return ok
}

// IsTerminal reports whether s accepts no further commands.
func (m Machine) IsTerminal(s Status) bool {
	_, ok := m.terminal[s]
	return ok
}

// Check returns ErrInvalidTransition when from → to is not allowed.
func (m Machine) Check(from, to Status) error {
	if m.CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// Production covers extrusion runs and kiln batches.
var Production = NewMachine(StatusPlanned, map[Status][]Status{
	StatusPlanned: {StatusActive, StatusCancelled},
	StatusActive:  {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:  {StatusActive, StatusCancelled},
}, StatusCompleted, StatusCancelled)

// Stockpile stays open to receipts until closed; closed stock can still be
// drawn down.
var Stockpile = NewMachine(StatusOpen, map[Status][]Status{
	StatusOpen:   {StatusClosed, StatusCancelled},
	StatusClosed: {StatusCancelled},
}, StatusCancelled)

// Pallet accepts inputs while open, stays reservable once closed, and is
// dispatched when everything on it has shipped.
var Pallet = NewMachine(StatusOpen, map[Status][]Status{
	StatusOpen:   {StatusClosed, StatusCancelled},
	StatusClosed: {StatusDispatched, StatusCancelled},
}, StatusDispatched, StatusCancelled)

// Shipment is planned, loaded while active, then dispatched.
var Shipment = NewMachine(StatusPlanned, map[Status][]Status{
	StatusPlanned: {StatusActive, StatusCancelled},
	StatusActive:  {StatusDispatched, StatusCancelled},
}, StatusDispatched, StatusCancelled)

// Invoice is issued, then settled or voided.
var Invoice = NewMachine(StatusIssued, map[Status][]Status{
	StatusIssued: {StatusSettled, StatusVoid},
}, StatusSettled, StatusVoid)

// Payment is received, then optionally voided.
var Payment = NewMachine(StatusReceived, map[Status][]Status{
	StatusReceived: {StatusVoid},
}, StatusVoid)
