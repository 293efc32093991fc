// Package invoice models customer invoices as a money ledger.
//
// The invoiced amount plays the role of produced quantity. Payments applied
// to the invoice consume it, credits write it off, and the amount due is
// what remains available.
package invoice

import (
	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

const (
	CommandCreate         command.Type = "invoice.create"
	CommandApplyPayment   command.Type = "invoice.apply_payment"
	CommandUnapplyPayment command.Type = "invoice.unapply_payment"
	CommandCredit         command.Type = "invoice.credit"
	CommandSettle         command.Type = "invoice.settle"
	CommandVoid           command.Type = "invoice.void"
)

// Vocabulary is the invoice's link role table.
var Vocabulary = stage.Vocabulary{
	AggregateType: event.AggregateInvoice,
	AddInput:      CommandApplyPayment,
	RemoveInput:   CommandUnapplyPayment,
	Cancel:        CommandVoid,
}

var issued = []lifecycle.Status{lifecycle.StatusIssued}

var rules = map[command.Type]stage.Rule{
	CommandCreate:         {Create: true},
	CommandApplyPayment:   {Allowed: issued},
	CommandUnapplyPayment: {Allowed: issued},
	CommandCredit:         {Allowed: issued},
	CommandSettle:         {Allowed: issued},
	CommandVoid:           {Allowed: issued},
}

// CreatePayload issues an invoice.
type CreatePayload struct {
	Customer  string          `json:"customer"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	DueDate   string          `json:"due_date,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

// State is the folded invoice.
type State struct {
	stage.Core
	Customer string
	DueDate  string
}

// NewState returns the empty state for id.
func NewState(id string) State {
	return State{Core: stage.Core{AggregateType: event.AggregateInvoice, AggregateID: id}}
}

// Due is the amount still owed.
func (s State) Due() decimal.Decimal {
	return s.Ledger.Available()
}
