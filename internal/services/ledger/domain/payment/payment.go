// Package payment models received customer payments.
//
// The received amount is the payment's produced quantity; applying it to
// an invoice consumes it and unapplying returns it.
package payment

import (
	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

const (
	CommandCreate      command.Type = "payment.create"
	CommandConsume     command.Type = "payment.consume"
	CommandReturnInput command.Type = "payment.return_input"
	CommandVoid        command.Type = "payment.void"
)

// Vocabulary is the payment's link role table.
var Vocabulary = stage.Vocabulary{
	AggregateType: event.AggregatePayment,
	Consume:       CommandConsume,
	ReturnInput:   CommandReturnInput,
	Cancel:        CommandVoid,
}

var received = []lifecycle.Status{lifecycle.StatusReceived}

var rules = map[command.Type]stage.Rule{
	CommandCreate:      {Create: true},
	CommandConsume:     {Allowed: received},
	CommandReturnInput: {Allowed: received},
	CommandVoid:        {Allowed: received},
}

// CreatePayload records a received payment.
type CreatePayload struct {
	Payer     string          `json:"payer"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

// State is the folded payment.
type State struct {
	stage.Core
	Payer  string
	Method string
}

// NewState returns the empty state for id.
func NewState(id string) State {
	return State{Core: stage.Core{AggregateType: event.AggregatePayment, AggregateID: id}}
}
