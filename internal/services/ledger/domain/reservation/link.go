// Package reservation models the links that tie a supply aggregate to the
// demand that holds or consumes part of its quantity.
package reservation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RefTypeOrder marks an external sales order demand that has no aggregate.
const RefTypeOrder = "order"

// Ref addresses one side of a link: an aggregate or an external order.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String renders the ref as type/id.
func (r Ref) String() string {
	return r.Type + "/" + r.ID
}

// IsZero reports whether the ref is empty.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// IsExternal reports whether the ref points outside the ledger.
func (r Ref) IsExternal() bool {
	return r.Type == RefTypeOrder
}

// Normalize trims and lowercases the ref type.
func (r Ref) Normalize() Ref {
	return Ref{Type: strings.ToLower(strings.TrimSpace(r.Type)), ID: strings.TrimSpace(r.ID)}
}

// Kind distinguishes reservation links from consumption links.
type Kind string

const (
	// KindReservation is a hold that ends released or consumed.
	KindReservation Kind = "reservation"
	// KindConsumption is a permanent upstream to downstream transfer.
	KindConsumption Kind = "consumption"
)

// Status is the state of a link.
type Status string

const (
	StatusHeld     Status = "held"
	StatusConsumed Status = "consumed"
	StatusReleased Status = "released"
	// StatusReturned marks a consumption link fully compensated.
	StatusReturned Status = "returned"
)

// ErrInvalidTransition indicates a link status change that is not allowed.
var ErrInvalidTransition = errors.New("invalid link transition")

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusReturned
}

// Link is the projection of one reservation or consumption link.
type Link struct {
	ID            string
	TenantID      string
	Kind          Kind
	Supply        Ref
	Demand        Ref
	Quantity      decimal.Decimal
	Unit          string
	Status        Status
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition moves a link to next. A held link ends released or consumed
// exactly once; a consumed consumption link may be returned. Repeating the
// current status is a no-op so retried commands converge.
func (l Link) Transition(next Status, at time.Time) (Link, error) {
	if l.Status == next {
		return l, nil
	}
	allowed := false
	switch l.Status {
	case StatusHeld:
		allowed = next == StatusConsumed || next == StatusReleased
	case StatusConsumed:
		allowed = l.Kind == KindConsumption && next == StatusReturned
	}
	if !allowed {
		return l, fmt.Errorf("%w: %s link %s from %s to %s", ErrInvalidTransition, l.Kind, l.ID, l.Status, next)
	}
	l.Status = next
	l.UpdatedAt = at.UTC()
	return l, nil
}
