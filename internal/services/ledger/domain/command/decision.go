package command

import (
	"strings"

	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

// Decision represents the pure outcome of handling a command.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Rejection captures a domain-level reason a command was declined. Code is
// one of the platform error codes (e.g. INSUFFICIENT_AVAILABLE).
type Rejection struct {
	Code     string
	Message  string
	Metadata map[string]string
}

// Accept returns a decision that emits the provided events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: append([]event.Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// Rejected reports whether the decision declined the command.
func (d Decision) Rejected() bool {
	return len(d.Rejections) > 0
}

// Error joins the rejection messages.
func (d Decision) Error() string {
	parts := make([]string, 0, len(d.Rejections))
	for _, r := range d.Rejections {
		parts = append(parts, r.Message)
	}
	return strings.Join(parts, "; ")
}
