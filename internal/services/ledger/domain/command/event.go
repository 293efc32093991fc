package command

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

// CascadeCorrelation derives the correlation id of an event appended as a
// side effect of another command on the same link (cancel cascades,
// compensations). It stays stable across retries.
func CascadeCorrelation(prefix, linkID string) string {
	return prefix + ":" + linkID
}

// NewEvent builds an event by copying the shared envelope fields from a
// command. Callers supply the event type, payload and timestamp.
func NewEvent(cmd Command, eventType event.Type, payload any, now time.Time) event.Event {
	payloadJSON, _ := json.Marshal(payload)
	return event.Event{
		TenantID:      cmd.TenantID,
		AggregateID:   cmd.AggregateID,
		AggregateType: cmd.AggregateType,
		Type:          eventType,
		Timestamp:     now.UTC(),
		ActorRole:     cmd.ActorRole,
		CorrelationID: cmd.CorrelationID,
		CausationID:   cmd.CausationID,
		Command:       string(cmd.Type),
		PayloadJSON:   payloadJSON,
	}
}

// NewCascadeEvent builds an event caused by cmd but keyed by its own
// correlation id, so several events of the same type can share one batch.
func NewCascadeEvent(cmd Command, eventType event.Type, correlationID string, payload any, now time.Time) event.Event {
	evt := NewEvent(cmd, eventType, payload, now)
	evt.CorrelationID = correlationID
	evt.CausationID = cmd.CorrelationID
	return evt
}

// AppendedBy keeps the events appended by a command of type typ. Events
// without a recorded command match every type.
func AppendedBy(events []event.Event, typ Type) []event.Event {
	var out []event.Event
	for _, evt := range events {
		if evt.Command == "" || evt.Command == string(typ) {
			out = append(out, evt)
		}
	}
	return out
}

// CorrelationReused reports a correlation id already consumed on an
// aggregate by a command of another type.
func CorrelationReused(cmd Command, usedBy string) error {
	return apperrors.WithMetadata(apperrors.CodeValidation,
		fmt.Sprintf("correlation id %s already used by %s on %s %s", cmd.CorrelationID, usedBy, cmd.AggregateType, cmd.AggregateID),
		map[string]string{
			"Field":         "correlation_id",
			"CorrelationID": cmd.CorrelationID,
			"AggregateID":   cmd.AggregateID,
			"Command":       usedBy,
		})
}
