package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies an event type within an aggregate type.
type Type string

// AggregateType identifies the stage aggregate an event belongs to.
type AggregateType string

const (
	AggregateStockpile AggregateType = "stockpile"
	AggregateRun       AggregateType = "run"
	AggregateBatch     AggregateType = "batch"
	AggregatePallet    AggregateType = "pallet"
	AggregateShipment  AggregateType = "shipment"
	AggregateInvoice   AggregateType = "invoice"
	AggregatePayment   AggregateType = "payment"
)

// AggregateTypes lists every aggregate type in pipeline order.
var AggregateTypes = []AggregateType{
	AggregateStockpile,
	AggregateRun,
	AggregateBatch,
	AggregatePallet,
	AggregateShipment,
	AggregateInvoice,
	AggregatePayment,
}

// ParseAggregateType normalizes and validates an aggregate type label.
func ParseAggregateType(raw string) (AggregateType, error) {
	value := AggregateType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AggregateTypes {
		if value == known {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrAggregateTypeUnknown, raw)
}

// Shared event vocabulary. Each aggregate registers the subset it uses.
const (
	TypeCreated             Type = "CREATED"
	TypeReceived            Type = "RECEIVED"
	TypeStarted             Type = "STARTED"
	TypePaused              Type = "PAUSED"
	TypeResumed             Type = "RESUMED"
	TypeInputAdded          Type = "INPUT_ADDED"
	TypeInputRemoved        Type = "INPUT_REMOVED"
	TypeConsumed            Type = "CONSUMED"
	TypeInputReturned       Type = "INPUT_RETURNED"
	TypeReserved            Type = "RESERVED"
	TypeReleased            Type = "RELEASED"
	TypeReservationConsumed Type = "RESERVATION_CONSUMED"
	TypeAllocated           Type = "ALLOCATED"
	TypeAllocationReleased  Type = "ALLOCATION_RELEASED"
	TypeAllocationConsumed  Type = "ALLOCATION_CONSUMED"
	TypeOutputRecorded      Type = "OUTPUT_RECORDED"
	TypeScrapRecorded       Type = "SCRAP_RECORDED"
	TypeCredited            Type = "CREDITED"
	TypeClosed              Type = "CLOSED"
	TypeCompleted           Type = "COMPLETED"
	TypeDispatched          Type = "DISPATCHED"
	TypeSettled             Type = "SETTLED"
	TypeCancelled           Type = "CANCELLED"
	TypeVoided              Type = "VOIDED"
)

// Event is an immutable fact appended to an aggregate's history.
type Event struct {
	ID            string
	TenantID      string
	AggregateID   string
	AggregateType AggregateType
	Type          Type
	Seq           uint64
	Timestamp     time.Time
	ActorRole     string
	CorrelationID string
	CausationID   string
	// Command is the command type that appended the event. Events stored
	// before it was recorded carry an empty value.
	Command     string
	PayloadJSON []byte

	// Integrity fields are assigned by the store on append.
	Hash           string
	PrevHash       string
	ChainHash      string
	Signature      string
	SignatureKeyID string
}

// Decode unmarshals the payload into target.
func (e Event) Decode(target any) error {
	if len(e.PayloadJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.PayloadJSON, target); err != nil {
		return fmt.Errorf("decode %s %s payload: %w", e.AggregateType, e.Type, err)
	}
	return nil
}

// Key is the idempotency key of an event within a tenant.
type Key struct {
	TenantID      string
	AggregateID   string
	Type          Type
	CorrelationID string
}

// IdempotencyKey returns the key under which a repeated append is a no-op.
func (e Event) IdempotencyKey() Key {
	return Key{
		TenantID:      e.TenantID,
		AggregateID:   e.AggregateID,
		Type:          e.Type,
		CorrelationID: e.CorrelationID,
	}
}
