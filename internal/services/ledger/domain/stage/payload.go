package stage

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
)

// QuantityPayload carries a single quantity change (receipt, output, scrap,
// credit).
type QuantityPayload struct {
	Quantity  decimal.Decimal `json:"quantity"`
	Reference string          `json:"reference,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// LinkPayload carries a quantity moving under a link. Counterparty is the
// demand on supply-side events and the supply or source on demand-side
// events.
type LinkPayload struct {
	LinkID       string          `json:"link_id"`
	Counterparty reservation.Ref `json:"counterparty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// PausePayload carries a production stoppage.
type PausePayload struct {
	DurationMinutes int    `json:"duration_minutes"`
	Reason          string `json:"reason"`
}

// ReasonPayload carries an optional free-text reason.
type ReasonPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ValidateQuantityPayload requires a strictly positive quantity.
func ValidateQuantityPayload(raw json.RawMessage) error {
	var payload QuantityPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return quantity.RequirePositive("quantity", payload.Quantity)
}

// ValidateOutputPayload allows zero, for output and fired-unit recording.
func ValidateOutputPayload(raw json.RawMessage) error {
	var payload QuantityPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return quantity.RequireNonNegative("quantity", payload.Quantity)
}

// ValidateLinkPayload requires a link id, a counterparty and a positive quantity.
func ValidateLinkPayload(raw json.RawMessage) error {
	var payload LinkPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if strings.TrimSpace(payload.LinkID) == "" {
		return errors.New("link id is required")
	}
	if strings.TrimSpace(payload.Counterparty.ID) == "" || strings.TrimSpace(payload.Counterparty.Type) == "" {
		return errors.New("counterparty is required")
	}
	return quantity.RequirePositive("quantity", payload.Quantity)
}

// ValidateLinkRefPayload requires only a link id, for releases and
// consumptions that take the quantity from the recorded hold.
func ValidateLinkRefPayload(raw json.RawMessage) error {
	var payload LinkPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if strings.TrimSpace(payload.LinkID) == "" {
		return errors.New("link id is required")
	}
	return nil
}

// ValidatePausePayload requires a positive duration and a reason.
func ValidatePausePayload(raw json.RawMessage) error {
	var payload PausePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if payload.DurationMinutes <= 0 {
		return errors.New("duration_minutes must be greater than zero")
	}
	if strings.TrimSpace(payload.Reason) == "" {
		return errors.New("reason is required")
	}
	return nil
}

// ValidateReasonPayload accepts any well-formed reason payload.
func ValidateReasonPayload(raw json.RawMessage) error {
	var payload ReasonPayload
	return json.Unmarshal(raw, &payload)
}
