package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/shipment"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

// DispatchPrefix prefixes the correlation id of allocations consumed while
// dispatching a shipment.
const DispatchPrefix = "dispatch"

// DispatchRequest loads and dispatches a shipment.
type DispatchRequest struct {
	Envelope
	ShipmentID string
	Reason     string
}

// DispatchResult reports the dispatched shipment and its fulfilment.
type DispatchResult struct {
	Result   engine.Result
	Consumed []reservation.Link
	Planned  decimal.Decimal
	Shipped  decimal.Decimal
	// Fulfilment is shipped ÷ planned as a percentage.
	Fulfilment decimal.Decimal
}

// DispatchShipment consumes every allocation the shipment still holds,
// appends DISPATCHED and counts the shipment into the dispatch rollup.
func (c *Coordinator) DispatchShipment(ctx context.Context, req DispatchRequest) (result DispatchResult, err error) {
	ctx, done := c.trace(ctx, "DispatchShipment", req.Envelope)
	defer func() { done(&err) }()

	if err := req.validate(); err != nil {
		return DispatchResult{}, err
	}
	if strings.TrimSpace(req.ShipmentID) == "" {
		return DispatchResult{}, apperrors.New(apperrors.CodeValidation, "shipment id is required")
	}
	target, err := resolve(reservation.Ref{Type: string(event.AggregateShipment), ID: req.ShipmentID}, "shipment")
	if err != nil {
		return DispatchResult{}, err
	}
	core, err := c.core(ctx, req.TenantID, target)
	if err != nil {
		return DispatchResult{}, err
	}
	if !core.Created {
		return DispatchResult{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("shipment %s not found", req.ShipmentID), map[string]string{"AggregateID": req.ShipmentID})
	}

	for _, hold := range core.Ledger.AllocatedLinks() {
		link, err := c.Links.GetLink(ctx, req.TenantID, hold.LinkID)
		switch {
		case apperrors.HasCode(err, apperrors.CodeNotFound):
			link = reservation.Link{
				ID:       hold.LinkID,
				TenantID: req.TenantID,
				Kind:     reservation.KindReservation,
				Supply:   hold.Party,
				Demand:   target.ref,
				Quantity: hold.Quantity,
				Unit:     string(core.InputUnit),
				Status:   reservation.StatusHeld,
			}
		case err != nil:
			return result, err
		}
		consumed, err := c.consumeLink(ctx, req.Envelope, link, command.CascadeCorrelation(DispatchPrefix, hold.LinkID))
		if err != nil {
			return result, err
		}
		result.Consumed = append(result.Consumed, consumed.Link)
	}

	cmd, err := c.step(req.Envelope, target, shipment.CommandDispatch, req.CorrelationID, stage.ReasonPayload{Reason: req.Reason})
	if err != nil {
		return result, err
	}
	result.Result, err = c.Engine.Execute(ctx, cmd)
	if err != nil {
		return result, err
	}
	state, ok := result.Result.State.(shipment.State)
	if !ok {
		return result, fmt.Errorf("shipment %s: unexpected state %T", req.ShipmentID, result.Result.State)
	}
	result.Planned = state.Planned()
	result.Shipped = state.Shipped()
	result.Fulfilment = state.Fulfilment()

	if c.KPI != nil && len(result.Result.Events) > 0 {
		if err := c.KPI.RecordDispatch(ctx, storage.DispatchRecord{
			TenantID:     req.TenantID,
			ShipmentID:   req.ShipmentID,
			Units:        result.Shipped,
			DispatchedAt: result.Result.Events[len(result.Result.Events)-1].Timestamp,
		}); err != nil {
			return result, err
		}
	}
	return result, nil
}
