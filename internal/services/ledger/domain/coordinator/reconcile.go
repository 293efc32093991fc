package coordinator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// ReconcileActor is the actor role recorded on steps appended by link
// reconciliation.
const ReconcileActor = "system"

// ReconcileReport summarizes one aggregate's reconciliation.
type ReconcileReport struct {
	AggregateID   string
	AggregateType event.AggregateType
	// Links is the number of links the aggregate supplies.
	Links int
	// Repaired counts links that were missing or stale in the projection.
	Repaired int
	// Cascades counts cancel releases checked on counterparts.
	Cascades int
}

// ReconcileLinks rebuilds the projection of every link the aggregate
// supplies from its own history, then finishes any cancel cascade it
// started. It is safe to run repeatedly.
func (c *Coordinator) ReconcileLinks(ctx context.Context, tenantID, aggregateID string) (report ReconcileReport, err error) {
	ctx, done := c.trace(ctx, "ReconcileLinks", Envelope{TenantID: tenantID, CorrelationID: aggregateID})
	defer func() { done(&err) }()

	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(aggregateID) == "" {
		return ReconcileReport{}, apperrors.New(apperrors.CodeValidation, "tenant id and aggregate id are required")
	}
	record, err := c.Events.GetAggregate(ctx, tenantID, aggregateID)
	if err != nil {
		return ReconcileReport{}, err
	}
	target, err := resolve(reservation.Ref{Type: string(record.AggregateType), ID: aggregateID}, "aggregate")
	if err != nil {
		return ReconcileReport{}, err
	}
	report.AggregateID = aggregateID
	report.AggregateType = record.AggregateType

	history, err := c.history(ctx, tenantID, aggregateID)
	if err != nil {
		return report, err
	}
	derived := supplyLinks(tenantID, target.ref, history)
	report.Links = len(derived)
	for _, link := range derived {
		stored, err := c.Links.GetLink(ctx, tenantID, link.ID)
		switch {
		case err == nil && sameLink(stored, link):
			continue
		case err != nil && !apperrors.HasCode(err, apperrors.CodeNotFound):
			return report, err
		}
		if err := c.putLink(ctx, link); err != nil {
			return report, err
		}
		report.Repaired++
		c.logger(ctx).Info("repaired link",
			zap.String("tenant_id", tenantID),
			zap.String("link_id", link.ID),
			zap.String("status", string(link.Status)))
	}

	released, err := c.finishCascades(ctx, Envelope{TenantID: tenantID, ActorRole: ReconcileActor, CorrelationID: aggregateID}, target)
	report.Cascades = len(released)
	return report, err
}

// supplyLinks folds the supply-side link events of one history into links,
// in the order they were opened.
func supplyLinks(tenantID string, supply reservation.Ref, history []event.Event) []reservation.Link {
	byID := make(map[string]*reservation.Link)
	var order []string
	for _, evt := range history {
		switch evt.Type {
		case event.TypeReserved, event.TypeReleased, event.TypeReservationConsumed,
			event.TypeConsumed, event.TypeInputReturned:
		default:
			continue
		}
		var payload stage.LinkPayload
		if err := evt.Decode(&payload); err != nil || payload.LinkID == "" {
			continue
		}
		link, ok := byID[payload.LinkID]
		if !ok {
			if evt.Type != event.TypeReserved && evt.Type != event.TypeConsumed {
				continue
			}
			link = &reservation.Link{
				ID:            payload.LinkID,
				TenantID:      tenantID,
				Supply:        supply,
				Demand:        payload.Counterparty,
				Quantity:      payload.Quantity,
				Unit:          payload.Unit,
				CorrelationID: evt.CorrelationID,
				CreatedAt:     evt.Timestamp,
			}
			byID[payload.LinkID] = link
			order = append(order, payload.LinkID)
		}
		link.UpdatedAt = evt.Timestamp
		switch evt.Type {
		case event.TypeReserved:
			link.Kind = reservation.KindReservation
			link.Status = reservation.StatusHeld
		case event.TypeReleased:
			link.Status = reservation.StatusReleased
		case event.TypeReservationConsumed:
			link.Status = reservation.StatusConsumed
		case event.TypeConsumed:
			link.Kind = reservation.KindConsumption
			link.Status = reservation.StatusConsumed
		case event.TypeInputReturned:
			link.Quantity = link.Quantity.Sub(payload.Quantity)
			if !link.Quantity.IsPositive() {
				link.Status = reservation.StatusReturned
			}
		}
	}

	out := make([]reservation.Link, 0, len(order))
	for _, linkID := range order {
		out = append(out, *byID[linkID])
	}
	return out
}

func sameLink(a, b reservation.Link) bool {
	return a.Kind == b.Kind &&
		a.Status == b.Status &&
		a.Supply == b.Supply &&
		a.Demand == b.Demand &&
		a.Unit == b.Unit &&
		a.Quantity.Equal(b.Quantity)
}
