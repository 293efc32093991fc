package coordinator

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// CancelRequest cancels an aggregate and every link it still holds.
type CancelRequest struct {
	Envelope
	Target reservation.Ref
	Reason string
}

// CancelResult reports the cancelled aggregate and the links released on
// its counterparts.
type CancelResult struct {
	Result   engine.Result
	Released []reservation.Link
}

// Cancel appends the target's cancel batch, which releases its own holds
// and allocations, then releases the matching side on every counterpart.
// Retrying with the same correlation id finishes an interrupted cascade.
func (c *Coordinator) Cancel(ctx context.Context, req CancelRequest) (result CancelResult, err error) {
	ctx, done := c.trace(ctx, "Cancel", req.Envelope)
	defer func() { done(&err) }()

	if err := req.validate(); err != nil {
		return CancelResult{}, err
	}
	target, err := resolve(req.Target, "target")
	if err != nil {
		return CancelResult{}, err
	}
	if target.ref.IsExternal() {
		return CancelResult{}, apperrors.New(apperrors.CodeValidation, "external orders are cancelled by releasing their links")
	}
	cmd, err := c.step(req.Envelope, target, target.vocabulary.Cancel, req.CorrelationID, stage.ReasonPayload{Reason: req.Reason})
	if err != nil {
		return CancelResult{}, err
	}
	result.Result, err = c.Engine.Execute(ctx, cmd)
	if err != nil {
		return result, err
	}
	result.Released, err = c.finishCascades(ctx, req.Envelope, target)
	return result, err
}

// finishCascades releases the counterpart side of every link target
// released through a cancel. Each counterpart step is keyed by the same
// per-link correlation id as the release on target, so it runs once.
func (c *Coordinator) finishCascades(ctx context.Context, env Envelope, target side) ([]reservation.Link, error) {
	history, err := c.history(ctx, env.TenantID, target.ref.ID)
	if err != nil {
		return nil, err
	}
	prefix := command.CascadeCorrelation(stage.CancelPrefix, "")

	var (
		released []reservation.Link
		errs     []error
	)
	for _, evt := range history {
		if !strings.HasPrefix(evt.CorrelationID, prefix) {
			continue
		}
		if evt.Type != event.TypeReleased && evt.Type != event.TypeAllocationReleased {
			continue
		}
		var payload stage.LinkPayload
		if err := evt.Decode(&payload); err != nil {
			errs = append(errs, err)
			continue
		}
		link, err := c.cascade(ctx, env, target, evt, payload)
		if err != nil {
			c.logger(ctx).Warn("cancel cascade step failed",
				zap.String("aggregate_id", target.ref.ID),
				zap.String("link_id", payload.LinkID),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		released = append(released, link)
	}
	return released, errors.Join(errs...)
}

func (c *Coordinator) cascade(ctx context.Context, env Envelope, target side, evt event.Event, payload stage.LinkPayload) (reservation.Link, error) {
	counterpart, err := resolve(payload.Counterparty, "counterparty")
	if err != nil {
		return reservation.Link{}, err
	}
	link := reservation.Link{
		ID:            payload.LinkID,
		TenantID:      env.TenantID,
		Kind:          reservation.KindReservation,
		Quantity:      payload.Quantity,
		Unit:          payload.Unit,
		Status:        reservation.StatusHeld,
		CorrelationID: evt.CorrelationID,
		CreatedAt:     evt.Timestamp,
		UpdatedAt:     evt.Timestamp,
	}
	// The cancelled aggregate was the supply when it released a hold.
	if evt.Type == event.TypeReleased {
		link.Supply, link.Demand = target.ref, counterpart.ref
	} else {
		link.Supply, link.Demand = counterpart.ref, target.ref
	}
	stored, err := c.Links.GetLink(ctx, env.TenantID, payload.LinkID)
	switch {
	case err == nil:
		link = stored
	case !apperrors.HasCode(err, apperrors.CodeNotFound):
		return reservation.Link{}, err
	}

	if !counterpart.ref.IsExternal() {
		typ := counterpart.vocabulary.ReleaseAllocation
		open := allocationOpen(payload.LinkID)
		if evt.Type == event.TypeAllocationReleased {
			typ = counterpart.vocabulary.Release
			open = holdOpen(payload.LinkID)
		}
		cascadeEnv := Envelope{TenantID: env.TenantID, ActorRole: env.ActorRole, CorrelationID: evt.CausationID}
		if _, err := c.settle(ctx, cascadeEnv, counterpart, typ, evt.CorrelationID,
			stage.LinkPayload{LinkID: payload.LinkID, Reason: payload.Reason}, open); err != nil {
			return reservation.Link{}, err
		}
	}

	next, err := link.Transition(reservation.StatusReleased, evt.Timestamp)
	if err != nil {
		return reservation.Link{}, linkTransitionError(link, err)
	}
	if next.Status != link.Status {
		if err := c.putLink(ctx, next); err != nil {
			return reservation.Link{}, err
		}
	}
	return next, nil
}

// history returns an aggregate's full event history in order.
func (c *Coordinator) history(ctx context.Context, tenantID, aggregateID string) ([]event.Event, error) {
	const pageSize = 200
	var (
		out   []event.Event
		after uint64
	)
	for {
		page, err := c.Events.ListEvents(ctx, tenantID, aggregateID, after, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		after = page[len(page)-1].Seq
	}
}
