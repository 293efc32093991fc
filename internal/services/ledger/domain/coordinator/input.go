package coordinator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/platform/id"
	"github.com/kilnline/ledger/internal/services/ledger/domain/balance"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// InputRequest moves quantity permanently from an upstream stage into a
// downstream one.
type InputRequest struct {
	Envelope
	Upstream   reservation.Ref
	Downstream reservation.Ref
	Quantity   decimal.Decimal
	Reference  string
}

// RemoveInputRequest gives back part or all of a consumption link. A zero
// quantity returns whatever is left on the link.
type RemoveInputRequest struct {
	Envelope
	LinkID   string
	Quantity decimal.Decimal
	Reason   string
}

// AddInput appends CONSUMED on the upstream and INPUT_ADDED on the
// downstream under the same correlation id. A correlation id that already
// opened a different link is rejected.
func (c *Coordinator) AddInput(ctx context.Context, req InputRequest) (result LinkResult, err error) {
	ctx, done := c.trace(ctx, "AddInput", req.Envelope)
	defer func() { done(&err) }()

	if err := req.validate(); err != nil {
		return LinkResult{}, err
	}
	upstream, err := resolve(req.Upstream, "upstream")
	if err != nil {
		return LinkResult{}, err
	}
	downstream, err := resolve(req.Downstream, "downstream")
	if err != nil {
		return LinkResult{}, err
	}
	if err := requirePair(upstream.ref, downstream.ref, false); err != nil {
		return LinkResult{}, err
	}
	if err := quantity.RequirePositive("quantity", req.Quantity); err != nil {
		return LinkResult{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
	}

	linkID := id.LinkID(req.TenantID, string(reservation.KindConsumption), req.CorrelationID)
	upstreamCore, err := c.core(ctx, req.TenantID, upstream)
	if err != nil {
		return LinkResult{}, err
	}
	upstreamPayload := stage.LinkPayload{
		LinkID:       linkID,
		Counterparty: downstream.ref,
		Quantity:     req.Quantity,
		Reference:    req.Reference,
	}
	upstreamCmd, err := c.step(req.Envelope, upstream, upstream.vocabulary.Consume, req.CorrelationID, upstreamPayload)
	if err != nil {
		return LinkResult{}, err
	}
	downstreamCmd, err := c.step(req.Envelope, downstream, downstream.vocabulary.AddInput, req.CorrelationID, stage.LinkPayload{
		LinkID:       linkID,
		Counterparty: upstream.ref,
		Quantity:     req.Quantity,
		Unit:         string(upstreamCore.Unit),
		Reference:    req.Reference,
	})
	if err != nil {
		return LinkResult{}, err
	}
	if err := c.reused(ctx, req.Envelope, reservation.KindConsumption, upstreamCmd, downstreamCmd, upstreamPayload); err != nil {
		return LinkResult{}, err
	}
	if err := c.preflight(ctx, req.Envelope, upstream, upstream.vocabulary.ReturnInput, upstreamCmd, downstreamCmd); err != nil {
		return LinkResult{}, err
	}

	result.Supply, err = c.Engine.Execute(ctx, upstreamCmd)
	if err != nil {
		return LinkResult{}, err
	}
	result.Demand, err = c.Engine.Execute(ctx, downstreamCmd)
	if err != nil {
		if retryable(err) {
			return result, err
		}
		giveBack, stepErr := c.step(req.Envelope, upstream, upstream.vocabulary.ReturnInput,
			command.CascadeCorrelation(CompensatePrefix, req.CorrelationID),
			stage.LinkPayload{
				LinkID:       linkID,
				Counterparty: downstream.ref,
				Quantity:     req.Quantity,
				Reason:       "compensation: " + string(apperrors.CodeOf(err)),
			})
		if stepErr != nil {
			return result, stepErr
		}
		return LinkResult{}, c.compensate(ctx, "add_input", giveBack, err)
	}
	result.Replayed = result.Supply.Replayed && result.Demand.Replayed

	link, err := c.Links.GetLink(ctx, req.TenantID, linkID)
	switch {
	case err == nil:
		result.Link = link
		return result, nil
	case !apperrors.HasCode(err, apperrors.CodeNotFound):
		return result, err
	}
	now := c.now()
	result.Link = reservation.Link{
		ID:            linkID,
		TenantID:      req.TenantID,
		Kind:          reservation.KindConsumption,
		Supply:        upstream.ref,
		Demand:        downstream.ref,
		Quantity:      req.Quantity,
		Unit:          string(upstreamCore.Unit),
		Status:        reservation.StatusConsumed,
		CorrelationID: req.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return result, c.putLink(ctx, result.Link)
}

// RemoveInput reverses part of a consumption link: INPUT_REMOVED on the
// downstream, then INPUT_RETURNED on the upstream. Both sides are checked
// before either is appended, and the downstream gives the quantity back
// first so the upstream never counts it twice.
func (c *Coordinator) RemoveInput(ctx context.Context, req RemoveInputRequest) (result LinkResult, err error) {
	ctx, done := c.trace(ctx, "RemoveInput", req.Envelope)
	defer func() { done(&err) }()

	if err := req.validate(); err != nil {
		return LinkResult{}, err
	}
	link, err := c.link(ctx, req.TenantID, req.LinkID)
	if err != nil {
		return LinkResult{}, err
	}
	if link.Kind != reservation.KindConsumption {
		return LinkResult{}, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("link %s is a %s link", link.ID, link.Kind))
	}
	upstream, downstream, err := linkSides(link)
	if err != nil {
		return LinkResult{}, err
	}

	stored, removed, err := c.storedLink(ctx, req.TenantID, downstream, downstream.vocabulary.RemoveInput, req.CorrelationID)
	if err != nil {
		return LinkResult{}, err
	}
	amount := req.Quantity
	if removed {
		amount = stored.Quantity
	} else {
		if link.Status == reservation.StatusReturned {
			return LinkResult{Link: link, Replayed: true}, nil
		}
		if amount.IsZero() {
			amount = link.Quantity
		}
		if err := quantity.RequirePositive("quantity", amount); err != nil {
			return LinkResult{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
		}
		if amount.GreaterThan(link.Quantity) {
			return LinkResult{}, apperrors.WithMetadata(apperrors.CodeInsufficientAvailable,
				fmt.Sprintf("link %s: %s requested but only %s left", link.ID,
					quantity.FormatWithUnit(amount, quantity.Unit(link.Unit)),
					quantity.FormatWithUnit(link.Quantity, quantity.Unit(link.Unit))),
				map[string]string{
					"LinkID":    link.ID,
					"Available": link.Quantity.String(),
					"Requested": amount.String(),
					"Unit":      link.Unit,
				})
		}
	}

	downstreamCmd, err := c.step(req.Envelope, downstream, downstream.vocabulary.RemoveInput, req.CorrelationID, stage.LinkPayload{
		LinkID:       link.ID,
		Counterparty: upstream.ref,
		Quantity:     amount,
		Unit:         link.Unit,
		Reason:       req.Reason,
	})
	if err != nil {
		return LinkResult{}, err
	}
	upstreamCmd, err := c.step(req.Envelope, upstream, upstream.vocabulary.ReturnInput, req.CorrelationID, stage.LinkPayload{
		LinkID:       link.ID,
		Counterparty: downstream.ref,
		Quantity:     amount,
		Reason:       req.Reason,
	})
	if err != nil {
		return LinkResult{}, err
	}
	if err := c.unclaimed(ctx, downstreamCmd, upstreamCmd); err != nil {
		return LinkResult{}, err
	}
	if !removed {
		if _, err := c.Engine.Decide(ctx, upstreamCmd); err != nil {
			return LinkResult{}, err
		}
	}

	if result.Demand, err = c.Engine.Execute(ctx, downstreamCmd); err != nil {
		return LinkResult{}, err
	}
	if result.Supply, err = c.Engine.Execute(ctx, upstreamCmd); err != nil {
		return result, err
	}
	result.Replayed = result.Supply.Replayed && result.Demand.Replayed

	// The link keeps what the downstream still holds under it.
	core, err := c.core(ctx, req.TenantID, downstream)
	if err != nil {
		return result, err
	}
	next := link
	if input, ok := core.Ledger.Inputs[link.ID]; ok {
		next.Quantity = input.Quantity
		next.UpdatedAt = c.now()
	} else {
		next.Quantity = decimal.Zero
		if next, err = next.Transition(reservation.StatusReturned, c.now()); err != nil {
			return result, linkTransitionError(link, err)
		}
	}
	result.Link = next
	return result, c.putLink(ctx, next)
}

// InputsBySource groups a downstream aggregate's inputs by upstream source.
func (c *Coordinator) InputsBySource(ctx context.Context, tenantID string, downstream reservation.Ref) ([]balance.SourceTotal, error) {
	if tenantID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "tenant id is required")
	}
	s, err := resolve(downstream, "downstream")
	if err != nil {
		return nil, err
	}
	if s.ref.IsExternal() {
		return nil, apperrors.New(apperrors.CodeValidation, "external orders have no inputs")
	}
	core, err := c.core(ctx, tenantID, s)
	if err != nil {
		return nil, err
	}
	if !core.Created {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("%s %s not found", s.ref.Type, s.ref.ID), map[string]string{"AggregateID": s.ref.ID})
	}
	return core.Ledger.InputsBySource(), nil
}
