package coordinator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/platform/id"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

// ReserveRequest holds quantity on a supply for a demand.
type ReserveRequest struct {
	Envelope
	Supply    reservation.Ref
	Demand    reservation.Ref
	Quantity  decimal.Decimal
	Reference string
}

// LinkRequest addresses an existing link.
type LinkRequest struct {
	Envelope
	LinkID string
	Reason string
}

// LinkResult is the outcome of a link operation.
type LinkResult struct {
	Link   reservation.Link
	Supply engine.Result
	// Demand is empty for external demands and skipped steps.
	Demand engine.Result
	// Replayed reports that the link already had the requested outcome.
	Replayed bool
}

// Reserve holds req.Quantity on the supply for the demand. The link id is
// derived from the tenant and correlation id, so a retry lands on the same
// link. A correlation id that already opened a different link is rejected.
func (c *Coordinator) Reserve(ctx context.Context, req ReserveRequest) (result LinkResult, err error) {
	ctx, done := c.trace(ctx, "Reserve", req.Envelope)
	defer func() { done(&err) }()

	if err := req.validate(); err != nil {
		return LinkResult{}, err
	}
	supply, err := resolve(req.Supply, "supply")
	if err != nil {
		return LinkResult{}, err
	}
	demand, err := resolve(req.Demand, "demand")
	if err != nil {
		return LinkResult{}, err
	}
	if err := requirePair(supply.ref, demand.ref, true); err != nil {
		return LinkResult{}, err
	}
	if err := quantity.RequirePositive("quantity", req.Quantity); err != nil {
		return LinkResult{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
	}

	linkID := id.LinkID(req.TenantID, string(reservation.KindReservation), req.CorrelationID)
	supplyCore, err := c.core(ctx, req.TenantID, supply)
	if err != nil {
		return LinkResult{}, err
	}
	supplyPayload := stage.LinkPayload{
		LinkID:       linkID,
		Counterparty: demand.ref,
		Quantity:     req.Quantity,
		Reference:    req.Reference,
	}
	supplyCmd, err := c.step(req.Envelope, supply, supply.vocabulary.Reserve, req.CorrelationID, supplyPayload)
	if err != nil {
		return LinkResult{}, err
	}
	var demandCmd command.Command
	if !demand.ref.IsExternal() {
		demandCmd, err = c.step(req.Envelope, demand, demand.vocabulary.Allocate, req.CorrelationID, stage.LinkPayload{
			LinkID:       linkID,
			Counterparty: supply.ref,
			Quantity:     req.Quantity,
			Unit:         string(supplyCore.Unit),
			Reference:    req.Reference,
		})
		if err != nil {
			return LinkResult{}, err
		}
	}

	if err := c.reused(ctx, req.Envelope, reservation.KindReservation, supplyCmd, demandCmd, supplyPayload); err != nil {
		return LinkResult{}, err
	}
	if err := c.preflight(ctx, req.Envelope, supply, supply.vocabulary.Release, supplyCmd, demandCmd); err != nil {
		return LinkResult{}, err
	}

	result.Supply, err = c.Engine.Execute(ctx, supplyCmd)
	if err != nil {
		return LinkResult{}, err
	}
	if demandCmd.Type != "" {
		result.Demand, err = c.Engine.Execute(ctx, demandCmd)
		if err != nil {
			if retryable(err) {
				return result, err
			}
			release, stepErr := c.step(req.Envelope, supply, supply.vocabulary.Release,
				command.CascadeCorrelation(CompensatePrefix, req.CorrelationID),
				stage.LinkPayload{LinkID: linkID, Reason: "compensation: " + string(apperrors.CodeOf(err))})
			if stepErr != nil {
				return result, stepErr
			}
			return LinkResult{}, c.compensate(ctx, "reserve", release, err)
		}
	}
	result.Replayed = result.Supply.Replayed && (demandCmd.Type == "" || result.Demand.Replayed)

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
		Kind:          reservation.KindReservation,
		Supply:        supply.ref,
		Demand:        demand.ref,
		Quantity:      req.Quantity,
		Unit:          string(supplyCore.Unit),
		Status:        reservation.StatusHeld,
		CorrelationID: req.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.putLink(ctx, result.Link); err != nil {
		return result, err
	}
	return result, nil
}

// preflight refuses a correlation that was compensated by undo before and,
// unless the supply step already ran under it, dry-runs the demand step.
func (c *Coordinator) preflight(ctx context.Context, env Envelope, supply side, undo command.Type, supplyCmd, demandCmd command.Command) error {
	if err := c.compensated(ctx, env, supply, undo); err != nil {
		return err
	}
	if demandCmd.Type == "" {
		return nil
	}
	started, err := c.applied(ctx, env.TenantID, supply, supplyCmd.Type, env.CorrelationID)
	if err != nil || started {
		return err
	}
	_, err = c.Engine.Decide(ctx, demandCmd)
	return err
}

// Release returns a held link's quantity to the supply and drops the
// demand's allocation.
func (c *Coordinator) Release(ctx context.Context, req LinkRequest) (result LinkResult, err error) {
	ctx, done := c.trace(ctx, "Release", req.Envelope)
	defer func() { done(&err) }()

	if err := req.validate(); err != nil {
		return LinkResult{}, err
	}
	link, err := c.link(ctx, req.TenantID, req.LinkID)
	if err != nil {
		return LinkResult{}, err
	}
	return c.releaseLink(ctx, req.Envelope, link, req.CorrelationID, req.Reason)
}

// Consume turns a held link into consumption: the supply's reserved
// quantity leaves it and the demand's allocation becomes an input.
func (c *Coordinator) Consume(ctx context.Context, req LinkRequest) (result LinkResult, err error) {
	ctx, done := c.trace(ctx, "Consume", req.Envelope)
	defer func() { done(&err) }()

	if err := req.validate(); err != nil {
		return LinkResult{}, err
	}
	link, err := c.link(ctx, req.TenantID, req.LinkID)
	if err != nil {
		return LinkResult{}, err
	}
	return c.consumeLink(ctx, req.Envelope, link, req.CorrelationID)
}

func (c *Coordinator) releaseLink(ctx context.Context, env Envelope, link reservation.Link, correlationID, reason string) (LinkResult, error) {
	if link.Kind != reservation.KindReservation {
		return LinkResult{}, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("link %s is a %s link", link.ID, link.Kind))
	}
	next, err := link.Transition(reservation.StatusReleased, c.now())
	if err != nil {
		return LinkResult{}, linkTransitionError(link, err)
	}
	if link.Status == reservation.StatusReleased {
		return LinkResult{Link: link, Replayed: true}, nil
	}
	supply, demand, err := linkSides(link)
	if err != nil {
		return LinkResult{}, err
	}

	var result LinkResult
	payload := stage.LinkPayload{LinkID: link.ID, Reason: reason}
	supplyCore, err := c.core(ctx, env.TenantID, supply)
	if err != nil {
		return LinkResult{}, err
	}
	if _, consumed := supplyCore.Ledger.Outputs[link.ID]; consumed {
		return LinkResult{}, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			fmt.Sprintf("link %s was consumed on %s %s", link.ID, supply.ref.Type, supply.ref.ID),
			map[string]string{"LinkID": link.ID})
	}
	if err := c.ending(ctx, env, correlationID, payload, supply, supply.vocabulary.Release, demand, demand.vocabulary.ReleaseAllocation); err != nil {
		return LinkResult{}, err
	}
	if result.Supply, err = c.settle(ctx, env, supply, supply.vocabulary.Release, correlationID, payload, holdOpen(link.ID)); err != nil {
		return result, err
	}
	if !demand.ref.IsExternal() {
		if result.Demand, err = c.settle(ctx, env, demand, demand.vocabulary.ReleaseAllocation, correlationID, payload, allocationOpen(link.ID)); err != nil {
			return result, err
		}
	}
	result.Link = next
	return result, c.putLink(ctx, next)
}

func (c *Coordinator) consumeLink(ctx context.Context, env Envelope, link reservation.Link, correlationID string) (LinkResult, error) {
	if link.Kind != reservation.KindReservation {
		return LinkResult{}, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("link %s is a %s link", link.ID, link.Kind))
	}
	next, err := link.Transition(reservation.StatusConsumed, c.now())
	if err != nil {
		return LinkResult{}, linkTransitionError(link, err)
	}
	if link.Status == reservation.StatusConsumed {
		return LinkResult{Link: link, Replayed: true}, nil
	}
	supply, demand, err := linkSides(link)
	if err != nil {
		return LinkResult{}, err
	}

	var result LinkResult
	payload := stage.LinkPayload{LinkID: link.ID}
	if err := c.ending(ctx, env, correlationID, payload, supply, supply.vocabulary.ConsumeReservation, demand, demand.vocabulary.ConsumeAllocation); err != nil {
		return LinkResult{}, err
	}
	if !demand.ref.IsExternal() {
		demandCmd, err := c.step(env, demand, demand.vocabulary.ConsumeAllocation, correlationID, payload)
		if err != nil {
			return LinkResult{}, err
		}
		started, err := c.applied(ctx, env.TenantID, supply, supply.vocabulary.ConsumeReservation, correlationID)
		if err != nil {
			return LinkResult{}, err
		}
		if !started {
			if _, err := c.Engine.Decide(ctx, demandCmd); err != nil {
				return LinkResult{}, err
			}
		}
	}
	if result.Supply, err = c.settle(ctx, env, supply, supply.vocabulary.ConsumeReservation, correlationID, payload, holdOpen(link.ID)); err != nil {
		return result, err
	}
	if !demand.ref.IsExternal() {
		if result.Demand, err = c.settle(ctx, env, demand, demand.vocabulary.ConsumeAllocation, correlationID, payload, allocationOpen(link.ID)); err != nil {
			return result, err
		}
	}
	result.Link = next
	return result, c.putLink(ctx, next)
}

// ending checks, before either side of a link is appended, that neither
// side spent correlationID on another command.
func (c *Coordinator) ending(ctx context.Context, env Envelope, correlationID string, payload stage.LinkPayload, supply side, supplyType command.Type, demand side, demandType command.Type) error {
	supplyCmd, err := c.step(env, supply, supplyType, correlationID, payload)
	if err != nil {
		return err
	}
	var demandCmd command.Command
	if !demand.ref.IsExternal() {
		if demandCmd, err = c.step(env, demand, demandType, correlationID, payload); err != nil {
			return err
		}
	}
	return c.unclaimed(ctx, supplyCmd, demandCmd)
}

// settle runs one side of a link ending. The command is skipped when the
// link is no longer open on that side and no typ command ended it under
// correlationID, which happens when a cancel cascade got there first.
func (c *Coordinator) settle(ctx context.Context, env Envelope, s side, typ command.Type, correlationID string, payload stage.LinkPayload, open func(stage.Core) bool) (engine.Result, error) {
	cmd, err := c.step(env, s, typ, correlationID, payload)
	if err != nil {
		return engine.Result{}, err
	}
	core, err := c.core(ctx, env.TenantID, s)
	if err != nil {
		return engine.Result{}, err
	}
	if !open(core) {
		ran, err := c.applied(ctx, env.TenantID, s, typ, correlationID)
		if err != nil || !ran {
			return engine.Result{}, err
		}
	}
	return c.Engine.Execute(ctx, cmd)
}

func holdOpen(linkID string) func(stage.Core) bool {
	return func(core stage.Core) bool {
		_, ok := core.Ledger.Holds[linkID]
		return ok
	}
}

func allocationOpen(linkID string) func(stage.Core) bool {
	return func(core stage.Core) bool {
		_, ok := core.Ledger.Allocations[linkID]
		return ok
	}
}

func linkSides(link reservation.Link) (side, side, error) {
	supply, err := resolve(link.Supply, "supply")
	if err != nil {
		return side{}, side{}, err
	}
	demand, err := resolve(link.Demand, "demand")
	if err != nil {
		return side{}, side{}, err
	}
	return supply, demand, nil
}

func linkTransitionError(link reservation.Link, err error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeInvalidTransition, err.Error(),
		map[string]string{"LinkID": link.ID, "Status": string(link.Status)}, err)
}
