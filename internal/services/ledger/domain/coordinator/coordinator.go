// Package coordinator runs the cross-aggregate link protocol: reservations
// held by a supply for a demand, and permanent input consumption from an
// upstream stage into a downstream one.
//
// Every link touches at most two aggregates and each side is appended on its
// own. The coordinator always writes the supply side first and the demand
// side second, after a dry run of the demand side. When the demand side
// rejects after the supply side was appended, the supply side is compensated
// under a correlation id derived from the original one. Transient failures
// are not compensated: the caller retries with the same correlation id and
// every step replays or completes.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/platform/logging"
	platformotel "github.com/kilnline/ledger/internal/platform/otel"
	"github.com/kilnline/ledger/internal/platform/telemetry/metrics"
	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

// CompensatePrefix prefixes the correlation id of a compensating command.
const CompensatePrefix = "compensate"

// Engine executes and dry-runs single-aggregate commands.
type Engine interface {
	Execute(ctx context.Context, cmd command.Command) (engine.Result, error)
	Decide(ctx context.Context, cmd command.Command) (engine.Result, error)
	Load(ctx context.Context, tenantID string, aggregateType event.AggregateType, aggregateID string) (any, uint64, error)
}

// Coordinator drives link operations across aggregates.
type Coordinator struct {
	Engine Engine
	Events storage.EventStore
	Links  storage.LinkStore
	// KPI receives dispatched shipments; nil skips the rollup.
	KPI     storage.KPIStore
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// Envelope carries the caller identity shared by every request.
type Envelope struct {
	TenantID      string
	ActorRole     string
	CorrelationID string
}

func (e Envelope) validate() error {
	if strings.TrimSpace(e.TenantID) == "" {
		return apperrors.New(apperrors.CodeValidation, "tenant id is required")
	}
	if strings.TrimSpace(e.CorrelationID) == "" {
		return apperrors.New(apperrors.CodeValidation, "correlation id is required")
	}
	return nil
}

// side is one aggregate taking part in a link.
type side struct {
	ref        reservation.Ref
	vocabulary stage.Vocabulary
}

func resolve(ref reservation.Ref, role string) (side, error) {
	ref = ref.Normalize()
	if ref.ID == "" || ref.Type == "" {
		return side{}, apperrors.New(apperrors.CodeValidation, role+" is required")
	}
	if ref.IsExternal() {
		return side{ref: ref}, nil
	}
	vocabulary, err := aggregate.VocabularyFor(event.AggregateType(ref.Type))
	if err != nil {
		return side{}, apperrors.Wrap(apperrors.CodeValidation, fmt.Sprintf("%s: %v", role, err), err)
	}
	return side{ref: ref, vocabulary: vocabulary}, nil
}

func (s side) aggregateType() event.AggregateType {
	return event.AggregateType(s.ref.Type)
}

// step builds one command on a link side. Commands keyed by a correlation
// other than the envelope's record the envelope's as their cause.
func (c *Coordinator) step(env Envelope, s side, typ command.Type, correlationID string, payload any) (command.Command, error) {
	if typ == "" {
		return command.Command{}, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("%s %s does not take part in this link role", s.ref.Type, s.ref.ID))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return command.Command{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	cmd := command.Command{
		TenantID:      env.TenantID,
		AggregateType: s.aggregateType(),
		AggregateID:   s.ref.ID,
		Type:          typ,
		ActorRole:     env.ActorRole,
		CorrelationID: correlationID,
		PayloadJSON:   raw,
	}
	if correlationID != env.CorrelationID {
		cmd.CausationID = env.CorrelationID
	}
	return cmd, nil
}

// core loads the shared stage core of a link side.
func (c *Coordinator) core(ctx context.Context, tenantID string, s side) (stage.Core, error) {
	state, _, err := c.Engine.Load(ctx, tenantID, s.aggregateType(), s.ref.ID)
	if err != nil {
		return stage.Core{}, err
	}
	return engine.Core(s.aggregateType(), state)
}

// applied reports whether s already stored events of a typ command under
// correlationID.
func (c *Coordinator) applied(ctx context.Context, tenantID string, s side, typ command.Type, correlationID string) (bool, error) {
	stored, err := c.Events.ListEventsByCorrelation(ctx, tenantID, s.ref.ID, correlationID)
	if err != nil {
		return false, err
	}
	return len(command.AppendedBy(stored, typ)) > 0, nil
}

// storedLink returns the link payload a typ command stored on s under
// correlationID, if any.
func (c *Coordinator) storedLink(ctx context.Context, tenantID string, s side, typ command.Type, correlationID string) (stage.LinkPayload, bool, error) {
	stored, err := c.Events.ListEventsByCorrelation(ctx, tenantID, s.ref.ID, correlationID)
	if err != nil {
		return stage.LinkPayload{}, false, err
	}
	payloads := linkEvents(command.AppendedBy(stored, typ))
	if len(payloads) == 0 {
		return stage.LinkPayload{}, false, nil
	}
	return payloads[0], true, nil
}

// unclaimed fails when the correlation id of one of cmds is already spent
// on its aggregate by a command of another type. Commands without a type
// are skipped.
func (c *Coordinator) unclaimed(ctx context.Context, cmds ...command.Command) error {
	for _, cmd := range cmds {
		if cmd.Type == "" {
			continue
		}
		stored, err := c.Events.ListEventsByCorrelation(ctx, cmd.TenantID, cmd.AggregateID, cmd.CorrelationID)
		if err != nil {
			return err
		}
		if len(stored) > 0 && len(command.AppendedBy(stored, cmd.Type)) == 0 {
			return command.CorrelationReused(cmd, stored[0].Command)
		}
	}
	return nil
}

// reused fails when the envelope's correlation id already opened another
// link: a stored link between other sides, or a supply step recorded for
// another counterparty or quantity. Either side's correlation id may also
// be spent by an unrelated command.
func (c *Coordinator) reused(ctx context.Context, env Envelope, kind reservation.Kind, supplyCmd, demandCmd command.Command, want stage.LinkPayload) error {
	supply := reservation.Ref{Type: string(supplyCmd.AggregateType), ID: supplyCmd.AggregateID}
	link, err := c.Links.GetLink(ctx, env.TenantID, want.LinkID)
	switch {
	case err == nil:
		if link.Kind != kind || link.Supply.Normalize() != supply || link.Demand.Normalize() != want.Counterparty.Normalize() {
			return linkReused(env, link.ID)
		}
	case !apperrors.HasCode(err, apperrors.CodeNotFound):
		return err
	}

	if err := c.unclaimed(ctx, supplyCmd, demandCmd); err != nil {
		return err
	}

	stored, ok, err := c.storedLink(ctx, env.TenantID, side{ref: supply}, supplyCmd.Type, env.CorrelationID)
	if err != nil || !ok {
		return err
	}
	if stored.Counterparty.Normalize() != want.Counterparty.Normalize() || !stored.Quantity.Equal(want.Quantity) {
		return linkReused(env, stored.LinkID)
	}
	return nil
}

func linkReused(env Envelope, linkID string) error {
	return apperrors.WithMetadata(apperrors.CodeValidation,
		fmt.Sprintf("correlation id %s already used by link %s", env.CorrelationID, linkID),
		map[string]string{
			"Field":         "correlation_id",
			"CorrelationID": env.CorrelationID,
			"LinkID":        linkID,
		})
}

// compensated fails when a compensation was appended to s for the
// envelope's correlation id, so a retried operation cannot undo it.
func (c *Coordinator) compensated(ctx context.Context, env Envelope, s side, undo command.Type) error {
	done, err := c.applied(ctx, env.TenantID, s, undo, command.CascadeCorrelation(CompensatePrefix, env.CorrelationID))
	if err != nil {
		return err
	}
	if done {
		return apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			fmt.Sprintf("correlation %s was compensated on %s %s", env.CorrelationID, s.ref.Type, s.ref.ID),
			map[string]string{"AggregateID": s.ref.ID, "CorrelationID": env.CorrelationID})
	}
	return nil
}

// compensate runs cmd as the undo of a supply step and returns cause,
// joined with the compensation failure if any.
func (c *Coordinator) compensate(ctx context.Context, operation string, cmd command.Command, cause error) error {
	c.Metrics.Compensation(operation)
	logger := c.logger(ctx).With(
		zap.String("operation", operation),
		zap.String("aggregate_id", cmd.AggregateID),
		zap.String("correlation_id", cmd.CorrelationID),
		zap.NamedError("cause", cause),
	)
	if _, err := c.Engine.Execute(ctx, cmd); err != nil {
		logger.Error("compensation failed", zap.Error(err))
		return fmt.Errorf("%w (compensation failed: %v)", cause, err)
	}
	logger.Info("compensated supply step")
	return cause
}

// link returns the stored link for linkID.
func (c *Coordinator) link(ctx context.Context, tenantID, linkID string) (reservation.Link, error) {
	if strings.TrimSpace(linkID) == "" {
		return reservation.Link{}, apperrors.New(apperrors.CodeValidation, "link id is required")
	}
	link, err := c.Links.GetLink(ctx, tenantID, linkID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return reservation.Link{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				fmt.Sprintf("link %s not found", linkID), map[string]string{"LinkID": linkID})
		}
		return reservation.Link{}, err
	}
	return link, nil
}

func (c *Coordinator) putLink(ctx context.Context, link reservation.Link) error {
	if err := c.Links.PutLink(ctx, link); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeUnknown {
			return storage.StorageError("put link", err)
		}
		return err
	}
	return nil
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Coordinator) logger(ctx context.Context) *zap.Logger {
	return logging.With(ctx, c.Logger)
}

// trace starts the span of a coordinator operation. The returned func ends
// it, recording err.
func (c *Coordinator) trace(ctx context.Context, operation string, env Envelope) (context.Context, func(*error)) {
	ctx, span := platformotel.Tracer().Start(ctx, "ledger.coordinator."+operation, trace.WithAttributes(
		attribute.String("ledger.tenant_id", env.TenantID),
		attribute.String("ledger.correlation_id", env.CorrelationID),
	))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
			c.logger(ctx).Info("coordinated operation failed",
				zap.String("operation", operation),
				zap.String("tenant_id", env.TenantID),
				zap.String("correlation_id", env.CorrelationID),
				zap.String("code", string(apperrors.CodeOf(*errp))),
				zap.Error(*errp))
		}
		span.End()
	}
}

// retryable reports whether err leaves the operation to be retried with the
// same correlation id rather than compensated.
func retryable(err error) bool {
	return apperrors.CodeOf(err).Retryable()
}

func linkEvents(events []event.Event) []stage.LinkPayload {
	var out []stage.LinkPayload
	for _, evt := range events {
		var payload stage.LinkPayload
		if err := evt.Decode(&payload); err != nil || payload.LinkID == "" {
			continue
		}
		out = append(out, payload)
	}
	return out
}
