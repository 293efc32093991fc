package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/platform/id"
	"github.com/kilnline/ledger/internal/platform/logging"
	platformotel "github.com/kilnline/ledger/internal/platform/otel"
	"github.com/kilnline/ledger/internal/platform/telemetry/metrics"
	"github.com/kilnline/ledger/internal/platform/timeouts"
	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/checkpoint"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/replay"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

const defaultMaxAttempts = 3

var (
	// ErrCommandRegistryRequired indicates a missing command registry.
	ErrCommandRegistryRequired = errors.New("command registry is required")
	// ErrEventRegistryRequired indicates a missing event registry.
	ErrEventRegistryRequired = errors.New("event registry is required")
	// ErrStoreRequired indicates a missing event store.
	ErrStoreRequired = errors.New("event store is required")
)

// EventStore is the journal surface the engine needs.
type EventStore interface {
	replay.EventStore
	AppendEvents(ctx context.Context, req storage.AppendRequest) (storage.AppendResult, error)
	ListEventsByCorrelation(ctx context.Context, tenantID, aggregateID, correlationID string) ([]event.Event, error)
}

// SnapshotStore loads and saves folded state keyed by tenant and aggregate.
type SnapshotStore interface {
	GetState(ctx context.Context, tenantID, aggregateID string) (state any, lastSeq uint64, err error)
	SaveState(ctx context.Context, tenantID, aggregateID string, lastSeq uint64, state any) error
}

// Handler validates, decides and appends commands.
type Handler struct {
	Commands  *command.Registry
	Events    *event.Registry
	Store     EventStore
	Snapshots SnapshotStore
	// Locks serializes commands per aggregate; nil relies on the append
	// version check alone.
	Locks *KeyedMutex
	// IDs assigns event ids; nil leaves them to the store.
	IDs     *id.EventIDs
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
	// MaxAttempts bounds decide and append rounds on version conflicts.
	MaxAttempts int
	// Backoff is the base delay between rounds; zero uses the default.
	Backoff time.Duration
}

// Result captures an executed command.
type Result struct {
	Decision command.Decision
	// Events are the stored events, with sequence and integrity fields.
	Events  []event.Event
	State   any
	Version uint64
	// Replayed reports that the command had already been applied under its
	// correlation id and nothing new was appended.
	Replayed bool
}

// Execute runs cmd to completion. Rejections return the Decision and a
// coded *errors.Error.
func (h *Handler) Execute(ctx context.Context, cmd command.Command) (Result, error) {
	start := time.Now()
	ctx, span := platformotel.Tracer().Start(ctx, "ledger.engine.Execute", trace.WithAttributes(
		attribute.String("ledger.tenant_id", cmd.TenantID),
		attribute.String("ledger.aggregate_id", cmd.AggregateID),
		attribute.String("ledger.command", string(cmd.Type)),
	))
	defer span.End()

	result, err := h.execute(ctx, cmd)

	outcome := metrics.ResultAccepted
	switch {
	case err != nil && result.Decision.Rejected():
		outcome = metrics.ResultRejected
	case err != nil:
		outcome = metrics.ResultError
	case result.Replayed:
		outcome = metrics.ResultReplayed
	}
	elapsed := time.Since(start)
	h.Metrics.ObserveCommand(string(cmd.AggregateType), string(cmd.Type), outcome, elapsed)
	span.SetAttributes(attribute.String("ledger.result", outcome))

	logger := h.logger(ctx).With(
		zap.String("tenant_id", cmd.TenantID),
		zap.String("aggregate_id", cmd.AggregateID),
		zap.String("command", string(cmd.Type)),
		zap.String("correlation_id", cmd.CorrelationID),
		zap.String("result", outcome),
		zap.Duration("elapsed", elapsed),
	)
	switch outcome {
	case metrics.ResultError:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("command failed", zap.Error(err), zap.String("code", string(apperrors.CodeOf(err))))
	case metrics.ResultRejected:
		logger.Info("command rejected", zap.String("code", string(apperrors.CodeOf(err))), zap.String("reason", err.Error()))
	default:
		logger.Debug("command executed", zap.Uint64("version", result.Version), zap.Int("events", len(result.Events)))
	}
	return result, err
}

func (h *Handler) execute(ctx context.Context, cmd command.Command) (Result, error) {
	cmd, err := h.validate(cmd)
	if err != nil {
		return Result{}, err
	}
	if h.Store == nil {
		return Result{}, ErrStoreRequired
	}

	if h.Locks != nil {
		unlock, err := h.Locks.Lock(ctx, cmd.TenantID+"/"+cmd.AggregateID)
		if err != nil {
			return Result{}, err
		}
		defer unlock()
	}

	if result, ok, err := h.replayed(ctx, cmd); err != nil || ok {
		return result, err
	}

	maxAttempts := h.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	for attempt := 1; ; attempt++ {
		state, version, err := h.Load(ctx, cmd.TenantID, cmd.AggregateType, cmd.AggregateID)
		if err != nil {
			return Result{}, err
		}
		decision, err := h.decide(state, cmd)
		if err != nil {
			return Result{Decision: decision}, err
		}
		events, err := h.prepare(decision.Events)
		if err != nil {
			return Result{}, err
		}

		appended, err := h.Store.AppendEvents(ctx, storage.AppendRequest{
			TenantID:        cmd.TenantID,
			AggregateID:     cmd.AggregateID,
			AggregateType:   cmd.AggregateType,
			ExpectedVersion: version,
			Events:          events,
		})
		if apperrors.HasCode(err, apperrors.CodeConcurrencyConflict) {
			h.Metrics.AppendConflict(string(cmd.AggregateType))
			if attempt < maxAttempts {
				if err := h.sleep(ctx, attempt); err != nil {
					return Result{}, err
				}
				continue
			}
		}
		if err != nil {
			return Result{}, err
		}
		if appended.Replayed {
			return h.replayResult(ctx, cmd, appended.Events)
		}

		next := state
		for _, evt := range appended.Events {
			next, err = aggregate.Applier{}.Apply(next, evt)
			if err != nil {
				return Result{}, err
			}
		}
		h.saveSnapshot(ctx, cmd, appended.Version, next)
		decision.Events = appended.Events
		return Result{
			Decision: decision,
			Events:   appended.Events,
			State:    next,
			Version:  appended.Version,
		}, nil
	}
}

// Decide evaluates cmd against current state without appending. A rejection
// returns the Decision and a coded error.
func (h *Handler) Decide(ctx context.Context, cmd command.Command) (Result, error) {
	cmd, err := h.validate(cmd)
	if err != nil {
		return Result{}, err
	}
	if h.Store == nil {
		return Result{}, ErrStoreRequired
	}
	state, version, err := h.Load(ctx, cmd.TenantID, cmd.AggregateType, cmd.AggregateID)
	if err != nil {
		return Result{}, err
	}
	decision, err := h.decide(state, cmd)
	if err != nil {
		return Result{Decision: decision, State: state, Version: version}, err
	}
	if _, err := h.prepare(decision.Events); err != nil {
		return Result{}, err
	}
	return Result{Decision: decision, State: state, Version: version}, nil
}

// Load rebuilds an aggregate's state from its snapshot and the tail of its
// history. A missing aggregate yields its empty state at version zero.
func (h *Handler) Load(ctx context.Context, tenantID string, aggregateType event.AggregateType, aggregateID string) (any, uint64, error) {
	if h.Store == nil {
		return nil, 0, ErrStoreRequired
	}
	kind, err := aggregate.Lookup(aggregateType)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
	}

	// A nil state lets replay start from the kind of the stored events, so a
	// history of another aggregate type is reported instead of misapplied.
	var state any
	var options replay.Options
	if h.Snapshots != nil {
		cached, seq, err := h.Snapshots.GetState(ctx, tenantID, aggregateID)
		switch {
		case err == nil:
			state = cached
			options.AfterSeq = seq
		case !errors.Is(err, checkpoint.ErrCheckpointNotFound):
			return nil, 0, err
		}
	}

	result, err := replay.Replay(ctx, h.Store, aggregate.Applier{}, tenantID, aggregateID, state, options)
	if err != nil {
		return nil, 0, err
	}
	if result.State == nil {
		result.State = kind.New(aggregateID)
	}
	if _, err := kind.Core(result.State); err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeValidation,
			fmt.Sprintf("aggregate %s is not a %s", aggregateID, aggregateType), err)
	}
	if result.Applied > 0 {
		h.saveSnapshot(ctx, command.Command{TenantID: tenantID, AggregateID: aggregateID}, result.LastSeq, result.State)
	}
	return result.State, result.LastSeq, nil
}

// Core returns the shared stage core of a loaded state.
func Core(aggregateType event.AggregateType, state any) (stage.Core, error) {
	kind, err := aggregate.Lookup(aggregateType)
	if err != nil {
		return stage.Core{}, err
	}
	return kind.Core(state)
}

func (h *Handler) validate(cmd command.Command) (command.Command, error) {
	if h.Commands == nil {
		return command.Command{}, ErrCommandRegistryRequired
	}
	validated, err := h.Commands.ValidateForDecision(cmd)
	if err != nil {
		return command.Command{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
	}
	return validated, nil
}

func (h *Handler) decide(state any, cmd command.Command) (command.Decision, error) {
	decision, err := aggregate.Decider{Now: h.Now}.Decide(state, cmd)
	if err != nil {
		return command.Decision{}, err
	}
	if decision.Rejected() {
		return decision, RejectionError(cmd, decision)
	}
	if len(decision.Events) == 0 {
		return decision, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("%s on %s %s produced no events", cmd.Type, cmd.AggregateType, cmd.AggregateID))
	}
	return decision, nil
}

// prepare validates emitted events and assigns their ids.
func (h *Handler) prepare(events []event.Event) ([]event.Event, error) {
	if h.Events == nil {
		return nil, ErrEventRegistryRequired
	}
	out := make([]event.Event, 0, len(events))
	for _, evt := range events {
		vetted, err := h.Events.ValidateForAppend(evt)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
		}
		if vetted.ID == "" && h.IDs != nil {
			vetted.ID = h.IDs.Next()
		}
		out = append(out, vetted)
	}
	return out, nil
}

// replayed reports a command already applied under its correlation id. A
// correlation id already spent by a command of another type is rejected.
func (h *Handler) replayed(ctx context.Context, cmd command.Command) (Result, bool, error) {
	stored, err := h.Store.ListEventsByCorrelation(ctx, cmd.TenantID, cmd.AggregateID, cmd.CorrelationID)
	if err != nil {
		return Result{}, false, err
	}
	if len(stored) == 0 {
		return Result{}, false, nil
	}
	own := command.AppendedBy(stored, cmd.Type)
	if len(own) == 0 {
		return Result{}, false, command.CorrelationReused(cmd, stored[0].Command)
	}
	result, err := h.replayResult(ctx, cmd, own)
	return result, true, err
}

func (h *Handler) replayResult(ctx context.Context, cmd command.Command, stored []event.Event) (Result, error) {
	state, version, err := h.Load(ctx, cmd.TenantID, cmd.AggregateType, cmd.AggregateID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Decision: command.Accept(stored...),
		Events:   stored,
		State:    state,
		Version:  version,
		Replayed: true,
	}, nil
}

func (h *Handler) saveSnapshot(ctx context.Context, cmd command.Command, seq uint64, state any) {
	if h.Snapshots == nil || seq == 0 {
		return
	}
	if err := h.Snapshots.SaveState(ctx, cmd.TenantID, cmd.AggregateID, seq, state); err != nil {
		h.logger(ctx).Warn("save snapshot",
			zap.String("aggregate_id", cmd.AggregateID),
			zap.Uint64("seq", seq),
			zap.Error(err))
	}
}

func (h *Handler) sleep(ctx context.Context, attempt int) error {
	backoff := h.Backoff
	if backoff <= 0 {
		backoff = timeouts.AppendRetryBackoff
	}
	timer := time.NewTimer(backoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (h *Handler) logger(ctx context.Context) *zap.Logger {
	return logging.With(ctx, h.Logger)
}

// RejectionError turns the first rejection of a decision into a coded error
// that names the command and aggregate.
func RejectionError(cmd command.Command, decision command.Decision) error {
	if !decision.Rejected() {
		return nil
	}
	first := decision.Rejections[0]
	metadata := make(map[string]string, len(first.Metadata)+3)
	for k, v := range first.Metadata {
		metadata[k] = v
	}
	for k, v := range map[string]string{
		"AggregateID":   cmd.AggregateID,
		"AggregateType": string(cmd.AggregateType),
		"Command":       string(cmd.Type),
	} {
		if _, ok := metadata[k]; !ok {
			metadata[k] = v
		}
	}
	code := apperrors.Code(first.Code)
	if code == "" {
		code = apperrors.CodeValidation
	}
	return apperrors.WithMetadata(code, decision.Error(), metadata)
}
