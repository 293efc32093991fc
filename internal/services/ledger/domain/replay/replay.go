// Package replay rebuilds aggregate state by paging through stored events.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

const defaultPageSize = 200

var (
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New("event store is required")
	// ErrApplierRequired indicates a missing applier.
	ErrApplierRequired = errors.New("applier is required")
	// ErrTenantIDRequired indicates a missing tenant id.
	ErrTenantIDRequired = errors.New("tenant id is required")
	// ErrAggregateIDRequired indicates a missing aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrSequenceGap indicates a hole in an aggregate's event sequence.
	ErrSequenceGap = errors.New("event sequence gap")
)

// EventStore lists an aggregate's events for replay.
type EventStore interface {
	ListEvents(ctx context.Context, tenantID, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error)
}

// Applier applies a domain event to aggregate state.
type Applier interface {
	Apply(state any, evt event.Event) (any, error)
}

// Options configures replay behavior.
type Options struct {
	AfterSeq uint64
	UntilSeq uint64
	PageSize int
}

// Result captures replay outcomes.
type Result struct {
	State   any
	LastSeq uint64
	Applied int
}

// Replay applies an aggregate's events after options.AfterSeq to state, in
// order, failing on the first sequence gap.
func Replay(ctx context.Context, store EventStore, applier Applier, tenantID, aggregateID string, state any, options Options) (Result, error) {
	if store == nil {
		return Result{}, ErrEventStoreRequired
	}
	if applier == nil {
		return Result{}, ErrApplierRequired
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Result{}, ErrTenantIDRequired
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return Result{}, ErrAggregateIDRequired
	}

	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{State: state, LastSeq: options.AfterSeq}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		events, err := store.ListEvents(ctx, tenantID, aggregateID, result.LastSeq, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			if options.UntilSeq > 0 && evt.Seq > options.UntilSeq {
				return result, nil
			}
			expectedSeq := result.LastSeq + 1
			if evt.Seq != expectedSeq {
				return result, fmt.Errorf("%w: %s expected %d got %d", ErrSequenceGap, aggregateID, expectedSeq, evt.Seq)
			}
			nextState, err := applier.Apply(result.State, evt)
			if err != nil {
				return result, err
			}
			result.State = nextState
			result.LastSeq = evt.Seq
			result.Applied++
		}
		if len(events) < pageSize {
			return result, nil
		}
	}
}
