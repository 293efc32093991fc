package aggregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/balance"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

// Applier folds stored events into aggregate state.
//
// Replay and request-time execution use the same strict apply, so a history
// that breaks a balance or lifecycle rule surfaces as an error instead of a
// silently diverging projection.
type Applier struct{}

// Apply folds one event into state. A nil state starts from the empty state
// of the event's aggregate.
func (Applier) Apply(state any, evt event.Event) (any, error) {
	kind, err := Lookup(evt.AggregateType)
	if err != nil {
		return state, err
	}
	next, err := kind.Apply(state, evt)
	if err != nil {
		return state, fmt.Errorf("apply %s %s seq %d on %s: %w", evt.AggregateType, evt.Type, evt.Seq, evt.AggregateID, err)
	}
	return next, nil
}

// Decider routes commands to their stage decider.
type Decider struct {
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Decide evaluates cmd against state. A nil state is the empty state of the
// command's aggregate.
func (d Decider) Decide(state any, cmd command.Command) (command.Decision, error) {
	kind, err := Lookup(cmd.AggregateType)
	if err != nil {
		return command.Decision{}, err
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return kind.Decide(state, cmd, now)
}

// Project folds a full history into state. Every event must belong to the
// same aggregate.
func Project(events []event.Event) (any, error) {
	if len(events) == 0 {
		return nil, errors.New("no events to project")
	}
	first := events[0]
	kind, err := Lookup(first.AggregateType)
	if err != nil {
		return nil, err
	}
	state := kind.New(first.AggregateID)
	for _, evt := range events {
		if evt.AggregateID != first.AggregateID || evt.AggregateType != first.AggregateType {
			return nil, fmt.Errorf("event %s belongs to %s %s, not %s %s",
				evt.ID, evt.AggregateType, evt.AggregateID, first.AggregateType, first.AggregateID)
		}
		state, err = Applier{}.Apply(state, evt)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Balance returns the balance snapshot of a state of the given type.
func Balance(typ event.AggregateType, state any) (balance.Snapshot, error) {
	kind, err := Lookup(typ)
	if err != nil {
		return balance.Snapshot{}, err
	}
	return kind.Balance(state)
}
