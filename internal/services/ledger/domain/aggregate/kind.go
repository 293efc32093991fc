// Package aggregate dispatches folds, decisions and balances to the stage
// aggregate that owns an event or command.
//
// Each stage package works on its own concrete State. The engine, replay and
// the snapshot cache handle states as values of type any, so this package
// holds the closed table that maps an aggregate type to its typed functions.
package aggregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/balance"
	"github.com/kilnline/ledger/internal/services/ledger/domain/batch"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/invoice"
	"github.com/kilnline/ledger/internal/services/ledger/domain/pallet"
	"github.com/kilnline/ledger/internal/services/ledger/domain/payment"
	"github.com/kilnline/ledger/internal/services/ledger/domain/run"
	"github.com/kilnline/ledger/internal/services/ledger/domain/shipment"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stockpile"
)

// ErrUnknownAggregateType indicates an aggregate type with no kind.
var ErrUnknownAggregateType = errors.New("unknown aggregate type")

// Kind binds one aggregate type to its stage functions.
type Kind struct {
	Type       event.AggregateType
	Vocabulary stage.Vocabulary

	// New returns the empty state for an aggregate id.
	New func(id string) any
	// Apply folds one event strictly. A nil state starts from New.
	Apply func(state any, evt event.Event) (any, error)
	// Decide evaluates a command. A nil state starts from New.
	Decide func(state any, cmd command.Command, now func() time.Time) (command.Decision, error)
	// Balance returns the stage balance snapshot.
	Balance func(state any) (balance.Snapshot, error)
	// Core returns the shared stage core of a state.
	Core func(state any) (stage.Core, error)

	RegisterCommands func(*command.Registry) error
	RegisterEvents   func(*event.Registry) error
}

// stageFuncs is the typed surface every stage package exposes.
type stageFuncs[S any] struct {
	vocabulary stage.Vocabulary
	newState   func(string) S
	apply      func(S, event.Event) (S, error)
	decide     func(S, command.Command, func() time.Time) command.Decision
	balance    func(S) balance.Snapshot
	core       func(S) stage.Core
	commands   func(*command.Registry) error
	events     func(*event.Registry) error
}

func define[S any](fns stageFuncs[S]) Kind {
	typ := fns.vocabulary.AggregateType
	load := func(state any, id string) (S, error) {
		if state == nil {
			return fns.newState(id), nil
		}
		return AssertState[S](state)
	}
	return Kind{
		Type:       typ,
		Vocabulary: fns.vocabulary,
		New:        func(id string) any { return fns.newState(id) },
		Apply: func(state any, evt event.Event) (any, error) {
			current, err := load(state, evt.AggregateID)
			if err != nil {
				return state, err
			}
			return fns.apply(current, evt)
		},
		Decide: func(state any, cmd command.Command, now func() time.Time) (command.Decision, error) {
			current, err := load(state, cmd.AggregateID)
			if err != nil {
				return command.Decision{}, err
			}
			return fns.decide(current, cmd, now), nil
		},
		Balance: func(state any) (balance.Snapshot, error) {
			current, err := AssertState[S](state)
			if err != nil {
				return balance.Snapshot{}, err
			}
			return fns.balance(current), nil
		},
		Core: func(state any) (stage.Core, error) {
			current, err := AssertState[S](state)
			if err != nil {
				return stage.Core{}, err
			}
			return fns.core(current), nil
		},
		RegisterCommands: fns.commands,
		RegisterEvents:   fns.events,
	}
}

var kinds = []Kind{
	define(stageFuncs[stockpile.State]{
		vocabulary: stockpile.Vocabulary,
		newState:   stockpile.NewState,
		apply:      stockpile.Apply,
		decide:     stockpile.Decide,
		balance:    stockpile.Balance,
		core:       func(s stockpile.State) stage.Core { return s.Core },
		commands:   stockpile.RegisterCommands,
		events:     stockpile.RegisterEvents,
	}),
	define(stageFuncs[run.State]{
		vocabulary: run.Vocabulary,
		newState:   run.NewState,
		apply:      run.Apply,
		decide:     run.Decide,
		balance:    run.Balance,
		core:       func(s run.State) stage.Core { return s.Core },
		commands:   run.RegisterCommands,
		events:     run.RegisterEvents,
	}),
	define(stageFuncs[batch.State]{
		vocabulary: batch.Vocabulary,
		newState:   batch.NewState,
		apply:      batch.Apply,
		decide:     batch.Decide,
		balance:    batch.Balance,
		core:       func(s batch.State) stage.Core { return s.Core },
		commands:   batch.RegisterCommands,
		events:     batch.RegisterEvents,
	}),
	define(stageFuncs[pallet.State]{
		vocabulary: pallet.Vocabulary,
		newState:   pallet.NewState,
		apply:      pallet.Apply,
		decide:     pallet.Decide,
		balance:    pallet.Balance,
		core:       func(s pallet.State) stage.Core { return s.Core },
		commands:   pallet.RegisterCommands,
		events:     pallet.RegisterEvents,
	}),
	define(stageFuncs[shipment.State]{
		vocabulary: shipment.Vocabulary,
		newState:   shipment.NewState,
		apply:      shipment.Apply,
		decide:     shipment.Decide,
		balance:    shipment.Balance,
		core:       func(s shipment.State) stage.Core { return s.Core },
		commands:   shipment.RegisterCommands,
		events:     shipment.RegisterEvents,
	}),
	define(stageFuncs[invoice.State]{
		vocabulary: invoice.Vocabulary,
		newState:   invoice.NewState,
		apply:      invoice.Apply,
		decide:     invoice.Decide,
		balance:    invoice.Balance,
		core:       func(s invoice.State) stage.Core { return s.Core },
		commands:   invoice.RegisterCommands,
		events:     invoice.RegisterEvents,
	}),
	define(stageFuncs[payment.State]{
		vocabulary: payment.Vocabulary,
		newState:   payment.NewState,
		apply:      payment.Apply,
		decide:     payment.Decide,
		balance:    payment.Balance,
		core:       func(s payment.State) stage.Core { return s.Core },
		commands:   payment.RegisterCommands,
		events:     payment.RegisterEvents,
	}),
}

// Kinds returns every aggregate kind in pipeline order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// Lookup returns the kind for an aggregate type.
func Lookup(typ event.AggregateType) (Kind, error) {
	for _, kind := range kinds {
		if kind.Type == typ {
			return kind, nil
		}
	}
	return Kind{}, fmt.Errorf("%w: %q", ErrUnknownAggregateType, typ)
}

// VocabularyFor returns the link role table of an aggregate type.
func VocabularyFor(typ event.AggregateType) (stage.Vocabulary, error) {
	kind, err := Lookup(typ)
	if err != nil {
		return stage.Vocabulary{}, err
	}
	return kind.Vocabulary, nil
}

// RegisterAll registers every stage's commands and events.
func RegisterAll(commands *command.Registry, events *event.Registry) error {
	for _, kind := range kinds {
		if err := kind.RegisterCommands(commands); err != nil {
			return fmt.Errorf("register %s commands: %w", kind.Type, err)
		}
		if err := kind.RegisterEvents(events); err != nil {
			return fmt.Errorf("register %s events: %w", kind.Type, err)
		}
	}
	return nil
}

// Registries builds command and event registries holding every stage.
func Registries() (*command.Registry, *event.Registry, error) {
	commands := command.NewRegistry()
	events := event.NewRegistry()
	if err := RegisterAll(commands, events); err != nil {
		return nil, nil, err
	}
	return commands, events, nil
}
