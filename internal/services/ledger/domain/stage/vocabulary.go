package stage

import (
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

// Vocabulary names the command types an aggregate uses for each link role.
// An empty type means the aggregate does not play that role.
type Vocabulary struct {
	AggregateType event.AggregateType

	// Supply side.
	Reserve            command.Type
	Release            command.Type
	ConsumeReservation command.Type
	Consume            command.Type
	ReturnInput        command.Type

	// Demand side.
	Allocate          command.Type
	ReleaseAllocation command.Type
	ConsumeAllocation command.Type
	AddInput          command.Type
	RemoveInput       command.Type

	Cancel command.Type
}
