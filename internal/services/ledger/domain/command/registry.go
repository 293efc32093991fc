package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

var (
	// ErrTenantIDRequired indicates a missing tenant id.
	ErrTenantIDRequired = errors.New("tenant id is required")
	// ErrAggregateIDRequired indicates a missing aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrCorrelationIDRequired indicates a missing correlation id.
	ErrCorrelationIDRequired = errors.New("correlation id is required")
	// ErrTypeRequired indicates a missing command type.
	ErrTypeRequired = errors.New("command type is required")
	// ErrTypeUnknown indicates an unregistered command type.
	ErrTypeUnknown = errors.New("command type is not registered")
	// ErrAggregateTypeMismatch indicates a command sent to the wrong aggregate type.
	ErrAggregateTypeMismatch = errors.New("command type does not belong to aggregate type")
	// ErrPayloadInvalid indicates malformed payload JSON.
	ErrPayloadInvalid = errors.New("payload json must be valid")
)

// Type identifies the command type string, e.g. "pallet.reserve".
type Type string

// Command captures the canonical command envelope.
type Command struct {
	TenantID      string
	AggregateType event.AggregateType
	AggregateID   string
	Type          Type
	ActorRole     string
	CorrelationID string
	CausationID   string
	PayloadJSON   []byte
}

// Definition registers metadata for a command type.
type Definition struct {
	Type          Type
	AggregateType event.AggregateType
	// Creates marks the command that brings an aggregate into existence.
	Creates         bool
	ValidatePayload PayloadValidator
}

// PayloadValidator validates a payload JSON document.
type PayloadValidator func(json.RawMessage) error

// Registry stores command definitions and validates commands.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a new command type definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	if _, err := event.ParseAggregateType(string(def.AggregateType)); err != nil {
		return err
	}
	if r.definitions == nil {
		r.definitions = make(map[Type]Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("command type already registered: %s", def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// Definition returns the definition for a command type.
func (r *Registry) Definition(typ Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[typ]
	return def, ok
}

// Types returns every registered command type for an aggregate type.
func (r *Registry) Types(aggregateType event.AggregateType) []Type {
	var out []Type
	for typ, def := range r.definitions {
		if def.AggregateType == aggregateType {
			out = append(out, typ)
		}
	}
	return out
}

// ValidateForDecision validates and normalizes a command before decision handling.
// An empty aggregate type is filled from the command definition.
func (r *Registry) ValidateForDecision(cmd Command) (Command, error) {
	cmd.TenantID = strings.TrimSpace(cmd.TenantID)
	if cmd.TenantID == "" {
		return Command{}, ErrTenantIDRequired
	}
	cmd.AggregateID = strings.TrimSpace(cmd.AggregateID)
	if cmd.AggregateID == "" {
		return Command{}, ErrAggregateIDRequired
	}
	cmd.CorrelationID = strings.TrimSpace(cmd.CorrelationID)
	if cmd.CorrelationID == "" {
		return Command{}, ErrCorrelationIDRequired
	}
	cmd.Type = Type(strings.TrimSpace(string(cmd.Type)))
	if cmd.Type == "" {
		return Command{}, ErrTypeRequired
	}
	def, ok := r.Definition(cmd.Type)
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrTypeUnknown, cmd.Type)
	}
	if cmd.AggregateType == "" {
		cmd.AggregateType = def.AggregateType
	}
	if cmd.AggregateType != def.AggregateType {
		return Command{}, fmt.Errorf("%w: %s on %s", ErrAggregateTypeMismatch, cmd.Type, cmd.AggregateType)
	}
	cmd.ActorRole = strings.TrimSpace(cmd.ActorRole)
	cmd.CausationID = strings.TrimSpace(cmd.CausationID)

	if len(cmd.PayloadJSON) == 0 {
		cmd.PayloadJSON = []byte("{}")
	}
	if !json.Valid(cmd.PayloadJSON) {
		return Command{}, ErrPayloadInvalid
	}
	canonical, err := event.CanonicalJSON(cmd.PayloadJSON)
	if err != nil {
		return Command{}, fmt.Errorf("canonical payload json: %w", err)
	}
	cmd.PayloadJSON = canonical
	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(json.RawMessage(cmd.PayloadJSON)); err != nil {
			return Command{}, fmt.Errorf("payload invalid: %w", err)
		}
	}
	return cmd, nil
}
