package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrTenantIDRequired indicates a missing tenant id.
	ErrTenantIDRequired = errors.New("tenant id is required")
	// ErrAggregateIDRequired indicates a missing aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrAggregateTypeUnknown indicates an aggregate type outside the closed set.
	ErrAggregateTypeUnknown = errors.New("aggregate type is not known")
	// ErrTypeRequired indicates a missing event type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrTypeUnknown indicates an event type not registered for its aggregate.
	ErrTypeUnknown = errors.New("event type is not registered")
	// ErrCorrelationIDRequired indicates a missing correlation id.
	ErrCorrelationIDRequired = errors.New("correlation id is required")
	// ErrTimestampRequired indicates a missing occurrence time.
	ErrTimestampRequired = errors.New("event timestamp is required")
	// ErrPayloadInvalid indicates malformed payload JSON.
	ErrPayloadInvalid = errors.New("payload json must be valid")
)

// PayloadValidator validates a payload JSON document.
type PayloadValidator func(json.RawMessage) error

// Definition registers metadata for an event type on one aggregate type.
type Definition struct {
	AggregateType AggregateType
	Type          Type
	// Creates marks the event that brings an aggregate into existence.
	Creates bool
	// Terminal marks events after which the aggregate accepts no commands.
	Terminal        bool
	ValidatePayload PayloadValidator
}

type definitionKey struct {
	aggregate AggregateType
	typ       Type
}

// Registry stores event definitions and validates events for append.
type Registry struct {
	definitions map[definitionKey]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[definitionKey]Definition)}
}

// Register adds a new event definition.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	if _, err := ParseAggregateType(string(def.AggregateType)); err != nil {
		return err
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	if r.definitions == nil {
		r.definitions = make(map[definitionKey]Definition)
	}
	key := definitionKey{aggregate: def.AggregateType, typ: def.Type}
	if _, exists := r.definitions[key]; exists {
		return fmt.Errorf("event type already registered: %s %s", def.AggregateType, def.Type)
	}
	r.definitions[key] = def
	return nil
}

// Definition returns the definition for an aggregate/event type pair.
func (r *Registry) Definition(aggregateType AggregateType, typ Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[definitionKey{aggregate: aggregateType, typ: typ}]
	return def, ok
}

// Definitions returns the event definitions of an aggregate type ordered
// by event type.
func (r *Registry) Definitions(aggregateType AggregateType) []Definition {
	if r == nil {
		return nil
	}
	var out []Definition
	for key, def := range r.definitions {
		if key.aggregate == aggregateType {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ValidateForAppend validates and normalizes an event before it is appended.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	evt.TenantID = strings.TrimSpace(evt.TenantID)
	if evt.TenantID == "" {
		return Event{}, ErrTenantIDRequired
	}
	evt.AggregateID = strings.TrimSpace(evt.AggregateID)
	if evt.AggregateID == "" {
		return Event{}, ErrAggregateIDRequired
	}
	evt.Type = Type(strings.TrimSpace(string(evt.Type)))
	if evt.Type == "" {
		return Event{}, ErrTypeRequired
	}
	def, ok := r.Definition(evt.AggregateType, evt.Type)
	if !ok {
		return Event{}, fmt.Errorf("%w: %s %s", ErrTypeUnknown, evt.AggregateType, evt.Type)
	}
	evt.CorrelationID = strings.TrimSpace(evt.CorrelationID)
	if evt.CorrelationID == "" {
		return Event{}, ErrCorrelationIDRequired
	}
	if evt.Timestamp.IsZero() {
		return Event{}, ErrTimestampRequired
	}
	evt.Timestamp = evt.Timestamp.UTC()
	evt.ActorRole = strings.TrimSpace(evt.ActorRole)

	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = []byte("{}")
	}
	if !json.Valid(evt.PayloadJSON) {
		return Event{}, ErrPayloadInvalid
	}
	canonical, err := CanonicalJSON(evt.PayloadJSON)
	if err != nil {
		return Event{}, fmt.Errorf("canonical payload json: %w", err)
	}
	evt.PayloadJSON = canonical
	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(json.RawMessage(evt.PayloadJSON)); err != nil {
			return Event{}, fmt.Errorf("payload invalid: %w", err)
		}
	}
	return evt, nil
}

// IsCreate reports whether the event type creates its aggregate.
func (r *Registry) IsCreate(aggregateType AggregateType, typ Type) bool {
	def, ok := r.Definition(aggregateType, typ)
	return ok && def.Creates
}

// IsTerminal reports whether the event type ends its aggregate's lifecycle.
func (r *Registry) IsTerminal(aggregateType AggregateType, typ Type) bool {
	def, ok := r.Definition(aggregateType, typ)
	return ok && def.Terminal
}
