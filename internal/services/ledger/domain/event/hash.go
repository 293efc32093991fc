package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// CanonicalJSON re-encodes a JSON document with sorted object keys and no
// insignificant whitespace. Numbers keep their literal text.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after json document")
	}
	// encoding/json sorts map keys and renders json.Number verbatim.
	return json.Marshal(value)
}

type hashEnvelope struct {
	TenantID      string          `json:"tenant_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Type          string          `json:"type"`
	Seq           string          `json:"seq"`
	Timestamp     string          `json:"ts"`
	ActorRole     string          `json:"actor_role,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	Command       string          `json:"command,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHash returns the content hash of an event envelope. Integrity fields
// and the store-assigned ID are excluded.
func EventHash(evt Event) (string, error) {
	payload := evt.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	envelope := hashEnvelope{
		TenantID:      evt.TenantID,
		AggregateID:   evt.AggregateID,
		AggregateType: string(evt.AggregateType),
		Type:          string(evt.Type),
		Seq:           strconv.FormatUint(evt.Seq, 10),
		Timestamp:     evt.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorRole:     evt.ActorRole,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
		Command:       evt.Command,
		Payload:       canonical,
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash links an event hash to the previous chain hash of its aggregate.
func ChainHash(prevChainHash, eventHash string) string {
	sum := sha256.Sum256([]byte(prevChainHash + ":" + eventHash))
	return hex.EncodeToString(sum[:])
}
