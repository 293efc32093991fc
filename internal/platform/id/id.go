// Package id provides identifier generation for aggregates, events and links.
//
// Aggregate ids are UUIDv7 bytes encoded as lowercase base32 (RFC 4648) with
// no padding: 26 characters, URL safe, roughly time ordered. Event ids are
// snowflake ids so they sort by append time within a process. Link ids are
// UUIDv5 values derived from tenant, link kind and correlation id, so a
// retried cross-aggregate command always lands on the same link.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// linkNamespace scopes derived link ids.
var linkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("kilnline.ledger.link"))

// NewID returns a new aggregate identifier.
func NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// LinkID derives the id of a link of kind for a correlation id.
func LinkID(tenantID, kind, correlationID string) string {
	value := uuid.NewSHA1(linkNamespace, []byte(tenantID+"\x00"+kind+"\x00"+correlationID))
	return value.String()
}

// EventIDs generates time-ordered event identifiers.
type EventIDs struct {
	node *snowflake.Node
}

// NewEventIDs creates an event id generator for a snowflake node (0-1023).
func NewEventIDs(node int64) (*EventIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &EventIDs{node: n}, nil
}

// Next returns the next event id.
func (g *EventIDs) Next() string {
	return g.node.Generate().String()
}
