// Package checkpoint caches folded aggregate state with the sequence it was
// folded up to, so loads only replay the tail of a history.
package checkpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrTenantIDRequired indicates a missing tenant id.
	ErrTenantIDRequired = errors.New("tenant id is required")
	// ErrAggregateIDRequired indicates a missing aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrCheckpointNotFound indicates no snapshot exists yet.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

type key struct {
	tenantID    string
	aggregateID string
}

type snapshot struct {
	lastSeq uint64
	state   any
}

// Memory stores snapshots in memory.
//
// Stage states are copy-on-write (every apply clones the ledger), so cached
// values are shared with callers without copying.
type Memory struct {
	mu     sync.Mutex
	states map[key]snapshot
}

// NewMemory creates a new in-memory snapshot store.
func NewMemory() *Memory {
	return &Memory{states: make(map[key]snapshot)}
}

// GetState retrieves a snapshot and its sequence.
func (m *Memory) GetState(ctx context.Context, tenantID, aggregateID string) (any, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if m == nil {
		return nil, 0, errors.New("checkpoint store is required")
	}
	k, err := normalize(tenantID, aggregateID)
	if err != nil {
		return nil, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.states[k]
	if !ok {
		return nil, 0, ErrCheckpointNotFound
	}
	return snap.state, snap.lastSeq, nil
}

// SaveState stores a snapshot. A snapshot older than the stored one is
// ignored so concurrent loads cannot move the cache backwards.
func (m *Memory) SaveState(ctx context.Context, tenantID, aggregateID string, lastSeq uint64, state any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return errors.New("checkpoint store is required")
	}
	k, err := normalize(tenantID, aggregateID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.states[k]; ok && current.lastSeq > lastSeq {
		return nil
	}
	m.states[k] = snapshot{lastSeq: lastSeq, state: state}
	return nil
}

// Invalidate drops a snapshot.
func (m *Memory) Invalidate(tenantID, aggregateID string) {
	if m == nil {
		return
	}
	k, err := normalize(tenantID, aggregateID)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, k)
}

// Len reports how many snapshots are cached.
func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func normalize(tenantID, aggregateID string) (key, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return key{}, ErrTenantIDRequired
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return key{}, ErrAggregateIDRequired
	}
	return key{tenantID: tenantID, aggregateID: aggregateID}, nil
}
