// Package memory provides an in-process ledger store with the same
// semantics as the SQLite store, for tests and ephemeral runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/platform/id"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
	"github.com/kilnline/ledger/internal/services/ledger/storage/cursor"
	"github.com/kilnline/ledger/internal/services/ledger/storage/filter"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var errInjected = errors.New("injected append failure")

type stream struct {
	record    storage.AggregateRecord
	positions []int
}

type linkKey struct {
	tenantID string
	linkID   string
}

type dispatchKey struct {
	tenantID   string
	shipmentID string
}

// Store keeps every record in memory behind one lock.
type Store struct {
	mu      sync.RWMutex
	keyring *integrity.Keyring
	ids     *id.EventIDs
	now     func() time.Time

	journal    []event.Event
	streams    map[string]*stream
	byKey      map[event.Key]int
	links      map[linkKey]reservation.Link
	dispatches map[dispatchKey]storage.DispatchRecord

	// failAppends makes the next n appends fail with a storage error.
	failAppends int
}

// Option configures a Store.
type Option func(*Store)

// WithKeyring signs appended events.
func WithKeyring(keyring *integrity.Keyring) Option {
	return func(s *Store) { s.keyring = keyring }
}

// WithClock overrides the clock used for stream timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	// Node 0 is always within the snowflake node range.
	ids, _ := id.NewEventIDs(0)
	s := &Store{
		ids:        ids,
		now:        time.Now,
		streams:    make(map[string]*stream),
		byKey:      make(map[event.Key]int),
		links:      make(map[linkKey]reservation.Link),
		dispatches: make(map[dispatchKey]storage.DispatchRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNextAppends makes the next n appends fail with STORAGE_ERROR.
func (s *Store) FailNextAppends(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppends = n
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// AppendEvents appends a batch atomically.
func (s *Store) AppendEvents(ctx context.Context, req storage.AppendRequest) (storage.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.AppendResult{}, err
	}
	if err := storage.ValidateAppend(req); err != nil {
		return storage.AppendResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if replayed, ok, err := s.replayLocked(req); err != nil || ok {
		return replayed, err
	}

	var current *storage.AggregateRecord
	str := s.streams[req.AggregateID]
	if str != nil {
		current = &str.record
	}
	if err := storage.CheckStream(current, req); err != nil {
		return storage.AppendResult{}, err
	}
	if s.failAppends > 0 {
		s.failAppends--
		return storage.AppendResult{}, storage.StorageError("append events", errInjected)
	}

	now := s.now().UTC()
	if str == nil {
		str = &stream{record: storage.AggregateRecord{
			TenantID:      req.TenantID,
			AggregateID:   req.AggregateID,
			AggregateType: req.AggregateType,
			CreatedAt:     now,
		}}
	}

	prevChain := ""
	if n := len(str.positions); n > 0 {
		prevChain = s.journal[str.positions[n-1]].ChainHash
	}
	version := str.record.Version
	sealed := make([]event.Event, 0, len(req.Events))
	for _, evt := range req.Events {
		version++
		evt.Seq = version
		if evt.ID == "" {
			evt.ID = s.ids.Next()
		}
		next, err := integrity.Seal(s.keyring, evt, prevChain)
		if err != nil {
			return storage.AppendResult{}, storage.StorageError("seal event", err)
		}
		prevChain = next.ChainHash
		sealed = append(sealed, next)
	}

	for _, evt := range sealed {
		s.journal = append(s.journal, evt)
		pos := len(s.journal) - 1
		str.positions = append(str.positions, pos)
		s.byKey[evt.IdempotencyKey()] = pos
	}
	str.record.Version = version
	str.record.UpdatedAt = now
	s.streams[req.AggregateID] = str

	return storage.AppendResult{Events: sealed, Version: version}, nil
}

// replayLocked returns the stored batch when every event is already stored
// under its idempotency key.
func (s *Store) replayLocked(req storage.AppendRequest) (storage.AppendResult, bool, error) {
	var stored []event.Event
	for _, evt := range req.Events {
		pos, ok := s.byKey[evt.IdempotencyKey()]
		if !ok {
			continue
		}
		stored = append(stored, s.journal[pos])
	}
	switch {
	case len(stored) == 0:
		return storage.AppendResult{}, false, nil
	case len(stored) < len(req.Events):
		return storage.AppendResult{}, true, storage.PartialReplay(req.AggregateID)
	}
	return storage.AppendResult{
		Events:   stored,
		Version:  s.streams[req.AggregateID].record.Version,
		Replayed: true,
	}, true, nil
}

// ListEvents returns an aggregate's events after afterSeq in order.
func (s *Store) ListEvents(ctx context.Context, tenantID, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	str, err := s.streamLocked(tenantID, aggregateID)
	if err != nil || str == nil {
		return nil, err
	}
	var out []event.Event
	for _, pos := range str.positions {
		evt := s.journal[pos]
		if evt.Seq <= afterSeq {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListEventsByType returns a tenant's events of one type, oldest first.
func (s *Store) ListEventsByType(ctx context.Context, tenantID string, aggregateType event.AggregateType, eventType event.Type, filterStr string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cond, err := filter.ParseEventFilter(filterStr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Event
	for _, evt := range s.journal {
		if evt.TenantID != tenantID || evt.AggregateType != aggregateType || evt.Type != eventType {
			continue
		}
		if cond.Match(evt) {
			out = append(out, evt)
		}
	}
	return out, nil
}

// ListEventsByCorrelation returns an aggregate's events carrying a
// correlation id.
func (s *Store) ListEventsByCorrelation(ctx context.Context, tenantID, aggregateID, correlationID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	str, err := s.streamLocked(tenantID, aggregateID)
	if err != nil || str == nil {
		return nil, err
	}
	var out []event.Event
	for _, pos := range str.positions {
		if evt := s.journal[pos]; evt.CorrelationID == correlationID {
			out = append(out, evt)
		}
	}
	return out, nil
}

// ListEventsPage returns a newest-first page of a tenant's events.
func (s *Store) ListEventsPage(ctx context.Context, req storage.ListEventsPageRequest) (storage.ListEventsPageResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListEventsPageResult{}, err
	}
	cond, err := filter.ParseEventFilter(req.Filter)
	if err != nil {
		return storage.ListEventsPageResult{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
	}
	before := uint64(0)
	if req.PageToken != "" {
		c, err := cursor.Decode(req.PageToken)
		if err != nil {
			return storage.ListEventsPageResult{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
		}
		if err := cursor.ValidateFilterHash(c, req.Filter); err != nil {
			return storage.ListEventsPageResult{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
		}
		before = c.Position
	}
	pageSize := clampPageSize(req.PageSize)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if req.AggregateID != "" {
		if _, err := s.streamLocked(req.TenantID, req.AggregateID); err != nil {
			return storage.ListEventsPageResult{}, err
		}
	}

	var result storage.ListEventsPageResult
	lastPos := uint64(0)
	for i := len(s.journal) - 1; i >= 0; i-- {
		evt := s.journal[i]
		if evt.TenantID != req.TenantID {
			continue
		}
		if req.AggregateID != "" && evt.AggregateID != req.AggregateID {
			continue
		}
		if req.AggregateType != "" && evt.AggregateType != req.AggregateType {
			continue
		}
		if !cond.Match(evt) {
			continue
		}
		result.TotalCount++
		position := uint64(i + 1)
		if before > 0 && position >= before {
			continue
		}
		if len(result.Events) < pageSize {
			result.Events = append(result.Events, evt)
			lastPos = position
			continue
		}
		if result.NextPageToken == "" {
			token, err := cursor.Encode(cursor.New(lastPos, req.Filter))
			if err != nil {
				return storage.ListEventsPageResult{}, err
			}
			result.NextPageToken = token
		}
	}
	return result, nil
}

// GetAggregate returns an aggregate's stream header.
func (s *Store) GetAggregate(ctx context.Context, tenantID, aggregateID string) (storage.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AggregateRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	str, err := s.streamLocked(tenantID, aggregateID)
	if err != nil {
		return storage.AggregateRecord{}, err
	}
	if str == nil {
		return storage.AggregateRecord{}, storage.AggregateNotFound(aggregateID)
	}
	return str.record, nil
}

// ListAggregates returns a tenant's aggregates ordered by id.
func (s *Store) ListAggregates(ctx context.Context, tenantID string, aggregateType event.AggregateType) ([]storage.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.AggregateRecord
	for _, str := range s.streams {
		if str.record.TenantID != tenantID {
			continue
		}
		if aggregateType != "" && str.record.AggregateType != aggregateType {
			continue
		}
		out = append(out, str.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AggregateID < out[j].AggregateID })
	return out, nil
}

// ListStreams returns every stream header ordered by tenant and id.
func (s *Store) ListStreams(ctx context.Context) ([]storage.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.AggregateRecord, 0, len(s.streams))
	for _, str := range s.streams {
		out = append(out, str.record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].AggregateID < out[j].AggregateID
	})
	return out, nil
}

// Tamper rewrites a stored event in place, for integrity tests.
func (s *Store) Tamper(aggregateID string, seq uint64, mutate func(*event.Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	str, ok := s.streams[aggregateID]
	if !ok || seq == 0 || seq > uint64(len(str.positions)) {
		return false
	}
	mutate(&s.journal[str.positions[seq-1]])
	return true
}

// streamLocked returns the stream of an aggregate, nil when it does not
// exist, or TENANT_MISMATCH when another tenant owns it.
func (s *Store) streamLocked(tenantID, aggregateID string) (*stream, error) {
	str, ok := s.streams[aggregateID]
	if !ok {
		return nil, nil
	}
	if str.record.TenantID != tenantID {
		return nil, storage.TenantMismatch(aggregateID)
	}
	return str, nil
}

// PutLink inserts or replaces a link.
func (s *Store) PutLink(ctx context.Context, link reservation.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(link.TenantID) == "" || strings.TrimSpace(link.ID) == "" {
		return apperrors.New(apperrors.CodeValidation, "link tenant and id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[linkKey{tenantID: link.TenantID, linkID: link.ID}] = link
	return nil
}

// GetLink returns a link by id.
func (s *Store) GetLink(ctx context.Context, tenantID, linkID string) (reservation.Link, error) {
	if err := ctx.Err(); err != nil {
		return reservation.Link{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[linkKey{tenantID: tenantID, linkID: linkID}]
	if !ok {
		return reservation.Link{}, storage.ErrNotFound
	}
	return link, nil
}

// ListLinks returns a tenant's links touching aggregateID.
func (s *Store) ListLinks(ctx context.Context, tenantID, aggregateID string, status reservation.Status) ([]reservation.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []reservation.Link
	for key, link := range s.links {
		if key.tenantID != tenantID {
			continue
		}
		if aggregateID != "" && link.Supply.ID != aggregateID && link.Demand.ID != aggregateID {
			continue
		}
		if status != "" && link.Status != status {
			continue
		}
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordDispatch counts a shipment once.
func (s *Store) RecordDispatch(ctx context.Context, rec storage.DispatchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dispatchKey{tenantID: rec.TenantID, shipmentID: rec.ShipmentID}
	if _, ok := s.dispatches[key]; ok {
		return nil
	}
	s.dispatches[key] = rec
	return nil
}

// DailyDispatch sums dispatches by UTC day inside window.
func (s *Store) DailyDispatch(ctx context.Context, tenantID string, window storage.Window) ([]storage.DailyDispatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := make(map[time.Time]storage.DailyDispatch)
	for key, rec := range s.dispatches {
		if key.tenantID != tenantID || !window.Contains(rec.DispatchedAt) {
			continue
		}
		day := storage.Day(rec.DispatchedAt)
		current, ok := days[day]
		if !ok {
			current = storage.DailyDispatch{Day: day, Units: decimal.Zero}
		}
		current.Units = current.Units.Add(rec.Units)
		current.Shipments++
		days[day] = current
	}
	out := make([]storage.DailyDispatch, 0, len(days))
	for _, d := range days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func clampPageSize(size int) int {
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}
