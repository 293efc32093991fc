package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
	"github.com/kilnline/ledger/internal/services/ledger/storage/cursor"
	"github.com/kilnline/ledger/internal/services/ledger/storage/filter"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
)

const eventColumns = "position, id, tenant_id, aggregate_id, aggregate_type, seq, event_type, timestamp, actor_role, correlation_id, causation_id, payload_json, event_hash, prev_event_hash, chain_hash, signature_key_id, event_signature, command_type"

const aggregateColumns = "aggregate_id, tenant_id, aggregate_type, version, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

// AppendEvents appends a batch atomically in one transaction.
func (s *Store) AppendEvents(ctx context.Context, req storage.AppendRequest) (storage.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.AppendResult{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AppendResult{}, fmt.Errorf("storage is not configured")
	}
	if err := storage.ValidateAppend(req); err != nil {
		return storage.AppendResult{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.AppendResult{}, storage.StorageError("begin tx", err)
	}
	defer tx.Rollback()

	if replayed, ok, err := replayTx(ctx, tx, req); err != nil || ok {
		return replayed, err
	}

	current, err := getAggregate(ctx, tx, req.AggregateID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storage.AppendResult{}, storage.StorageError("load aggregate", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		current = nil
	}
	if err := storage.CheckStream(current, req); err != nil {
		return storage.AppendResult{}, err
	}

	now := toMillis(s.now())
	prevChain := ""
	if current != nil {
		if err := tx.QueryRowContext(ctx,
			"SELECT chain_hash FROM events WHERE aggregate_id = ? AND seq = ?",
			req.AggregateID, current.Version,
		).Scan(&prevChain); err != nil {
			return storage.AppendResult{}, storage.StorageError("load previous event", err)
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE aggregates SET version = ?, updated_at = ? WHERE aggregate_id = ? AND version = ?",
			current.Version+uint64(len(req.Events)), now, req.AggregateID, current.Version,
		)
		if err != nil {
			return storage.AppendResult{}, appendError(req, "update aggregate", err)
		}
		updated, err := res.RowsAffected()
		if err != nil {
			return storage.AppendResult{}, storage.StorageError("update aggregate", err)
		}
		if updated == 0 {
			return storage.AppendResult{}, storage.VersionConflict(req.AggregateID, req.ExpectedVersion, current.Version)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO aggregates ("+aggregateColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			req.AggregateID, req.TenantID, string(req.AggregateType), len(req.Events), now, now,
		); err != nil {
			return storage.AppendResult{}, appendError(req, "insert aggregate", err)
		}
	}

	version := req.ExpectedVersion
	stored := make([]event.Event, 0, len(req.Events))
	for i, evt := range req.Events {
		version++
		evt.Seq = version
		if evt.ID == "" {
			evt.ID = s.ids.Next()
		}
		evt, err = integrity.Seal(s.keyring, evt, prevChain)
		if err != nil {
			return storage.AppendResult{}, storage.StorageError(fmt.Sprintf("seal event %d", i), err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO events ("+strings.TrimPrefix(eventColumns, "position, ")+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			evt.ID,
			evt.TenantID,
			evt.AggregateID,
			string(evt.AggregateType),
			int64(evt.Seq),
			string(evt.Type),
			toMillis(evt.Timestamp),
			evt.ActorRole,
			evt.CorrelationID,
			evt.CausationID,
			evt.PayloadJSON,
			evt.Hash,
			evt.PrevHash,
			evt.ChainHash,
			evt.SignatureKeyID,
			evt.Signature,
			evt.Command,
		); err != nil {
			return storage.AppendResult{}, appendError(req, fmt.Sprintf("append event %d", i), err)
		}
		prevChain = evt.ChainHash
		stored = append(stored, evt)
	}

	if err := tx.Commit(); err != nil {
		return storage.AppendResult{}, appendError(req, "commit", err)
	}
	return storage.AppendResult{Events: stored, Version: version}, nil
}

// appendError maps write failures: a unique violation or a lost write lock
// means a concurrent appender won the race.
func appendError(req storage.AppendRequest, op string, err error) error {
	if isConstraintError(err) || isSQLiteBusyError(err) {
		return apperrors.WrapWithMetadata(apperrors.CodeConcurrencyConflict,
			fmt.Sprintf("aggregate %s changed concurrently", req.AggregateID),
			map[string]string{"AggregateID": req.AggregateID}, err)
	}
	return storage.StorageError(op, err)
}

// replayTx returns the stored batch when every event is already stored
// under its idempotency key.
func replayTx(ctx context.Context, tx *sql.Tx, req storage.AppendRequest) (storage.AppendResult, bool, error) {
	var stored []event.Event
	for _, evt := range req.Events {
		row := tx.QueryRowContext(ctx,
			"SELECT "+eventColumns+" FROM events WHERE tenant_id = ? AND aggregate_id = ? AND event_type = ? AND correlation_id = ?",
			evt.TenantID, evt.AggregateID, string(evt.Type), evt.CorrelationID,
		)
		found, _, err := scanEvent(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return storage.AppendResult{}, false, storage.StorageError("lookup idempotency key", err)
		}
		stored = append(stored, found)
	}
	switch {
	case len(stored) == 0:
		return storage.AppendResult{}, false, nil
	case len(stored) < len(req.Events):
		return storage.AppendResult{}, true, storage.PartialReplay(req.AggregateID)
	}
	current, err := getAggregate(ctx, tx, req.AggregateID)
	if err != nil {
		return storage.AppendResult{}, true, storage.StorageError("load aggregate", err)
	}
	return storage.AppendResult{Events: stored, Version: current.Version, Replayed: true}, true, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAggregate(ctx context.Context, q queryer, aggregateID string) (*storage.AggregateRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT "+aggregateColumns+" FROM aggregates WHERE aggregate_id = ?", aggregateID)
	rec, err := scanAggregate(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanAggregate(row rowScanner) (storage.AggregateRecord, error) {
	var (
		rec              storage.AggregateRecord
		aggType          string
		version          int64
		created, updated int64
	)
	if err := row.Scan(&rec.AggregateID, &rec.TenantID, &aggType, &version, &created, &updated); err != nil {
		return storage.AggregateRecord{}, err
	}
	rec.AggregateType = event.AggregateType(aggType)
	rec.Version = uint64(version)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return rec, nil
}

func scanEvent(row rowScanner) (event.Event, uint64, error) {
	var (
		evt               event.Event
		position, seq, ts int64
		aggType, evtType  string
	)
	if err := row.Scan(
		&position,
		&evt.ID,
		&evt.TenantID,
		&evt.AggregateID,
		&aggType,
		&seq,
		&evtType,
		&ts,
		&evt.ActorRole,
		&evt.CorrelationID,
		&evt.CausationID,
		&evt.PayloadJSON,
		&evt.Hash,
		&evt.PrevHash,
		&evt.ChainHash,
		&evt.SignatureKeyID,
		&evt.Signature,
		&evt.Command,
	); err != nil {
		return event.Event{}, 0, err
	}
	evt.AggregateType = event.AggregateType(aggType)
	evt.Type = event.Type(evtType)
	evt.Seq = uint64(seq)
	evt.Timestamp = fromMillis(ts)
	return evt, uint64(position), nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]event.Event, []uint64, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, storage.StorageError("query events", err)
	}
	defer rows.Close()

	var (
		events    []event.Event
		positions []uint64
	)
	for rows.Next() {
		evt, pos, err := scanEvent(rows)
		if err != nil {
			return nil, nil, storage.StorageError("scan event", err)
		}
		events = append(events, evt)
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storage.StorageError("iterate events", err)
	}
	return events, positions, nil
}

// checkOwner returns TENANT_MISMATCH when another tenant owns aggregateID.
// A missing aggregate passes.
func (s *Store) checkOwner(ctx context.Context, tenantID, aggregateID string) (*storage.AggregateRecord, error) {
	rec, err := getAggregate(ctx, s.sqlDB, aggregateID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.StorageError("load aggregate", err)
	}
	if rec.TenantID != tenantID {
		return nil, storage.TenantMismatch(aggregateID)
	}
	return rec, nil
}

// ListEvents returns an aggregate's events after afterSeq in order.
func (s *Store) ListEvents(ctx context.Context, tenantID, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.checkOwner(ctx, tenantID, aggregateID); err != nil {
		return nil, err
	}
	query := "SELECT " + eventColumns + " FROM events WHERE tenant_id = ? AND aggregate_id = ? AND seq > ? ORDER BY seq"
	args := []any{tenantID, aggregateID, int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	events, _, err := s.queryEvents(ctx, query, args...)
	return events, err
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
	query := "SELECT " + eventColumns + " FROM events WHERE tenant_id = ? AND aggregate_type = ? AND event_type = ?"
	args := []any{tenantID, string(aggregateType), string(eventType)}
	if !cond.Empty() {
		query += " AND " + cond.Clause
		args = append(args, cond.Params...)
	}
	events, _, err := s.queryEvents(ctx, query+" ORDER BY position", args...)
	return events, err
}

// ListEventsByCorrelation returns an aggregate's events carrying a
// correlation id.
func (s *Store) ListEventsByCorrelation(ctx context.Context, tenantID, aggregateID, correlationID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.checkOwner(ctx, tenantID, aggregateID); err != nil {
		return nil, err
	}
	events, _, err := s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE tenant_id = ? AND aggregate_id = ? AND correlation_id = ? ORDER BY seq",
		tenantID, aggregateID, correlationID)
	return events, err
}

// ListEventsPage returns a newest-first page of a tenant's events.
func (s *Store) ListEventsPage(ctx context.Context, req storage.ListEventsPageRequest) (storage.ListEventsPageResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListEventsPageResult{}, err
	}
	if req.PageSize <= 0 {
		req.PageSize = 50
	}
	if req.PageSize > 200 {
		req.PageSize = 200
	}
	if req.AggregateID != "" {
		if _, err := s.checkOwner(ctx, req.TenantID, req.AggregateID); err != nil {
			return storage.ListEventsPageResult{}, err
		}
	}

	plan, err := buildListEventsPagePlan(req)
	if err != nil {
		return storage.ListEventsPageResult{}, err
	}

	events, positions, err := s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE "+plan.whereClause+" ORDER BY position DESC LIMIT ?",
		append(plan.params, req.PageSize+1)...)
	if err != nil {
		return storage.ListEventsPageResult{}, err
	}

	var result storage.ListEventsPageResult
	if len(events) > req.PageSize {
		events = events[:req.PageSize]
		token, err := cursor.Encode(cursor.New(positions[req.PageSize-1], req.Filter))
		if err != nil {
			return storage.ListEventsPageResult{}, err
		}
		result.NextPageToken = token
	}
	result.Events = events

	if err := s.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE "+plan.countWhereClause, plan.countParams...,
	).Scan(&result.TotalCount); err != nil {
		return storage.ListEventsPageResult{}, storage.StorageError("count events", err)
	}
	return result, nil
}

// GetAggregate returns an aggregate's stream header.
func (s *Store) GetAggregate(ctx context.Context, tenantID, aggregateID string) (storage.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AggregateRecord{}, err
	}
	rec, err := s.checkOwner(ctx, tenantID, aggregateID)
	if err != nil {
		return storage.AggregateRecord{}, err
	}
	if rec == nil {
		return storage.AggregateRecord{}, storage.AggregateNotFound(aggregateID)
	}
	return *rec, nil
}

// ListAggregates returns a tenant's aggregates ordered by id.
func (s *Store) ListAggregates(ctx context.Context, tenantID string, aggregateType event.AggregateType) ([]storage.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := "SELECT " + aggregateColumns + " FROM aggregates WHERE tenant_id = ?"
	args := []any{tenantID}
	if aggregateType != "" {
		query += " AND aggregate_type = ?"
		args = append(args, string(aggregateType))
	}
	rows, err := s.sqlDB.QueryContext(ctx, query+" ORDER BY aggregate_id", args...)
	if err != nil {
		return nil, storage.StorageError("query aggregates", err)
	}
	defer rows.Close()

	var out []storage.AggregateRecord
	for rows.Next() {
		rec, err := scanAggregate(rows)
		if err != nil {
			return nil, storage.StorageError("scan aggregate", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.StorageError("iterate aggregates", err)
	}
	return out, nil
}
