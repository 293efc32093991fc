package sqlite

import (
	"context"

	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

// ListStreams returns every stream header ordered by tenant and id.
func (s *Store) ListStreams(ctx context.Context) ([]storage.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT "+aggregateColumns+" FROM aggregates ORDER BY tenant_id, aggregate_id")
	if err != nil {
		return nil, storage.StorageError("list streams", err)
	}
	defer rows.Close()

	var out []storage.AggregateRecord
	for rows.Next() {
		rec, err := scanAggregate(rows)
		if err != nil {
			return nil, storage.StorageError("scan stream", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.StorageError("iterate streams", err)
	}
	return out, nil
}

// VerifyEventIntegrity checks the hash chain of every stream, stopping at
// the first broken one.
func (s *Store) VerifyEventIntegrity(ctx context.Context) error {
	streams, err := s.ListStreams(ctx)
	if err != nil {
		return err
	}
	for _, rec := range streams {
		if _, err := storage.VerifyStream(ctx, s, s.keyring, rec.TenantID, rec.AggregateID); err != nil {
			return err
		}
	}
	return nil
}
