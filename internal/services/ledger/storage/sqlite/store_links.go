package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

const linkColumns = "tenant_id, id, kind, supply_type, supply_id, demand_type, demand_id, quantity, unit, status, correlation_id, created_at, updated_at"

// PutLink inserts or replaces a link.
func (s *Store) PutLink(ctx context.Context, link reservation.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(link.TenantID) == "" || strings.TrimSpace(link.ID) == "" {
		return apperrors.New(apperrors.CodeValidation, "link tenant and id are required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, id) DO UPDATE SET
    kind = excluded.kind,
    supply_type = excluded.supply_type,
    supply_id = excluded.supply_id,
    demand_type = excluded.demand_type,
    demand_id = excluded.demand_id,
    quantity = excluded.quantity,
    unit = excluded.unit,
    status = excluded.status,
    correlation_id = excluded.correlation_id,
    updated_at = excluded.updated_at`,
		link.TenantID,
		link.ID,
		string(link.Kind),
		link.Supply.Type,
		link.Supply.ID,
		link.Demand.Type,
		link.Demand.ID,
		link.Quantity.String(),
		link.Unit,
		string(link.Status),
		link.CorrelationID,
		toMillis(link.CreatedAt),
		toMillis(link.UpdatedAt),
	)
	if err != nil {
		return storage.StorageError("put link", err)
	}
	return nil
}

// GetLink returns a link by id.
func (s *Store) GetLink(ctx context.Context, tenantID, linkID string) (reservation.Link, error) {
	if err := ctx.Err(); err != nil {
		return reservation.Link{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+linkColumns+" FROM links WHERE tenant_id = ? AND id = ?", tenantID, linkID)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Link{}, storage.ErrNotFound
	}
	if err != nil {
		return reservation.Link{}, storage.StorageError("get link", err)
	}
	return link, nil
}

// ListLinks returns a tenant's links touching aggregateID.
func (s *Store) ListLinks(ctx context.Context, tenantID, aggregateID string, status reservation.Status) ([]reservation.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := "SELECT " + linkColumns + " FROM links WHERE tenant_id = ?"
	args := []any{tenantID}
	if aggregateID != "" {
		query += " AND (supply_id = ? OR demand_id = ?)"
		args = append(args, aggregateID, aggregateID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	rows, err := s.sqlDB.QueryContext(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, storage.StorageError("query links", err)
	}
	defer rows.Close()

	var out []reservation.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, storage.StorageError("scan link", err)
		}
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.StorageError("iterate links", err)
	}
	return out, nil
}

func scanLink(row rowScanner) (reservation.Link, error) {
	var (
		link             reservation.Link
		kind, status     string
		qty              string
		created, updated int64
	)
	if err := row.Scan(
		&link.TenantID,
		&link.ID,
		&kind,
		&link.Supply.Type,
		&link.Supply.ID,
		&link.Demand.Type,
		&link.Demand.ID,
		&qty,
		&link.Unit,
		&status,
		&link.CorrelationID,
		&created,
		&updated,
	); err != nil {
		return reservation.Link{}, err
	}
	quantity, err := decimal.NewFromString(qty)
	if err != nil {
		return reservation.Link{}, err
	}
	link.Kind = reservation.Kind(kind)
	link.Status = reservation.Status(status)
	link.Quantity = quantity
	link.CreatedAt = fromMillis(created)
	link.UpdatedAt = fromMillis(updated)
	return link, nil
}
