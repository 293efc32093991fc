package sqlite

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/platform/storage/sqlitemigrate"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

// RecordDispatch counts a shipment once.
func (s *Store) RecordDispatch(ctx context.Context, rec storage.DispatchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO kpi_dispatches (tenant_id, shipment_id, units, dispatched_at) VALUES (?, ?, ?, ?) ON CONFLICT(tenant_id, shipment_id) DO NOTHING",
		rec.TenantID, rec.ShipmentID, rec.Units.String(), toMillis(rec.DispatchedAt),
	); err != nil {
		return storage.StorageError("record dispatch", err)
	}
	return nil
}

// DailyDispatch sums dispatches by UTC day inside window. Units are summed
// as decimals in Go since SQLite arithmetic is floating point.
func (s *Store) DailyDispatch(ctx context.Context, tenantID string, window storage.Window) ([]storage.DailyDispatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT units, dispatched_at FROM kpi_dispatches WHERE tenant_id = ? AND dispatched_at >= ? AND dispatched_at < ?",
		tenantID, toMillis(window.From), toMillis(window.To))
	if sqlitemigrate.IsMissingTableError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.StorageError("query dispatches", err)
	}
	defer rows.Close()

	days := make(map[time.Time]storage.DailyDispatch)
	for rows.Next() {
		var (
			raw string
			at  int64
		)
		if err := rows.Scan(&raw, &at); err != nil {
			return nil, storage.StorageError("scan dispatch", err)
		}
		units, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, storage.StorageError("parse dispatch units", err)
		}
		day := storage.Day(fromMillis(at))
		current, ok := days[day]
		if !ok {
			current = storage.DailyDispatch{Day: day, Units: decimal.Zero}
		}
		current.Units = current.Units.Add(units)
		current.Shipments++
		days[day] = current
	}
	if err := rows.Err(); err != nil {
		return nil, storage.StorageError("iterate dispatches", err)
	}

	out := make([]storage.DailyDispatch, 0, len(days))
	for _, d := range days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}
