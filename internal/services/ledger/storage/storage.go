// Package storage defines the persistence contracts of the ledger: the
// append-only event journal, the link projection and the KPI rollup.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// AppendRequest appends one batch of events to a single aggregate.
type AppendRequest struct {
	TenantID      string
	AggregateID   string
	AggregateType event.AggregateType
	// ExpectedVersion is the aggregate version the events were decided
	// against; zero for an aggregate that does not exist yet.
	ExpectedVersion uint64
	Events          []event.Event
}

// AppendResult reports the stored batch.
type AppendResult struct {
	Events  []event.Event
	Version uint64
	// Replayed reports that every event was already stored under its
	// idempotency key and nothing was appended.
	Replayed bool
}

// AggregateRecord is the stream header of one aggregate.
type AggregateRecord struct {
	TenantID      string
	AggregateID   string
	AggregateType event.AggregateType
	Version       uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ListEventsPageRequest selects a newest-first page of a tenant's events.
type ListEventsPageRequest struct {
	TenantID string
	// AggregateID optionally restricts the feed to one aggregate.
	AggregateID string
	// AggregateType optionally restricts the feed to one aggregate type.
	AggregateType event.AggregateType
	// Filter is an optional AIP-160 expression over event fields.
	Filter    string
	PageSize  int
	PageToken string
}

// ListEventsPageResult is one page of an event feed.
type ListEventsPageResult struct {
	Events        []event.Event
	NextPageToken string
	TotalCount    int
}

// EventStore is the append-only event journal.
type EventStore interface {
	// AppendEvents appends a batch atomically. A batch whose events are all
	// stored already under their idempotency key returns the stored events.
	AppendEvents(ctx context.Context, req AppendRequest) (AppendResult, error)
	// ListEvents returns an aggregate's events after afterSeq in order.
	ListEvents(ctx context.Context, tenantID, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error)
	// ListEventsByType returns a tenant's events of one type, oldest first,
	// narrowed by an optional AIP-160 filter.
	ListEventsByType(ctx context.Context, tenantID string, aggregateType event.AggregateType, eventType event.Type, filter string) ([]event.Event, error)
	// ListEventsByCorrelation returns an aggregate's events carrying a
	// correlation id, in order.
	ListEventsByCorrelation(ctx context.Context, tenantID, aggregateID, correlationID string) ([]event.Event, error)
	// ListEventsPage returns a newest-first page of a tenant's events.
	ListEventsPage(ctx context.Context, req ListEventsPageRequest) (ListEventsPageResult, error)
	// GetAggregate returns an aggregate's stream header. An aggregate owned
	// by another tenant yields TENANT_MISMATCH.
	GetAggregate(ctx context.Context, tenantID, aggregateID string) (AggregateRecord, error)
	// ListAggregates returns a tenant's aggregates, optionally of one type.
	ListAggregates(ctx context.Context, tenantID string, aggregateType event.AggregateType) ([]AggregateRecord, error)
}

// LinkStore persists the reservation and consumption link projection.
type LinkStore interface {
	PutLink(ctx context.Context, link reservation.Link) error
	GetLink(ctx context.Context, tenantID, linkID string) (reservation.Link, error)
	// ListLinks returns a tenant's links touching aggregateID on either side
	// (all links when empty), optionally of one status, ordered by id.
	ListLinks(ctx context.Context, tenantID, aggregateID string, status reservation.Status) ([]reservation.Link, error)
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Validate rejects empty or inverted windows.
func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() || !w.From.Before(w.To) {
		return apperrors.New(apperrors.CodeValidation, "window must have from before to")
	}
	return nil
}

// DispatchRecord is one dispatched shipment counted into the KPI rollup.
type DispatchRecord struct {
	TenantID     string
	ShipmentID   string
	Units        decimal.Decimal
	DispatchedAt time.Time
}

// DailyDispatch is the dispatched volume of one UTC day.
type DailyDispatch struct {
	Day       time.Time
	Units     decimal.Decimal
	Shipments int
}

// KPIStore maintains the dispatch rollup.
type KPIStore interface {
	// RecordDispatch counts a shipment once; repeats are no-ops.
	RecordDispatch(ctx context.Context, rec DispatchRecord) error
	// DailyDispatch returns the days of window with dispatches, oldest
	// first. A rollup that does not exist yet yields no rows.
	DailyDispatch(ctx context.Context, tenantID string, window Window) ([]DailyDispatch, error)
}

// StreamLister enumerates every stream across tenants, for maintenance.
type StreamLister interface {
	ListStreams(ctx context.Context) ([]AggregateRecord, error)
}

// Store is a complete ledger persistence backend.
type Store interface {
	EventStore
	LinkStore
	KPIStore
	Close() error
}

// Day truncates t to its UTC day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateAppend checks the request envelope and that every event belongs
// to the requested aggregate.
func ValidateAppend(req AppendRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return apperrors.New(apperrors.CodeValidation, "tenant id is required")
	}
	if strings.TrimSpace(req.AggregateID) == "" {
		return apperrors.New(apperrors.CodeValidation, "aggregate id is required")
	}
	if _, err := event.ParseAggregateType(string(req.AggregateType)); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
	}
	if len(req.Events) == 0 {
		return apperrors.New(apperrors.CodeValidation, "at least one event is required")
	}
	for i, evt := range req.Events {
		if evt.TenantID != req.TenantID || evt.AggregateID != req.AggregateID || evt.AggregateType != req.AggregateType {
			return apperrors.New(apperrors.CodeValidation,
				fmt.Sprintf("event %d belongs to %s/%s %s, not %s/%s %s", i,
					evt.TenantID, evt.AggregateType, evt.AggregateID,
					req.TenantID, req.AggregateType, req.AggregateID))
		}
		if strings.TrimSpace(evt.CorrelationID) == "" {
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("event %d correlation id is required", i))
		}
	}
	return nil
}

// TenantMismatch reports an aggregate owned by another tenant.
func TenantMismatch(aggregateID string) error {
	return apperrors.WithMetadata(apperrors.CodeTenantMismatch,
		fmt.Sprintf("aggregate %s belongs to another tenant", aggregateID),
		map[string]string{"AggregateID": aggregateID})
}

// AggregateNotFound reports a missing aggregate.
func AggregateNotFound(aggregateID string) error {
	return apperrors.WrapWithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("aggregate %s not found", aggregateID),
		map[string]string{"AggregateID": aggregateID}, ErrNotFound)
}

// VersionConflict reports an append against a stale version.
func VersionConflict(aggregateID string, expected, actual uint64) error {
	return apperrors.WithMetadata(apperrors.CodeConcurrencyConflict,
		fmt.Sprintf("aggregate %s is at version %d, expected %d", aggregateID, actual, expected),
		map[string]string{
			"AggregateID": aggregateID,
			"Expected":    fmt.Sprint(expected),
			"Actual":      fmt.Sprint(actual),
		})
}

// PartialReplay reports a batch of which only some events are stored.
func PartialReplay(aggregateID string) error {
	return apperrors.New(apperrors.CodeValidation,
		fmt.Sprintf("aggregate %s: batch partially matches stored events", aggregateID))
}

// StorageError wraps a durability failure.
func StorageError(op string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorage, op+": "+err.Error(), err)
}

// CheckStream applies the append preconditions to the current stream
// header, nil when the aggregate does not exist yet: a missing aggregate
// accepts only its create event, an existing one only its owner tenant and
// the expected version.
func CheckStream(current *AggregateRecord, req AppendRequest) error {
	if current == nil {
		if req.Events[0].Type != event.TypeCreated {
			return AggregateNotFound(req.AggregateID)
		}
		if req.ExpectedVersion != 0 {
			return VersionConflict(req.AggregateID, req.ExpectedVersion, 0)
		}
		return nil
	}
	if current.TenantID != req.TenantID {
		return TenantMismatch(req.AggregateID)
	}
	if current.AggregateType != req.AggregateType {
		return apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("aggregate %s is a %s, not a %s", req.AggregateID, current.AggregateType, req.AggregateType))
	}
	if current.Version != req.ExpectedVersion {
		return VersionConflict(req.AggregateID, req.ExpectedVersion, current.Version)
	}
	return nil
}

// VerifyStream loads an aggregate's full history and checks its hash chain
// and, when keyring is set, its signatures. It returns the number of
// events verified.
func VerifyStream(ctx context.Context, store EventStore, keyring *integrity.Keyring, tenantID, aggregateID string) (int, error) {
	const pageSize = 200
	var (
		history []event.Event
		after   uint64
	)
	for {
		page, err := store.ListEvents(ctx, tenantID, aggregateID, after, pageSize)
		if err != nil {
			return len(history), err
		}
		history = append(history, page...)
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].Seq
	}
	return len(history), integrity.Verify(keyring, history)
}
