package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

type fakeStore struct {
	events []event.Event
	calls  int
}

func (s *fakeStore) ListEvents(_ context.Context, _, _ string, afterSeq uint64, limit int) ([]event.Event, error) {
	s.calls++
	var out []event.Event
	for _, evt := range s.events {
		if evt.Seq > afterSeq {
			out = append(out, evt)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type countingApplier struct{}

func (countingApplier) Apply(state any, evt event.Event) (any, error) {
	n, _ := state.(int)
	return n + 1, nil
}

func seqs(values ...uint64) []event.Event {
	out := make([]event.Event, 0, len(values))
	for _, v := range values {
		out = append(out, event.Event{Seq: v, Type: event.TypeReceived})
	}
	return out
}

func TestReplayPagesThroughHistory(t *testing.T) {
	store := &fakeStore{events: seqs(1, 2, 3, 4, 5)}
	result, err := Replay(context.Background(), store, countingApplier{}, "t1", "S1", 0, Options{PageSize: 2})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.State != 5 || result.LastSeq != 5 || result.Applied != 5 {
		t.Fatalf("result = %+v", result)
	}
	if store.calls != 3 {
		t.Fatalf("store calls = %d, want 3", store.calls)
	}
}

func TestReplayResumesAfterSeq(t *testing.T) {
	store := &fakeStore{events: seqs(1, 2, 3)}
	result, err := Replay(context.Background(), store, countingApplier{}, "t1", "S1", 10, Options{AfterSeq: 2})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.State != 11 || result.LastSeq != 3 || result.Applied != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestReplayStopsAtUntilSeq(t *testing.T) {
	store := &fakeStore{events: seqs(1, 2, 3, 4)}
	result, err := Replay(context.Background(), store, countingApplier{}, "t1", "S1", 0, Options{UntilSeq: 2})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.LastSeq != 2 || result.Applied != 2 {
		t.Fatalf("result = %+v", result)
	}
}

func TestReplayDetectsSequenceGap(t *testing.T) {
	store := &fakeStore{events: seqs(1, 2, 4)}
	result, err := Replay(context.Background(), store, countingApplier{}, "t1", "S1", 0, Options{})
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("err = %v, want ErrSequenceGap", err)
	}
	if result.LastSeq != 2 {
		t.Fatalf("last seq = %d, want 2", result.LastSeq)
	}
}

func TestReplayRequiresInputs(t *testing.T) {
	ctx := context.Background()
	if _, err := Replay(ctx, nil, countingApplier{}, "t1", "S1", nil, Options{}); !errors.Is(err, ErrEventStoreRequired) {
		t.Fatalf("store err = %v", err)
	}
	if _, err := Replay(ctx, &fakeStore{}, nil, "t1", "S1", nil, Options{}); !errors.Is(err, ErrApplierRequired) {
		t.Fatalf("applier err = %v", err)
	}
	if _, err := Replay(ctx, &fakeStore{}, countingApplier{}, " ", "S1", nil, Options{}); !errors.Is(err, ErrTenantIDRequired) {
		t.Fatalf("tenant err = %v", err)
	}
	if _, err := Replay(ctx, &fakeStore{}, countingApplier{}, "t1", "", nil, Options{}); !errors.Is(err, ErrAggregateIDRequired) {
		t.Fatalf("aggregate err = %v", err)
	}
}

func TestReplayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Replay(ctx, &fakeStore{events: seqs(1)}, countingApplier{}, "t1", "S1", 0, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
