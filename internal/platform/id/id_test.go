package id

import (
	"strconv"
	"strings"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("expected 26-character id, got %d", len(id))
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Fatalf("unexpected character %q in id", r)
		}
	}

	decoded, err := encoding.DecodeString(strings.ToUpper(id))
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if version := decoded[6] >> 4; version != 7 {
		t.Fatalf("expected version 7, got %d", version)
	}
}

func TestLinkIDIsDeterministicPerTenant(t *testing.T) {
	a := LinkID("t1", "reservation", "corr-1")
	if a != LinkID("t1", "reservation", "corr-1") {
		t.Fatal("expected same link id for same correlation")
	}
	if a == LinkID("t2", "reservation", "corr-1") {
		t.Fatal("expected tenant to change link id")
	}
	if a == LinkID("t1", "reservation", "corr-2") {
		t.Fatal("expected correlation to change link id")
	}
	if a == LinkID("t1", "consumption", "corr-1") {
		t.Fatal("expected kind to change link id")
	}
}

func TestEventIDsIncrease(t *testing.T) {
	gen, err := NewEventIDs(1)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	prev := int64(0)
	for i := 0; i < 100; i++ {
		got, err := strconv.ParseInt(gen.Next(), 10, 64)
		if err != nil {
			t.Fatalf("parse id: %v", err)
		}
		if got <= prev {
			t.Fatalf("id %d not greater than %d", got, prev)
		}
		prev = got
	}
}

func TestNewEventIDsRejectsBadNode(t *testing.T) {
	if _, err := NewEventIDs(5000); err == nil {
		t.Fatal("expected node range error")
	}
}
