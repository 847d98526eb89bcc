package sqlite

import (
	"context"
	"testing"

	"pm-arb-worker/internal/state"
)

func TestJournalDedup(t *testing.T) {
	j, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	entry := state.OrderEntry{
		ClientID:  "task1-yes-1",
		TaskID:    "task1",
		TokenID:   "yes-token",
		Side:      "BUY",
		Size:      10,
		Price:     0.52,
		Status:    "SUBMITTED",
		CreatedMS: 1700000000000,
	}
	inserted, err := j.Record(ctx, entry)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !inserted {
		t.Fatal("first record must insert")
	}
	inserted, err = j.Record(ctx, entry)
	if err != nil {
		t.Fatalf("duplicate record failed: %v", err)
	}
	if inserted {
		t.Fatal("duplicate client id must not insert")
	}
}

func TestJournalStatusUpdate(t *testing.T) {
	j, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	if _, err := j.Record(ctx, state.OrderEntry{ClientID: "c1", TaskID: "t", TokenID: "x", Side: "BUY", Status: "SUBMITTED"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := j.UpdateStatus(ctx, "c1", "FAILED"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, ok, err := j.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || got.Status != "FAILED" {
		t.Fatalf("unexpected entry: %+v (ok=%v)", got, ok)
	}

	_, ok, err = j.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatal("missing id must not be found")
	}
}
