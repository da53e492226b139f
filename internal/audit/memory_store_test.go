package audit

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := &Record{
		UserID:        "u1",
		Amount:        250.00,
		Currency:      "USD",
		ExternalTxnID: "txn-1",
		Type:          "DEPOSIT",
		Flagged:       false,
		FlagReason:    "Safe",
	}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == 0 {
		t.Error("Create did not assign an ID")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Create did not stamp CreatedAt")
	}

	got, err := s.GetByExternalID(ctx, "txn-1")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if got.UserID != "u1" || got.Amount != 250.00 || got.Type != "DEPOSIT" {
		t.Errorf("got %+v", got)
	}
}

func TestDuplicateExternalID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := &Record{UserID: "u1", ExternalTxnID: "txn-1", Type: "DEPOSIT"}
	if err := s.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := &Record{UserID: "u2", ExternalTxnID: "txn-1", Type: "WITHDRAWAL"}
	if err := s.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Create duplicate = %v, want ErrDuplicate", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetByExternalID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCountFlagged(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	records := []*Record{
		{UserID: "u1", ExternalTxnID: "t1", Flagged: true},
		{UserID: "u1", ExternalTxnID: "t2", Flagged: false},
		{UserID: "u1", ExternalTxnID: "t3", Flagged: true},
		{UserID: "u2", ExternalTxnID: "t4", Flagged: true},
	}
	for _, r := range records {
		if err := s.Create(ctx, r); err != nil {
			t.Fatalf("Create %s: %v", r.ExternalTxnID, err)
		}
	}

	count, err := s.CountFlagged(ctx, "u1")
	if err != nil {
		t.Fatalf("CountFlagged: %v", err)
	}
	if count != 2 {
		t.Errorf("CountFlagged(u1) = %d, want 2", count)
	}
}
