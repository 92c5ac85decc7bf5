package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/model"
)

func entry(user, kind string, value float64) *model.VaultEntry {
	return &model.VaultEntry{
		ID:        user + "-" + kind,
		UserID:    user,
		Asset:     model.NativeAssetAddress,
		Symbol:    "MATIC",
		Kind:      kind,
		Amount:    decimal.NewFromFloat(value),
		Value:     decimal.NewFromFloat(value),
		Receipt:   "rcpt",
		Timestamp: time.Now().UTC(),
	}
}

func TestGetUserActivity_Aggregates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.InsertEntry(ctx, entry("user1", model.EntryDeposit, 100))
	s.InsertEntry(ctx, entry("user1", model.EntryDeposit, 250))
	s.InsertEntry(ctx, entry("user1", model.EntryWithdraw, 50))
	s.InsertEntry(ctx, entry("user2", model.EntryDeposit, 999))

	summary, err := s.GetUserActivity(ctx, "user1")
	if err != nil {
		t.Fatalf("activity failed: %v", err)
	}

	if summary.DepositCount != 2 {
		t.Errorf("expected 2 deposits, got %d", summary.DepositCount)
	}
	if summary.WithdrawCount != 1 {
		t.Errorf("expected 1 withdrawal, got %d", summary.WithdrawCount)
	}
	if !summary.TotalDeposited.Equal(decimal.NewFromInt(350)) {
		t.Errorf("expected total deposited 350, got %s", summary.TotalDeposited)
	}
	if !summary.TotalWithdrawn.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected total withdrawn 50, got %s", summary.TotalWithdrawn)
	}
}

func TestGetUserActivity_EmptyUser(t *testing.T) {
	s := NewMemoryStore()

	summary, err := s.GetUserActivity(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("activity failed: %v", err)
	}
	if summary.DepositCount != 0 || !summary.TotalDeposited.IsZero() {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestGetEntriesByUser_Filters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.InsertEntry(ctx, entry("user1", model.EntryDeposit, 1))
	s.InsertEntry(ctx, entry("user2", model.EntryDeposit, 2))

	entries, err := s.GetEntriesByUser(ctx, "user1")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "user1" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
