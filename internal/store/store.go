// Package store defines the persistence interface for the vault's audit
// trail. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing). The store records
// completed operations only — the in-memory position ledger remains the
// authority for balances.
package store

import (
	"context"

	"github.com/GigaChadds/gaave-core/internal/model"
)

// Store is the persistence interface for immutable vault entries.
type Store interface {
	// InsertEntry appends an immutable record of a completed operation.
	InsertEntry(ctx context.Context, entry *model.VaultEntry) error

	// GetEntriesByUser returns all entries for a user, oldest first.
	GetEntriesByUser(ctx context.Context, userID string) ([]model.VaultEntry, error)

	// GetEntriesByAsset returns all entries for an asset, oldest first.
	GetEntriesByAsset(ctx context.Context, asset string) ([]model.VaultEntry, error)

	// GetUserActivity aggregates a user's lifetime activity from entries.
	GetUserActivity(ctx context.Context, userID string) (*model.ActivitySummary, error)
}
