package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertEntry(ctx context.Context, e *model.VaultEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_entries (id, user_id, asset, symbol, kind, amount, value, receipt, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		e.ID, e.UserID, e.Asset, e.Symbol, e.Kind,
		e.Amount.String(), e.Value.String(),
		e.Receipt, e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetEntriesByUser(ctx context.Context, userID string) ([]model.VaultEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, asset, symbol, kind,
		        amount::TEXT, value::TEXT, receipt, timestamp
		 FROM vault_entries WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) GetEntriesByAsset(ctx context.Context, asset string) ([]model.VaultEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, asset, symbol, kind,
		        amount::TEXT, value::TEXT, receipt, timestamp
		 FROM vault_entries WHERE asset = $1 ORDER BY timestamp`, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) GetUserActivity(ctx context.Context, userID string) (*model.ActivitySummary, error) {
	var depositCount, withdrawCount int
	var totalDepositedS, totalWithdrawnS string

	err := s.pool.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN kind = 'DEPOSIT'  THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'WITHDRAW' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'DEPOSIT'  THEN value ELSE 0 END), 0)::TEXT,
			COALESCE(SUM(CASE WHEN kind = 'WITHDRAW' THEN value ELSE 0 END), 0)::TEXT
		 FROM vault_entries WHERE user_id = $1`, userID).
		Scan(&depositCount, &withdrawCount, &totalDepositedS, &totalWithdrawnS)
	if err != nil {
		return nil, fmt.Errorf("get activity for %s: %w", userID, err)
	}

	summary := &model.ActivitySummary{
		UserID:        userID,
		DepositCount:  depositCount,
		WithdrawCount: withdrawCount,
	}
	summary.TotalDeposited, _ = decimal.NewFromString(totalDepositedS)
	summary.TotalWithdrawn, _ = decimal.NewFromString(totalWithdrawnS)

	return summary, nil
}

// scanEntries reads pgx rows into VaultEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEntries(rows pgxRows) ([]model.VaultEntry, error) {
	var entries []model.VaultEntry
	for rows.Next() {
		var e model.VaultEntry
		var amountS, valueS string

		if err := rows.Scan(&e.ID, &e.UserID, &e.Asset, &e.Symbol, &e.Kind,
			&amountS, &valueS, &e.Receipt, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Amount, _ = decimal.NewFromString(amountS)
		e.Value, _ = decimal.NewFromString(valueS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
