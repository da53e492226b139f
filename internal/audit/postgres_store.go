package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists transaction records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions table if it doesn't exist. The
// goose migrations in migrations/ are authoritative for deployed
// environments; this keeps ad-hoc and in-memory-database setups working.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id               BIGSERIAL PRIMARY KEY,
			user_id          VARCHAR(100) NOT NULL,
			amount           NUMERIC(14,2) NOT NULL,
			currency         VARCHAR(3) NOT NULL,
			external_txn_id  VARCHAR(100) NOT NULL UNIQUE,
			type             VARCHAR(10) NOT NULL,
			is_flagged       BOOLEAN NOT NULL DEFAULT FALSE,
			flag_reason      TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_user_id
			ON transactions (user_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_transactions_flagged
			ON transactions (user_id) WHERE is_flagged;
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO transactions (user_id, amount, currency, external_txn_id, type, is_flagged, flag_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`,
		rec.UserID,
		rec.Amount,
		rec.Currency,
		rec.ExternalTxnID,
		rec.Type,
		rec.Flagged,
		rec.FlagReason,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert transaction record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, currency, external_txn_id, type, is_flagged, COALESCE(flag_reason, ''), created_at
		FROM transactions
		WHERE external_txn_id = $1
	`, externalID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Amount,
		&rec.Currency,
		&rec.ExternalTxnID,
		&rec.Type,
		&rec.Flagged,
		&rec.FlagReason,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) CountFlagged(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND is_flagged
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count flagged transactions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
