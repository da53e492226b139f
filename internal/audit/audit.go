// Package audit persists one durable record per processed transaction.
//
// Records are the compliance trail: who moved money, how much, what the
// engine decided and why. The windowed counters are ephemeral; this
// store is not. Uniqueness of the external transaction ID is enforced
// here and used by the API layer to short-circuit duplicate requests
// before the engine runs.
package audit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no record exists for the given key.
	ErrNotFound = errors.New("transaction record not found")
	// ErrDuplicate indicates a record with the same external
	// transaction ID already exists.
	ErrDuplicate = errors.New("duplicate transaction id")
)

// Record is one processed transaction.
type Record struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	ExternalTxnID string    `json:"transaction_id"`
	Type          string    `json:"type"`
	Flagged       bool      `json:"flagged"`
	FlagReason    string    `json:"flag_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists transaction records.
type Store interface {
	// Create inserts a record. Returns ErrDuplicate if a record with
	// the same external transaction ID exists.
	Create(ctx context.Context, rec *Record) error

	// GetByExternalID returns the record for an external transaction
	// ID, or ErrNotFound.
	GetByExternalID(ctx context.Context, externalID string) (*Record, error)

	// CountFlagged returns how many flagged records exist for a user.
	CountFlagged(ctx context.Context, userID string) (int64, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
