// Package storage provides persistence for confirmed blockchain
// transactions and the query surface the read API is built on.
package storage

import (
	"context"
	"errors"
	"time"
)

// Common storage errors.
var (
	// ErrNotFound indicates that no transaction matched the lookup.
	ErrNotFound = errors.New("transaction not found")

	// ErrInvalidFilter indicates that the list filter failed validation.
	ErrInvalidFilter = errors.New("invalid list filter")
)

// Transaction is one confirmed transaction as served by the read API.
type Transaction struct {
	// Signature is the base58 transaction signature, unique per transaction.
	Signature string `json:"signature"`

	// Slot is the slot the transaction was confirmed in.
	Slot uint64 `json:"slot"`

	// BlockTime is the wall-clock confirmation time reported by the chain.
	// Zero when the chain did not report one.
	BlockTime time.Time `json:"block_time,omitempty"`

	// From and To are the base58 source and destination accounts.
	From string `json:"from"`
	To   string `json:"to"`

	// ProgramID is the base58 program the transaction invoked.
	ProgramID string `json:"program_id"`

	// Lamports is the transferred amount in lamports.
	Lamports uint64 `json:"lamports"`

	// Fee is the transaction fee in lamports.
	Fee uint64 `json:"fee"`

	// Status is the confirmation status: success or failed.
	Status string `json:"status"`
}

// Page is one page of list results.
type Page struct {
	Items []Transaction `json:"items"`

	// Limit and Offset echo the effective pagination after clamping.
	Limit  int `json:"limit"`
	Offset int `json:"offset"`

	// Total is the number of rows matching the filter before pagination.
	Total int64 `json:"total"`
}

// Store is the transaction persistence interface.
type Store interface {
	// List returns the page of transactions matching the filter.
	List(ctx context.Context, filter *ListFilter) (*Page, error)

	// GetBySignature returns the transaction with the given signature.
	// Returns ErrNotFound when the signature is unknown.
	GetBySignature(ctx context.Context, signature string) (*Transaction, error)

	// Insert stores a confirmed transaction. Inserting an existing
	// signature is a no-op so ingest can replay safely.
	Insert(ctx context.Context, tx *Transaction) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}
