// Copyright 2025 Clearing Protocol
//
// Repositories - Convenience wrapper for all database repositories
// Provides a single point of access to all repository types

package database

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, letting every
// repository participate in a caller-managed unit of work.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repositories holds all repository instances
type Repositories struct {
	Contracts   *ContractRepository
	Submissions *SubmissionRepository
	Events      *EventRepository
	Idempotency *IdempotencyRepository
}

// NewRepositories creates all repositories bound to the client's pool
func NewRepositories(client *Client) *Repositories {
	return newRepositories(client.DB())
}

// WithTx returns repositories bound to the given transaction
func (r *Repositories) WithTx(tx *Tx) *Repositories {
	return newRepositories(tx.Tx())
}

func newRepositories(db DBTX) *Repositories {
	return &Repositories{
		Contracts:   NewContractRepository(db),
		Submissions: NewSubmissionRepository(db),
		Events:      NewEventRepository(db),
		Idempotency: NewIdempotencyRepository(db),
	}
}
