// Copyright 2025 Clearing Protocol
//
// Idempotency Repository - pins the response of the first operation
// performed under a client-supplied key so that a replay surfaces the
// original result instead of running twice.

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// IdempotencyRepository handles idempotency key operations
type IdempotencyRepository struct {
	db DBTX
}

// NewIdempotencyRepository creates a new idempotency repository
func NewIdempotencyRepository(db DBTX) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get retrieves a stored idempotency key
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*IdempotencyKey, error) {
	query := `SELECT key, contract_id, response, created_at FROM idempotency_keys WHERE key = $1`

	ik := &IdempotencyKey{}
	var response []byte
	err := r.db.QueryRowContext(ctx, query, key).Scan(&ik.Key, &ik.ContractID, &response, &ik.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	ik.Response = response
	return ik, nil
}

// Put stores a new idempotency key. A duplicate key fails with
// ErrDuplicateIdempotencyKey.
func (r *IdempotencyRepository) Put(ctx context.Context, key string, contractID uuid.UUID, response json.RawMessage) error {
	query := `INSERT INTO idempotency_keys (key, contract_id, response, created_at) VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, key, contractID, []byte(response), time.Now().UTC())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to put idempotency key: %w", err)
	}
	return nil
}
