// Copyright 2025 Clearing Protocol
//
// Contract Repository - CRUD operations for escrow contracts
// The escrow service is the only caller that writes through this
// repository; all writes happen inside a caller-managed transaction.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

const contractColumns = `
	id, buyer_id, worker_id, amount, escrow_wallet, funding_ref,
	settlement_ref, status, description, requirements_schema,
	verification_descriptor, max_retries, retry_count, created_at, updated_at`

// ContractRepository handles contract row operations
type ContractRepository struct {
	db DBTX
}

// NewContractRepository creates a new contract repository
func NewContractRepository(db DBTX) *ContractRepository {
	return &ContractRepository{db: db}
}

// Create inserts a new contract row
func (r *ContractRepository) Create(ctx context.Context, contract *Contract) error {
	query := `
		INSERT INTO contracts (
			id, buyer_id, worker_id, amount, escrow_wallet, funding_ref,
			settlement_ref, status, description, requirements_schema,
			verification_descriptor, max_retries, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		contract.ID, contract.BuyerID, contract.WorkerID, contract.Amount,
		contract.EscrowWallet, contract.FundingRef, contract.SettlementRef,
		contract.Status, contract.Description, nullableJSON(contract.RequirementsSchema),
		[]byte(contract.VerificationDescriptor), contract.MaxRetries, contract.RetryCount,
		contract.CreatedAt, contract.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

// Get retrieves a contract by ID
func (r *ContractRepository) Get(ctx context.Context, id uuid.UUID) (*Contract, error) {
	query := `SELECT` + contractColumns + ` FROM contracts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetForUpdate retrieves a contract by ID and takes its row lock.
// Concurrent units of work on the same contract serialise here.
// Must be called inside a transaction.
func (r *ContractRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Contract, error) {
	query := `SELECT` + contractColumns + ` FROM contracts WHERE id = $1 FOR UPDATE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// ListByStatus retrieves all contracts with a given status, newest first
func (r *ContractRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*Contract, error) {
	query := `SELECT` + contractColumns + ` FROM contracts WHERE status = $1 ORDER BY created_at DESC`
	return r.scanMany(ctx, query, string(status))
}

// ListByBuyer retrieves all contracts posted by a buyer, newest first
func (r *ContractRepository) ListByBuyer(ctx context.Context, buyerID string) ([]*Contract, error) {
	query := `SELECT` + contractColumns + ` FROM contracts WHERE buyer_id = $1 ORDER BY created_at DESC`
	return r.scanMany(ctx, query, buyerID)
}

// ListByWorker retrieves all contracts assigned to a worker, newest first
func (r *ContractRepository) ListByWorker(ctx context.Context, workerID string) ([]*Contract, error) {
	query := `SELECT` + contractColumns + ` FROM contracts WHERE worker_id = $1 ORDER BY created_at DESC`
	return r.scanMany(ctx, query, workerID)
}

// UpdateStatus sets the contract status and bumps updated_at. The
// caller is responsible for having validated the transition through
// the state machine.
func (r *ContractRepository) UpdateStatus(ctx context.Context, contract *Contract, newStatus domain.Status) error {
	now := time.Now().UTC()
	query := `UPDATE contracts SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, string(newStatus), now, contract.ID); err != nil {
		return fmt.Errorf("failed to update contract status: %w", err)
	}
	contract.Status = newStatus
	contract.UpdatedAt = now
	return nil
}

// IncrementRetry bumps the retry counter by one
func (r *ContractRepository) IncrementRetry(ctx context.Context, contract *Contract) error {
	now := time.Now().UTC()
	query := `UPDATE contracts SET retry_count = retry_count + 1, updated_at = $1 WHERE id = $2 RETURNING retry_count`
	if err := r.db.QueryRowContext(ctx, query, now, contract.ID).Scan(&contract.RetryCount); err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	contract.UpdatedAt = now
	return nil
}

// SetWorker assigns the worker. Worker identity is set once per
// contract and never rewritten.
func (r *ContractRepository) SetWorker(ctx context.Context, contract *Contract, workerID string) error {
	now := time.Now().UTC()
	query := `UPDATE contracts SET worker_id = $1, updated_at = $2 WHERE id = $3 AND worker_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, workerID, now, contract.ID)
	if err != nil {
		return fmt.Errorf("failed to set worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set worker: %w", err)
	}
	if n == 0 {
		return &domain.WorkerAlreadyAssignedError{ContractID: contract.ID.String()}
	}
	contract.WorkerID = sql.NullString{String: workerID, Valid: true}
	contract.UpdatedAt = now
	return nil
}

// SetFunding records the escrow wallet and funding reference
func (r *ContractRepository) SetFunding(ctx context.Context, contract *Contract, wallet, fundingRef string) error {
	now := time.Now().UTC()
	query := `UPDATE contracts SET escrow_wallet = $1, funding_ref = $2, updated_at = $3 WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, wallet, fundingRef, now, contract.ID); err != nil {
		return fmt.Errorf("failed to set funding: %w", err)
	}
	contract.EscrowWallet = sql.NullString{String: wallet, Valid: true}
	contract.FundingRef = sql.NullString{String: fundingRef, Valid: true}
	contract.UpdatedAt = now
	return nil
}

// SetSettlement records the settlement reference after payout
func (r *ContractRepository) SetSettlement(ctx context.Context, contract *Contract, settlementRef string) error {
	now := time.Now().UTC()
	query := `UPDATE contracts SET settlement_ref = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, settlementRef, now, contract.ID); err != nil {
		return fmt.Errorf("failed to set settlement: %w", err)
	}
	contract.SettlementRef = sql.NullString{String: settlementRef, Valid: true}
	contract.UpdatedAt = now
	return nil
}

func (r *ContractRepository) scanOne(row *sql.Row) (*Contract, error) {
	contract := &Contract{}
	var reqSchema, descriptor []byte
	err := row.Scan(
		&contract.ID, &contract.BuyerID, &contract.WorkerID, &contract.Amount,
		&contract.EscrowWallet, &contract.FundingRef, &contract.SettlementRef,
		&contract.Status, &contract.Description, &reqSchema, &descriptor,
		&contract.MaxRetries, &contract.RetryCount, &contract.CreatedAt, &contract.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	contract.RequirementsSchema = reqSchema
	contract.VerificationDescriptor = descriptor
	return contract, nil
}

func (r *ContractRepository) scanMany(ctx context.Context, query string, args ...interface{}) ([]*Contract, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []*Contract
	for rows.Next() {
		contract := &Contract{}
		var reqSchema, descriptor []byte
		err := rows.Scan(
			&contract.ID, &contract.BuyerID, &contract.WorkerID, &contract.Amount,
			&contract.EscrowWallet, &contract.FundingRef, &contract.SettlementRef,
			&contract.Status, &contract.Description, &reqSchema, &descriptor,
			&contract.MaxRetries, &contract.RetryCount, &contract.CreatedAt, &contract.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		contract.RequirementsSchema = reqSchema
		contract.VerificationDescriptor = descriptor
		contracts = append(contracts, contract)
	}

	return contracts, rows.Err()
}

// nullableJSON converts an empty raw message to a SQL NULL
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
