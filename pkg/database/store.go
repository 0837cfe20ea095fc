// Copyright 2025 Clearing Protocol
//
// Store - the unit-of-work surface consumed by the escrow and
// verification services. Within() opens a transaction, hands the
// caller a transaction-bound repository view, and commits on success
// or rolls back entirely: all writes become visible together or not
// at all. Per-contract serialisation comes from GetContractForUpdate's
// row lock inside the transaction.

package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// StoreTx is the transactional repository view handed to a unit of work.
type StoreTx interface {
	// Contracts
	CreateContract(ctx context.Context, contract *Contract) error
	GetContractForUpdate(ctx context.Context, id uuid.UUID) (*Contract, error)
	UpdateContractStatus(ctx context.Context, contract *Contract, newStatus domain.Status) error
	IncrementRetry(ctx context.Context, contract *Contract) error
	SetWorker(ctx context.Context, contract *Contract, workerID string) error
	SetFunding(ctx context.Context, contract *Contract, wallet, fundingRef string) error
	SetSettlement(ctx context.Context, contract *Contract, settlementRef string) error

	// Submissions
	AddSubmission(ctx context.Context, submission *Submission) error
	LatestSubmission(ctx context.Context, contractID uuid.UUID) (*Submission, error)
	UpdateSubmissionVerification(ctx context.Context, submission *Submission, isValid bool, result json.RawMessage) error

	// Event log (append is the only write)
	AppendEvent(ctx context.Context, input *NewEvent) (*Event, error)

	// Idempotency
	GetIdempotencyKey(ctx context.Context, key string) (*IdempotencyKey, error)
	PutIdempotencyKey(ctx context.Context, key string, contractID uuid.UUID, response json.RawMessage) error
}

// Store opens units of work and serves plain reads.
type Store interface {
	// Within runs fn inside a transaction
	Within(ctx context.Context, fn func(tx StoreTx) error) error

	// Plain reads (single-statement consistency)
	GetContract(ctx context.Context, id uuid.UUID) (*Contract, error)
	ListContractsByStatus(ctx context.Context, status domain.Status) ([]*Contract, error)
	ListContractsByBuyer(ctx context.Context, buyerID string) ([]*Contract, error)
	ListSubmissions(ctx context.Context, contractID uuid.UUID) ([]*Submission, error)
	ListEventsForContract(ctx context.Context, contractID uuid.UUID) ([]*Event, error)
}

// SQLStore implements Store on the PostgreSQL client
type SQLStore struct {
	client *Client
	repos  *Repositories
}

// NewStore creates a Store backed by the database client
func NewStore(client *Client) *SQLStore {
	return &SQLStore{
		client: client,
		repos:  NewRepositories(client),
	}
}

// Within runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func (s *SQLStore) Within(ctx context.Context, fn func(tx StoreTx) error) error {
	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqlStoreTx{repos: s.repos.WithTx(tx)}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unit of work: %w", err)
	}
	return nil
}

// GetContract retrieves a contract without locking
func (s *SQLStore) GetContract(ctx context.Context, id uuid.UUID) (*Contract, error) {
	return s.repos.Contracts.Get(ctx, id)
}

// ListContractsByStatus retrieves contracts with a given status
func (s *SQLStore) ListContractsByStatus(ctx context.Context, status domain.Status) ([]*Contract, error) {
	return s.repos.Contracts.ListByStatus(ctx, status)
}

// ListContractsByBuyer retrieves contracts posted by a buyer
func (s *SQLStore) ListContractsByBuyer(ctx context.Context, buyerID string) ([]*Contract, error) {
	return s.repos.Contracts.ListByBuyer(ctx, buyerID)
}

// ListSubmissions retrieves a contract's submissions, newest first
func (s *SQLStore) ListSubmissions(ctx context.Context, contractID uuid.UUID) ([]*Submission, error) {
	return s.repos.Submissions.ListByContract(ctx, contractID)
}

// ListEventsForContract retrieves a contract's audit trail, ascending
func (s *SQLStore) ListEventsForContract(ctx context.Context, contractID uuid.UUID) ([]*Event, error) {
	return s.repos.Events.ListForContract(ctx, contractID)
}

// SwapDescriptor replaces a contract's verification descriptor.
// Used only by the simulation harness to flip the mock verdict
// between submissions; production descriptors are immutable.
func (s *SQLStore) SwapDescriptor(ctx context.Context, contractID uuid.UUID, descriptor json.RawMessage) error {
	_, err := s.client.ExecContext(ctx,
		`UPDATE contracts SET verification_descriptor = $1 WHERE id = $2`,
		[]byte(descriptor), contractID)
	if err != nil {
		return fmt.Errorf("failed to swap descriptor: %w", err)
	}
	return nil
}

// sqlStoreTx adapts transaction-bound repositories to StoreTx
type sqlStoreTx struct {
	repos *Repositories
}

func (t *sqlStoreTx) CreateContract(ctx context.Context, contract *Contract) error {
	return t.repos.Contracts.Create(ctx, contract)
}

func (t *sqlStoreTx) GetContractForUpdate(ctx context.Context, id uuid.UUID) (*Contract, error) {
	return t.repos.Contracts.GetForUpdate(ctx, id)
}

func (t *sqlStoreTx) UpdateContractStatus(ctx context.Context, contract *Contract, newStatus domain.Status) error {
	return t.repos.Contracts.UpdateStatus(ctx, contract, newStatus)
}

func (t *sqlStoreTx) IncrementRetry(ctx context.Context, contract *Contract) error {
	return t.repos.Contracts.IncrementRetry(ctx, contract)
}

func (t *sqlStoreTx) SetWorker(ctx context.Context, contract *Contract, workerID string) error {
	return t.repos.Contracts.SetWorker(ctx, contract, workerID)
}

func (t *sqlStoreTx) SetFunding(ctx context.Context, contract *Contract, wallet, fundingRef string) error {
	return t.repos.Contracts.SetFunding(ctx, contract, wallet, fundingRef)
}

func (t *sqlStoreTx) SetSettlement(ctx context.Context, contract *Contract, settlementRef string) error {
	return t.repos.Contracts.SetSettlement(ctx, contract, settlementRef)
}

func (t *sqlStoreTx) AddSubmission(ctx context.Context, submission *Submission) error {
	return t.repos.Submissions.Create(ctx, submission)
}

func (t *sqlStoreTx) LatestSubmission(ctx context.Context, contractID uuid.UUID) (*Submission, error) {
	return t.repos.Submissions.Latest(ctx, contractID)
}

func (t *sqlStoreTx) UpdateSubmissionVerification(ctx context.Context, submission *Submission, isValid bool, result json.RawMessage) error {
	return t.repos.Submissions.UpdateVerification(ctx, submission, isValid, result)
}

func (t *sqlStoreTx) AppendEvent(ctx context.Context, input *NewEvent) (*Event, error) {
	return t.repos.Events.Append(ctx, input)
}

func (t *sqlStoreTx) GetIdempotencyKey(ctx context.Context, key string) (*IdempotencyKey, error) {
	return t.repos.Idempotency.Get(ctx, key)
}

func (t *sqlStoreTx) PutIdempotencyKey(ctx context.Context, key string, contractID uuid.UUID, response json.RawMessage) error {
	return t.repos.Idempotency.Put(ctx, key, contractID, response)
}
