// Copyright 2025 Clearing Protocol
//
// Memory Store - an in-process implementation of Store for local
// development, dry-run simulations, and tests. Units of work hold one
// store-wide mutex, which is a stricter serialisation than the SQL
// store's per-contract row locks but preserves the same observable
// guarantees: writes commit together or roll back together, and
// concurrent units of work on a contract never interleave.

package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// MemoryStore implements Store entirely in memory
type MemoryStore struct {
	mu          sync.Mutex
	contracts   map[uuid.UUID]*Contract
	submissions map[uuid.UUID][]*Submission // insertion order, oldest first
	events      map[uuid.UUID][]*Event      // insertion order, oldest first
	idempotency map[string]*IdempotencyKey
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts:   make(map[uuid.UUID]*Contract),
		submissions: make(map[uuid.UUID][]*Submission),
		events:      make(map[uuid.UUID][]*Event),
		idempotency: make(map[string]*IdempotencyKey),
	}
}

// Within runs fn under the store mutex. On error the pre-transaction
// state is restored, so partial writes are never observable.
func (s *MemoryStore) Within(ctx context.Context, fn func(tx StoreTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.clone()
	if err := fn(&memoryTx{store: s, ctx: ctx}); err != nil {
		s.contracts = snapshot.contracts
		s.submissions = snapshot.submissions
		s.events = snapshot.events
		s.idempotency = snapshot.idempotency
		return err
	}
	return nil
}

// GetContract retrieves a contract copy
func (s *MemoryStore) GetContract(ctx context.Context, id uuid.UUID) (*Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contract, ok := s.contracts[id]
	if !ok {
		return nil, ErrContractNotFound
	}
	return copyContract(contract), nil
}

// ListContractsByStatus retrieves contracts with a status, newest first
func (s *MemoryStore) ListContractsByStatus(ctx context.Context, status domain.Status) ([]*Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Contract
	for _, contract := range s.contracts {
		if contract.Status == status {
			out = append(out, copyContract(contract))
		}
	}
	sortContractsNewestFirst(out)
	return out, nil
}

// ListContractsByBuyer retrieves a buyer's contracts, newest first
func (s *MemoryStore) ListContractsByBuyer(ctx context.Context, buyerID string) ([]*Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Contract
	for _, contract := range s.contracts {
		if contract.BuyerID == buyerID {
			out = append(out, copyContract(contract))
		}
	}
	sortContractsNewestFirst(out)
	return out, nil
}

// ListSubmissions retrieves a contract's submissions, newest first
func (s *MemoryStore) ListSubmissions(ctx context.Context, contractID uuid.UUID) ([]*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.submissions[contractID]
	out := make([]*Submission, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, copySubmission(stored[i]))
	}
	return out, nil
}

// ListEventsForContract retrieves a contract's audit trail, ascending
func (s *MemoryStore) ListEventsForContract(ctx context.Context, contractID uuid.UUID) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.events[contractID]
	out := make([]*Event, 0, len(stored))
	for _, event := range stored {
		out = append(out, copyEvent(event))
	}
	return out, nil
}

// SwapDescriptor replaces a contract's verification descriptor
// (simulation-only hook; see SQLStore.SwapDescriptor).
func (s *MemoryStore) SwapDescriptor(ctx context.Context, contractID uuid.UUID, descriptor json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contract, ok := s.contracts[contractID]
	if !ok {
		return ErrContractNotFound
	}
	contract.VerificationDescriptor = append(json.RawMessage(nil), descriptor...)
	return nil
}

// ============================================================================
// TRANSACTION VIEW
// ============================================================================

// memoryTx mutates the live store; Within restores the snapshot on error
type memoryTx struct {
	store *MemoryStore
	ctx   context.Context
}

func (t *memoryTx) CreateContract(ctx context.Context, contract *Contract) error {
	if _, exists := t.store.contracts[contract.ID]; exists {
		return fmt.Errorf("contract %s already exists", contract.ID)
	}
	t.store.contracts[contract.ID] = copyContract(contract)
	return nil
}

func (t *memoryTx) GetContractForUpdate(ctx context.Context, id uuid.UUID) (*Contract, error) {
	contract, ok := t.store.contracts[id]
	if !ok {
		return nil, ErrContractNotFound
	}
	return copyContract(contract), nil
}

func (t *memoryTx) UpdateContractStatus(ctx context.Context, contract *Contract, newStatus domain.Status) error {
	stored, ok := t.store.contracts[contract.ID]
	if !ok {
		return ErrContractNotFound
	}
	now := time.Now().UTC()
	stored.Status = newStatus
	stored.UpdatedAt = now
	contract.Status = newStatus
	contract.UpdatedAt = now
	return nil
}

func (t *memoryTx) IncrementRetry(ctx context.Context, contract *Contract) error {
	stored, ok := t.store.contracts[contract.ID]
	if !ok {
		return ErrContractNotFound
	}
	now := time.Now().UTC()
	stored.RetryCount++
	stored.UpdatedAt = now
	contract.RetryCount = stored.RetryCount
	contract.UpdatedAt = now
	return nil
}

func (t *memoryTx) SetWorker(ctx context.Context, contract *Contract, workerID string) error {
	stored, ok := t.store.contracts[contract.ID]
	if !ok {
		return ErrContractNotFound
	}
	if stored.WorkerID.Valid {
		return &domain.WorkerAlreadyAssignedError{ContractID: contract.ID.String()}
	}
	now := time.Now().UTC()
	stored.WorkerID.String = workerID
	stored.WorkerID.Valid = true
	stored.UpdatedAt = now
	contract.WorkerID = stored.WorkerID
	contract.UpdatedAt = now
	return nil
}

func (t *memoryTx) SetFunding(ctx context.Context, contract *Contract, wallet, fundingRef string) error {
	stored, ok := t.store.contracts[contract.ID]
	if !ok {
		return ErrContractNotFound
	}
	now := time.Now().UTC()
	stored.EscrowWallet.String, stored.EscrowWallet.Valid = wallet, true
	stored.FundingRef.String, stored.FundingRef.Valid = fundingRef, true
	stored.UpdatedAt = now
	contract.EscrowWallet = stored.EscrowWallet
	contract.FundingRef = stored.FundingRef
	contract.UpdatedAt = now
	return nil
}

func (t *memoryTx) SetSettlement(ctx context.Context, contract *Contract, settlementRef string) error {
	stored, ok := t.store.contracts[contract.ID]
	if !ok {
		return ErrContractNotFound
	}
	now := time.Now().UTC()
	stored.SettlementRef.String, stored.SettlementRef.Valid = settlementRef, true
	stored.UpdatedAt = now
	contract.SettlementRef = stored.SettlementRef
	contract.UpdatedAt = now
	return nil
}

func (t *memoryTx) AddSubmission(ctx context.Context, submission *Submission) error {
	t.store.submissions[submission.ContractID] =
		append(t.store.submissions[submission.ContractID], copySubmission(submission))
	return nil
}

func (t *memoryTx) LatestSubmission(ctx context.Context, contractID uuid.UUID) (*Submission, error) {
	stored := t.store.submissions[contractID]
	if len(stored) == 0 {
		return nil, ErrSubmissionNotFound
	}
	return copySubmission(stored[len(stored)-1]), nil
}

func (t *memoryTx) UpdateSubmissionVerification(ctx context.Context, submission *Submission, isValid bool, result json.RawMessage) error {
	for _, all := range t.store.submissions {
		for _, stored := range all {
			if stored.ID == submission.ID {
				stored.IsValid.Bool, stored.IsValid.Valid = isValid, true
				stored.VerificationResult = append(json.RawMessage(nil), result...)
				submission.IsValid = stored.IsValid
				submission.VerificationResult = stored.VerificationResult
				return nil
			}
		}
	}
	return nil
}

func (t *memoryTx) AppendEvent(ctx context.Context, input *NewEvent) (*Event, error) {
	event := &Event{
		ID:         uuid.New(),
		ContractID: input.ContractID,
		EventType:  input.EventType,
		NewStatus:  input.NewStatus,
		Actor:      input.Actor,
		Metadata:   append(json.RawMessage(nil), input.Metadata...),
		CreatedAt:  time.Now().UTC(),
	}
	if input.OldStatus != nil {
		event.OldStatus.String = string(*input.OldStatus)
		event.OldStatus.Valid = true
	}
	if event.Actor == "" {
		event.Actor = "SYSTEM"
	}
	t.store.events[input.ContractID] = append(t.store.events[input.ContractID], event)
	return copyEvent(event), nil
}

func (t *memoryTx) GetIdempotencyKey(ctx context.Context, key string) (*IdempotencyKey, error) {
	ik, ok := t.store.idempotency[key]
	if !ok {
		return nil, ErrIdempotencyKeyNotFound
	}
	out := *ik
	return &out, nil
}

func (t *memoryTx) PutIdempotencyKey(ctx context.Context, key string, contractID uuid.UUID, response json.RawMessage) error {
	if _, exists := t.store.idempotency[key]; exists {
		return ErrDuplicateIdempotencyKey
	}
	t.store.idempotency[key] = &IdempotencyKey{
		Key:        key,
		ContractID: contractID,
		Response:   append(json.RawMessage(nil), response...),
		CreatedAt:  time.Now().UTC(),
	}
	return nil
}

// ============================================================================
// COPY HELPERS
// ============================================================================

func (s *MemoryStore) clone() *MemoryStore {
	out := NewMemoryStore()
	for id, contract := range s.contracts {
		out.contracts[id] = copyContract(contract)
	}
	for id, all := range s.submissions {
		copied := make([]*Submission, len(all))
		for i, sub := range all {
			copied[i] = copySubmission(sub)
		}
		out.submissions[id] = copied
	}
	for id, all := range s.events {
		copied := make([]*Event, len(all))
		for i, event := range all {
			copied[i] = copyEvent(event)
		}
		out.events[id] = copied
	}
	for key, ik := range s.idempotency {
		copied := *ik
		out.idempotency[key] = &copied
	}
	return out
}

func copyContract(c *Contract) *Contract {
	out := *c
	out.RequirementsSchema = append(json.RawMessage(nil), c.RequirementsSchema...)
	out.VerificationDescriptor = append(json.RawMessage(nil), c.VerificationDescriptor...)
	return &out
}

func copySubmission(s *Submission) *Submission {
	out := *s
	out.VerificationResult = append(json.RawMessage(nil), s.VerificationResult...)
	return &out
}

func copyEvent(e *Event) *Event {
	out := *e
	out.Metadata = append(json.RawMessage(nil), e.Metadata...)
	return &out
}

func sortContractsNewestFirst(contracts []*Contract) {
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].CreatedAt.After(contracts[j].CreatedAt)
	})
}
