// Copyright 2025 Clearing Protocol
//
// Escrow Service - the contract lifecycle orchestrator and the only
// component authorised to mutate a contract's status. Every public
// method follows the same pattern inside one unit of work:
//
//  1. Load the contract (row-locked).
//  2. Construct the state machine at the current status.
//  3. Fire the event (illegal transitions are rejected here).
//  4. Apply domain updates (wallets, refs, retry counter, submissions).
//  5. Append the canonical audit event.
//
// The unit of work commits on success or rolls back entirely; there is
// no partial observable state.

package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentclearing/clearinghouse/pkg/database"
	"github.com/agentclearing/clearinghouse/pkg/domain"
	"github.com/agentclearing/clearinghouse/pkg/metrics"
	"github.com/agentclearing/clearinghouse/pkg/payment"
)

// EventMirror receives committed audit events for best-effort
// replication (e.g. the Firestore UI mirror). Implementations must
// never block for long and must swallow their own failures.
type EventMirror interface {
	RecordEvent(ctx context.Context, event *database.Event)
}

// Service manages the escrow contract lifecycle
type Service struct {
	store    database.Store
	payments payment.Adapter
	metrics  *metrics.Metrics
	mirror   EventMirror
	logger   *log.Logger

	defaultMaxRetries int
	maxPayloadBytes   int
}

// ServiceConfig holds the service's dependencies
type ServiceConfig struct {
	Store    database.Store
	Payments payment.Adapter
	Metrics  *metrics.Metrics
	Mirror   EventMirror
	Logger   *log.Logger

	DefaultMaxRetries int
	MaxPayloadBytes   int
}

// NewService creates the escrow service
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Payments == nil {
		return nil, fmt.Errorf("payment adapter is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Escrow] ", log.LstdFlags)
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 3
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 1 << 20
	}

	return &Service{
		store:             cfg.Store,
		payments:          cfg.Payments,
		metrics:           cfg.Metrics,
		mirror:            cfg.Mirror,
		logger:            cfg.Logger,
		defaultMaxRetries: cfg.DefaultMaxRetries,
		maxPayloadBytes:   cfg.MaxPayloadBytes,
	}, nil
}

// ============================================================================
// CONTRACT CREATION
// ============================================================================

// CreateContractInput describes a new escrow contract
type CreateContractInput struct {
	BuyerID            string
	Amount             decimal.Decimal
	Description        string
	Descriptor         json.RawMessage
	RequirementsSchema json.RawMessage
	MaxRetries         int

	// IdempotencyKey, when set, pins this creation: a reuse of the key
	// fails with DuplicateOperationError carrying the original result.
	IdempotencyKey string
}

// CreateContract creates a new contract in CREATED state and emits
// CONTRACT_CREATED with a null old_status.
func (s *Service) CreateContract(ctx context.Context, input *CreateContractInput) (*database.Contract, error) {
	if input.BuyerID == "" {
		return nil, fmt.Errorf("buyer id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%s: amount must be positive, got %s", domain.CodeInvalidAmount, input.Amount)
	}
	if _, err := domain.ParseDescriptor(input.Descriptor); err != nil {
		return nil, err
	}

	maxRetries := input.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.defaultMaxRetries
	}

	now := time.Now().UTC()
	contract := &database.Contract{
		ID:                     uuid.New(),
		BuyerID:                input.BuyerID,
		Amount:                 input.Amount,
		Status:                 domain.StatusCreated,
		Description:            input.Description,
		RequirementsSchema:     input.RequirementsSchema,
		VerificationDescriptor: input.Descriptor,
		MaxRetries:             maxRetries,
		RetryCount:             0,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	var mirrored []*database.Event
	err := s.store.Within(ctx, func(tx database.StoreTx) error {
		if input.IdempotencyKey != "" {
			if existing, err := tx.GetIdempotencyKey(ctx, input.IdempotencyKey); err == nil {
				return &domain.DuplicateOperationError{
					Key:            input.IdempotencyKey,
					OriginalResult: existing.Response,
				}
			} else if !errors.Is(err, database.ErrIdempotencyKeyNotFound) {
				return err
			}
		}

		if err := tx.CreateContract(ctx, contract); err != nil {
			return err
		}

		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventContractCreated,
			OldStatus:  nil,
			NewStatus:  domain.StatusCreated,
			Actor:      input.BuyerID,
			Metadata:   mustJSON(map[string]any{"description": input.Description}),
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)

		if input.IdempotencyKey != "" {
			response := mustJSON(map[string]any{"contract_id": contract.ID.String()})
			if err := tx.PutIdempotencyKey(ctx, input.IdempotencyKey, contract.ID, response); err != nil {
				if errors.Is(err, database.ErrDuplicateIdempotencyKey) {
					return &domain.DuplicateOperationError{Key: input.IdempotencyKey}
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ContractsCreated.Inc()
	s.mirrorEvents(ctx, mirrored)
	s.logger.Printf("Created contract %s for buyer %s (amount %s)",
		contract.ID, input.BuyerID, input.Amount.StringFixed(6))
	return contract, nil
}

// ============================================================================
// FUNDING
// ============================================================================

// FundContract provisions an escrow wallet, confirms the buyer's
// deposit through the payment adapter, and transitions CREATED -> FUNDED.
func (s *Service) FundContract(ctx context.Context, contractID uuid.UUID) (*database.Contract, error) {
	// Pre-flight read so funding is never attempted for a terminal or
	// already-funded contract. The transition is re-validated under
	// the row lock below.
	preflight, err := s.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ValidateTransition(preflight.Status, domain.EventFireOnChainConfirmed); err != nil {
		s.metrics.IllegalTransitions.Inc()
		return nil, err
	}

	// Payment adapter calls are suspension points; no lock is held here
	wallet, err := s.payments.CreateEscrowWallet(ctx)
	if err != nil {
		return nil, &domain.PaymentError{Op: "create_escrow_wallet", Err: err}
	}
	fundingRef, err := s.payments.ConfirmFunding(ctx, wallet, preflight.Amount, preflight.BuyerID)
	if err != nil {
		return nil, &domain.PaymentError{Op: "confirm_funding", Err: err}
	}

	var contract *database.Contract
	var mirrored []*database.Event
	err = s.store.Within(ctx, func(tx database.StoreTx) error {
		var err error
		contract, err = s.getForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}

		oldStatus, newStatus, err := s.fire(contract, domain.EventFireOnChainConfirmed)
		if err != nil {
			return err
		}

		if err := tx.SetFunding(ctx, contract, wallet, fundingRef); err != nil {
			return err
		}
		if err := tx.UpdateContractStatus(ctx, contract, newStatus); err != nil {
			return err
		}

		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventContractFunded,
			OldStatus:  &oldStatus,
			NewStatus:  newStatus,
			Actor:      domain.ActorSystem,
			Metadata:   mustJSON(map[string]any{"funding_ref": fundingRef, "escrow_wallet": wallet}),
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(domain.EventFireOnChainConfirmed)).Inc()
	s.mirrorEvents(ctx, mirrored)
	s.logger.Printf("Funded contract %s (wallet %s, ref %s)", contractID, wallet, fundingRef)
	return contract, nil
}

// ============================================================================
// WORKER ASSIGNMENT
// ============================================================================

// AcceptContract assigns the worker and transitions FUNDED ->
// IN_PROGRESS. A second accept fails with WorkerAlreadyAssignedError
// even when the state-machine event would succeed.
func (s *Service) AcceptContract(ctx context.Context, contractID uuid.UUID, workerID string) (*database.Contract, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}

	var contract *database.Contract
	var mirrored []*database.Event
	err := s.store.Within(ctx, func(tx database.StoreTx) error {
		var err error
		contract, err = s.getForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}

		if contract.WorkerID.Valid {
			return &domain.WorkerAlreadyAssignedError{ContractID: contractID.String()}
		}

		oldStatus, newStatus, err := s.fire(contract, domain.EventFireWorkerAccepts)
		if err != nil {
			return err
		}

		if err := tx.SetWorker(ctx, contract, workerID); err != nil {
			return err
		}
		if err := tx.UpdateContractStatus(ctx, contract, newStatus); err != nil {
			return err
		}

		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventWorkerAssigned,
			OldStatus:  &oldStatus,
			NewStatus:  newStatus,
			Actor:      workerID,
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(domain.EventFireWorkerAccepts)).Inc()
	s.mirrorEvents(ctx, mirrored)
	s.logger.Printf("Worker %s accepted contract %s", workerID, contractID)
	return contract, nil
}

// ============================================================================
// WORK SUBMISSION
// ============================================================================

// SubmitWork stores the submission and transitions IN_PROGRESS -> SUBMITTED.
func (s *Service) SubmitWork(ctx context.Context, contractID uuid.UUID, payload string, workerID string) (*database.Submission, error) {
	if len(payload) > s.maxPayloadBytes {
		return nil, fmt.Errorf("%s: payload is %d bytes, ceiling is %d",
			domain.CodePayloadTooLarge, len(payload), s.maxPayloadBytes)
	}

	submission := &database.Submission{
		ID:          uuid.New(),
		ContractID:  contractID,
		Payload:     payload,
		SubmittedAt: time.Now().UTC(),
	}

	var mirrored []*database.Event
	err := s.store.Within(ctx, func(tx database.StoreTx) error {
		contract, err := s.getForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}

		oldStatus, newStatus, err := s.fire(contract, domain.EventFireWorkerSubmits)
		if err != nil {
			return err
		}

		actor := workerID
		if actor == "" && contract.WorkerID.Valid {
			actor = contract.WorkerID.String
		}
		if actor == "" {
			actor = "UNKNOWN"
		}
		submission.SubmittedBy.String = actor
		submission.SubmittedBy.Valid = true

		if err := tx.UpdateContractStatus(ctx, contract, newStatus); err != nil {
			return err
		}
		if err := tx.AddSubmission(ctx, submission); err != nil {
			return err
		}

		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventWorkSubmitted,
			OldStatus:  &oldStatus,
			NewStatus:  newStatus,
			Actor:      actor,
			Metadata:   mustJSON(map[string]any{"submission_id": submission.ID.String()}),
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(domain.EventFireWorkerSubmits)).Inc()
	s.mirrorEvents(ctx, mirrored)
	s.logger.Printf("Work submitted for contract %s (submission %s)", contractID, submission.ID)
	return submission, nil
}

// ============================================================================
// VERIFICATION TRANSITIONS
// ============================================================================

// StartVerification transitions SUBMITTED -> VERIFYING.
func (s *Service) StartVerification(ctx context.Context, contractID uuid.UUID) (*database.Contract, error) {
	return s.simpleTransition(ctx, contractID, domain.EventFireAutoVerify,
		domain.EventVerificationStarted, domain.ActorSystem, nil)
}

// RecordVerificationPassed records a successful verification,
// transitions VERIFYING -> COMPLETED, then settles the deposit through
// the payment adapter. Settlement happens after the transition is
// committed: if the adapter then fails, the contract remains COMPLETED
// without a settlement_ref and the caller receives a PaymentError to
// reconcile operationally.
func (s *Service) RecordVerificationPassed(ctx context.Context, contractID, submissionID uuid.UUID, result *domain.VerifyResult) (*database.Contract, error) {
	var contract *database.Contract
	var mirrored []*database.Event
	err := s.store.Within(ctx, func(tx database.StoreTx) error {
		var err error
		contract, err = s.getForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}

		oldStatus, newStatus, err := s.fire(contract, domain.EventFireVerificationPassed)
		if err != nil {
			return err
		}

		if err := tx.UpdateContractStatus(ctx, contract, newStatus); err != nil {
			return err
		}
		if submissionID != uuid.Nil {
			submission := &database.Submission{ID: submissionID}
			if err := tx.UpdateSubmissionVerification(ctx, submission, true, result.ToJSON()); err != nil {
				return err
			}
		}

		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventVerificationPassed,
			OldStatus:  &oldStatus,
			NewStatus:  newStatus,
			Actor:      domain.ActorSystem,
			Metadata:   result.ToJSON(),
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(domain.EventFireVerificationPassed)).Inc()
	s.mirrorEvents(ctx, mirrored)
	s.logger.Printf("Verification passed for contract %s", contractID)

	if err := s.settle(ctx, contract); err != nil {
		return contract, err
	}
	return contract, nil
}

// RecordVerificationFailed records a failed verification. The retry
// counter is incremented first; the post-increment value selects
// between verification_failed_retry (back to IN_PROGRESS) and
// max_retries_exceeded (terminal FAILED).
func (s *Service) RecordVerificationFailed(ctx context.Context, contractID, submissionID uuid.UUID, result *domain.VerifyResult) (*database.Contract, error) {
	var contract *database.Contract
	var firedEvent domain.Event
	var mirrored []*database.Event
	err := s.store.Within(ctx, func(tx database.StoreTx) error {
		var err error
		contract, err = s.getForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}

		if submissionID != uuid.Nil {
			submission := &database.Submission{ID: submissionID}
			if err := tx.UpdateSubmissionVerification(ctx, submission, false, result.ToJSON()); err != nil {
				return err
			}
		}

		// Increment before deciding: retry_count >= max_retries is then
		// a local check with no off-by-one ambiguity.
		if err := tx.IncrementRetry(ctx, contract); err != nil {
			return err
		}

		firedEvent = domain.EventFireVerificationFailedRetry
		auditType := domain.EventVerificationFailed
		if contract.RetryCount >= contract.MaxRetries {
			firedEvent = domain.EventFireMaxRetriesExceeded
			auditType = domain.EventMaxRetriesExceeded
		}

		oldStatus, newStatus, err := s.fire(contract, firedEvent)
		if err != nil {
			return err
		}
		if err := tx.UpdateContractStatus(ctx, contract, newStatus); err != nil {
			return err
		}

		metadata := resultWithRetry(result, contract.RetryCount)
		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  auditType,
			OldStatus:  &oldStatus,
			NewStatus:  newStatus,
			Actor:      domain.ActorSystem,
			Metadata:   metadata,
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(firedEvent)).Inc()
	s.mirrorEvents(ctx, mirrored)
	if contract.Status == domain.StatusFailed {
		s.logger.Printf("Contract %s failed permanently after %d retries", contractID, contract.RetryCount)
	} else {
		s.logger.Printf("Verification failed for contract %s (retry %d/%d)",
			contractID, contract.RetryCount, contract.MaxRetries)
	}
	return contract, nil
}

// ============================================================================
// DISPUTES AND EXPIRY
// ============================================================================

// RaiseDispute transitions FUNDED or IN_PROGRESS -> DISPUTED.
func (s *Service) RaiseDispute(ctx context.Context, contractID uuid.UUID, reason, raisedBy string) (*database.Contract, error) {
	return s.simpleTransition(ctx, contractID, domain.EventFireBuyerDisputes,
		domain.EventDisputeRaised, raisedBy, map[string]any{"reason": reason})
}

// ResolveDispute settles a DISPUTED contract for the worker
// (-> COMPLETED, with payout when a worker is assigned) or for the
// buyer (-> FAILED).
func (s *Service) ResolveDispute(ctx context.Context, contractID uuid.UUID, forWorker bool, resolvedBy string) (*database.Contract, error) {
	fireEvent := domain.EventFireDisputeResolvedForBuyer
	auditType := domain.EventDisputeResolvedBuyer
	if forWorker {
		fireEvent = domain.EventFireDisputeResolvedForWorker
		auditType = domain.EventDisputeResolvedWorker
	}

	contract, err := s.simpleTransition(ctx, contractID, fireEvent, auditType, resolvedBy, nil)
	if err != nil {
		return nil, err
	}

	// A dispute resolved for the worker settles like a passed
	// verification. A contract disputed straight from FUNDED has no
	// worker yet; there is nobody to pay.
	if forWorker && contract.WorkerID.Valid {
		if err := s.settle(ctx, contract); err != nil {
			return contract, err
		}
	}
	return contract, nil
}

// ExpireContract transitions CREATED -> FAILED when the funding
// deadline lapses.
func (s *Service) ExpireContract(ctx context.Context, contractID uuid.UUID) (*database.Contract, error) {
	return s.simpleTransition(ctx, contractID, domain.EventFireTimeoutExpired,
		domain.EventContractExpired, domain.ActorSystem, nil)
}

// ============================================================================
// READS
// ============================================================================

// GetContract fetches a contract or fails with ContractNotFoundError.
func (s *Service) GetContract(ctx context.Context, contractID uuid.UUID) (*database.Contract, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if errors.Is(err, database.ErrContractNotFound) {
		return nil, &domain.ContractNotFoundError{ContractID: contractID.String()}
	}
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// ContractStatus is the lightweight status view
type ContractStatus struct {
	ContractID    string         `json:"contract_id"`
	Status        domain.Status  `json:"status"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	AllowedEvents []domain.Event `json:"allowed_events"`
}

// GetStatus returns the current status with its allowed events and
// retry counters.
func (s *Service) GetStatus(ctx context.Context, contractID uuid.UUID) (*ContractStatus, error) {
	contract, err := s.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	machine, err := domain.NewMachine(contract.Status)
	if err != nil {
		return nil, err
	}
	return &ContractStatus{
		ContractID:    contract.ID.String(),
		Status:        contract.Status,
		RetryCount:    contract.RetryCount,
		MaxRetries:    contract.MaxRetries,
		AllowedEvents: machine.AllowedEvents(),
	}, nil
}

// GetEvents returns the contract's audit trail in ascending order.
func (s *Service) GetEvents(ctx context.Context, contractID uuid.UUID) ([]*database.Event, error) {
	if _, err := s.GetContract(ctx, contractID); err != nil {
		return nil, err
	}
	return s.store.ListEventsForContract(ctx, contractID)
}

// ListByStatus returns contracts in the given status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status domain.Status) ([]*database.Contract, error) {
	if !status.IsValid() {
		return nil, &domain.UnknownStateError{State: string(status)}
	}
	return s.store.ListContractsByStatus(ctx, status)
}

// ListByBuyer returns a buyer's contracts, newest first.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string) ([]*database.Contract, error) {
	return s.store.ListContractsByBuyer(ctx, buyerID)
}

// ============================================================================
// INTERNAL HELPERS
// ============================================================================

// settle pays the deposit out to the worker after a terminal
// COMPLETED transition has been committed. PAYMENT_INITIATED and
// PAYMENT_CONFIRMED carry no status change (old == new == COMPLETED).
func (s *Service) settle(ctx context.Context, contract *database.Contract) error {
	if !contract.WorkerID.Valid || !contract.EscrowWallet.Valid {
		s.logger.Printf("Skipping settlement for contract %s: no worker or escrow wallet", contract.ID)
		return nil
	}
	worker := contract.WorkerID.String
	wallet := contract.EscrowWallet.String

	var mirrored []*database.Event
	err := s.store.Within(ctx, func(tx database.StoreTx) error {
		status := contract.Status
		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventPaymentInitiated,
			OldStatus:  &status,
			NewStatus:  status,
			Actor:      domain.ActorSystem,
			Metadata:   mustJSON(map[string]any{"worker_id": worker, "amount": contract.Amount.StringFixed(6)}),
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)
		return nil
	})
	if err != nil {
		return err
	}
	s.mirrorEvents(ctx, mirrored)

	settlementRef, err := s.payments.TransferToWorker(ctx, wallet, worker, contract.Amount)
	if err != nil {
		s.metrics.SettlementFailures.Inc()
		s.logger.Printf("Settlement failed for contract %s: %v", contract.ID, err)
		return &domain.PaymentError{Op: "transfer_to_worker", Err: err}
	}

	mirrored = mirrored[:0]
	err = s.store.Within(ctx, func(tx database.StoreTx) error {
		if err := tx.SetSettlement(ctx, contract, settlementRef); err != nil {
			return err
		}
		status := contract.Status
		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventPaymentConfirmed,
			OldStatus:  &status,
			NewStatus:  status,
			Actor:      domain.ActorSystem,
			Metadata:   mustJSON(map[string]any{"settlement_ref": settlementRef}),
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)
		return nil
	})
	if err != nil {
		return err
	}
	s.mirrorEvents(ctx, mirrored)

	s.logger.Printf("Settled contract %s to worker %s (ref %s)", contract.ID, worker, settlementRef)
	return nil
}

// simpleTransition runs the five-step pattern for operations with no
// extra domain updates.
func (s *Service) simpleTransition(ctx context.Context, contractID uuid.UUID, fireEvent domain.Event,
	auditType domain.EventType, actor string, metadata map[string]any) (*database.Contract, error) {

	var contract *database.Contract
	var mirrored []*database.Event
	err := s.store.Within(ctx, func(tx database.StoreTx) error {
		var err error
		contract, err = s.getForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}

		oldStatus, newStatus, err := s.fire(contract, fireEvent)
		if err != nil {
			return err
		}
		if err := tx.UpdateContractStatus(ctx, contract, newStatus); err != nil {
			return err
		}

		var raw json.RawMessage
		if metadata != nil {
			raw = mustJSON(metadata)
		}
		event, err := tx.AppendEvent(ctx, &database.NewEvent{
			ContractID: contract.ID,
			EventType:  auditType,
			OldStatus:  &oldStatus,
			NewStatus:  newStatus,
			Actor:      actor,
			Metadata:   raw,
		})
		if err != nil {
			return err
		}
		mirrored = append(mirrored, event)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(fireEvent)).Inc()
	s.mirrorEvents(ctx, mirrored)
	return contract, nil
}

// getForUpdate loads and row-locks a contract, translating the store's
// sentinel into the domain error.
func (s *Service) getForUpdate(ctx context.Context, tx database.StoreTx, contractID uuid.UUID) (*database.Contract, error) {
	contract, err := tx.GetContractForUpdate(ctx, contractID)
	if errors.Is(err, database.ErrContractNotFound) {
		return nil, &domain.ContractNotFoundError{ContractID: contractID.String()}
	}
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// fire validates the transition through the state machine guard and
// returns (old, new).
func (s *Service) fire(contract *database.Contract, event domain.Event) (domain.Status, domain.Status, error) {
	oldStatus := contract.Status
	machine, err := domain.NewMachine(oldStatus)
	if err != nil {
		return "", "", err
	}
	newStatus, err := machine.Fire(event)
	if err != nil {
		s.metrics.IllegalTransitions.Inc()
		return "", "", err
	}
	return oldStatus, newStatus, nil
}

// mirrorEvents forwards committed events to the UI mirror
func (s *Service) mirrorEvents(ctx context.Context, events []*database.Event) {
	if s.mirror == nil {
		return
	}
	for _, event := range events {
		s.mirror.RecordEvent(ctx, event)
	}
}

// resultWithRetry folds the retry counter into the stored result JSON
func resultWithRetry(result *domain.VerifyResult, retryCount int) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(result.ToJSON(), &m); err != nil {
		m = map[string]any{}
	}
	m["retry_count"] = retryCount
	return mustJSON(m)
}

// mustJSON marshals metadata that is known to be encodable
func mustJSON(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
