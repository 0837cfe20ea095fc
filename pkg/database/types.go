// Copyright 2025 Clearing Protocol
//
// Database row types for contracts, submissions, and audit events.
// These mirror the migrations/001_initial_schema.sql layout exactly.

package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

// Contract is a row of the contracts table — one per posted task.
type Contract struct {
	ID       uuid.UUID       `json:"id"`
	BuyerID  string          `json:"buyer_id"`
	WorkerID sql.NullString  `json:"worker_id"`
	Amount   decimal.Decimal `json:"amount"`

	EscrowWallet  sql.NullString `json:"escrow_wallet"`
	FundingRef    sql.NullString `json:"funding_ref"`
	SettlementRef sql.NullString `json:"settlement_ref"`

	Status      domain.Status `json:"status"`
	Description string        `json:"description"`

	// RequirementsSchema is consumed only by the schema strategy
	RequirementsSchema json.RawMessage `json:"requirements_schema,omitempty"`

	// VerificationDescriptor selects and configures the verifier
	VerificationDescriptor json.RawMessage `json:"verification_descriptor"`

	MaxRetries int `json:"max_retries"`
	RetryCount int `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Descriptor parses the contract's verification descriptor.
func (c *Contract) Descriptor() (*domain.Descriptor, error) {
	return domain.ParseDescriptor(c.VerificationDescriptor)
}

// Submission is a row of the submissions table — zero or more per
// contract, ordered by submitted_at (newest first).
type Submission struct {
	ID          uuid.UUID      `json:"id"`
	ContractID  uuid.UUID      `json:"contract_id"`
	Payload     string         `json:"payload"`
	SubmittedBy sql.NullString `json:"submitted_by"`

	// IsValid is tri-valued: NULL until verified, then true or false
	IsValid sql.NullBool `json:"is_valid"`

	// VerificationResult is the structured strategy output
	VerificationResult json.RawMessage `json:"verification_result,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
}

// Event is a row of the escrow_events table. Append-only: rows are
// never updated or deleted.
type Event struct {
	ID         uuid.UUID        `json:"id"`
	ContractID uuid.UUID        `json:"contract_id"`
	EventType  domain.EventType `json:"event_type"`

	// OldStatus is NULL only for CONTRACT_CREATED
	OldStatus sql.NullString `json:"old_status"`
	NewStatus domain.Status  `json:"new_status"`

	// Actor is a buyer/worker identifier or the literal SYSTEM
	Actor string `json:"actor"`

	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent is the input to EventRepository.Append.
type NewEvent struct {
	ContractID uuid.UUID
	EventType  domain.EventType
	OldStatus  *domain.Status // nil only for contract creation
	NewStatus  domain.Status
	Actor      string
	Metadata   json.RawMessage
}

// IdempotencyKey is a row of the idempotency_keys table. It pins the
// response of the first operation performed under a client key.
type IdempotencyKey struct {
	Key        string          `json:"key"`
	ContractID uuid.UUID       `json:"contract_id"`
	Response   json.RawMessage `json:"response"`
	CreatedAt  time.Time       `json:"created_at"`
}
