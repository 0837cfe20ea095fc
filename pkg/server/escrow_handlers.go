// Copyright 2025 Clearing Protocol
//
// Escrow API Handlers
//
// Routes:
//	POST   /api/v1/escrow              — create a new escrow contract
//	GET    /api/v1/escrow/{id}         — get contract details
//	GET    /api/v1/escrow/{id}/status  — lightweight status check
//	GET    /api/v1/escrow/{id}/events  — audit trail
//	POST   /api/v1/escrow/{id}/fund    — provision wallet + confirm funding
//	POST   /api/v1/escrow/{id}/accept  — worker accepts contract
//	POST   /api/v1/escrow/{id}/submit  — submit work + verify + settle
//	POST   /api/v1/escrow/{id}/dispute — raise dispute

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentclearing/clearinghouse/pkg/database"
	"github.com/agentclearing/clearinghouse/pkg/escrow"
)

// EscrowHandlers provides HTTP handlers for the contract lifecycle
type EscrowHandlers struct {
	escrow       *escrow.Service
	verification *escrow.VerificationService
	logger       *log.Logger
}

// NewEscrowHandlers creates new escrow handlers
func NewEscrowHandlers(escrowSvc *escrow.Service, verificationSvc *escrow.VerificationService, logger *log.Logger) *EscrowHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[EscrowAPI] ", log.LstdFlags)
	}
	return &EscrowHandlers{
		escrow:       escrowSvc,
		verification: verificationSvc,
		logger:       logger,
	}
}

// createRequest is the POST /api/v1/escrow body
type createRequest struct {
	BuyerID            string          `json:"buyer_id"`
	Amount             string          `json:"amount"`
	Description        string          `json:"description"`
	Descriptor         json.RawMessage `json:"verification_descriptor"`
	RequirementsSchema json.RawMessage `json:"requirements_schema,omitempty"`
	MaxRetries         int             `json:"max_retries"`
	IdempotencyKey     string          `json:"idempotency_key,omitempty"`
}

// HandleCollection handles POST /api/v1/escrow
func (h *EscrowHandlers) HandleCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "METHOD_NOT_ALLOWED", "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSONError(w, "INVALID_AMOUNT", "amount must be a decimal string", http.StatusBadRequest)
		return
	}

	contract, err := h.escrow.CreateContract(r.Context(), &escrow.CreateContractInput{
		BuyerID:            req.BuyerID,
		Amount:             amount,
		Description:        req.Description,
		Descriptor:         req.Descriptor,
		RequirementsSchema: req.RequirementsSchema,
		MaxRetries:         req.MaxRetries,
		IdempotencyKey:     req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, contractResponse(contract))
}

// HandleContract routes /api/v1/escrow/{id}[/{action}]
func (h *EscrowHandlers) HandleContract(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/escrow/")
	if path == "" || path == r.URL.Path {
		writeJSONError(w, "INVALID_REQUEST", "contract ID required", http.StatusBadRequest)
		return
	}

	idPart, action, _ := strings.Cut(path, "/")
	contractID, err := uuid.Parse(idPart)
	if err != nil {
		writeJSONError(w, "INVALID_REQUEST", "invalid contract ID", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGet(w, r, contractID)
	case action == "status" && r.Method == http.MethodGet:
		h.handleStatus(w, r, contractID)
	case action == "events" && r.Method == http.MethodGet:
		h.handleEvents(w, r, contractID)
	case action == "fund" && r.Method == http.MethodPost:
		h.handleFund(w, r, contractID)
	case action == "accept" && r.Method == http.MethodPost:
		h.handleAccept(w, r, contractID)
	case action == "submit" && r.Method == http.MethodPost:
		h.handleSubmit(w, r, contractID)
	case action == "dispute" && r.Method == http.MethodPost:
		h.handleDispute(w, r, contractID)
	default:
		writeJSONError(w, "NOT_FOUND", "unknown route", http.StatusNotFound)
	}
}

func (h *EscrowHandlers) handleGet(w http.ResponseWriter, r *http.Request, contractID uuid.UUID) {
	contract, err := h.escrow.GetContract(r.Context(), contractID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, contractResponse(contract))
}

func (h *EscrowHandlers) handleStatus(w http.ResponseWriter, r *http.Request, contractID uuid.UUID) {
	status, err := h.escrow.GetStatus(r.Context(), contractID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *EscrowHandlers) handleEvents(w http.ResponseWriter, r *http.Request, contractID uuid.UUID) {
	events, err := h.escrow.GetEvents(r.Context(), contractID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(events))
	for _, event := range events {
		entry := map[string]interface{}{
			"id":          event.ID.String(),
			"contract_id": event.ContractID.String(),
			"event_type":  event.EventType,
			"new_status":  event.NewStatus,
			"actor":       event.Actor,
			"created_at":  event.CreatedAt,
		}
		if event.OldStatus.Valid {
			entry["old_status"] = event.OldStatus.String
		}
		if len(event.Metadata) > 0 {
			entry["metadata"] = json.RawMessage(event.Metadata)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *EscrowHandlers) handleFund(w http.ResponseWriter, r *http.Request, contractID uuid.UUID) {
	contract, err := h.escrow.FundContract(r.Context(), contractID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, contractResponse(contract))
}

func (h *EscrowHandlers) handleAccept(w http.ResponseWriter, r *http.Request, contractID uuid.UUID) {
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		writeJSONError(w, "INVALID_REQUEST", "worker_id is required", http.StatusBadRequest)
		return
	}

	contract, err := h.escrow.AcceptContract(r.Context(), contractID, req.WorkerID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, contractResponse(contract))
}

func (h *EscrowHandlers) handleSubmit(w http.ResponseWriter, r *http.Request, contractID uuid.UUID) {
	var req struct {
		Payload  string `json:"payload"`
		WorkerID string `json:"worker_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "INVALID_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := escrow.RunSubmitWorkflow(r.Context(), h.escrow, h.verification,
		contractID, req.Payload, req.WorkerID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *EscrowHandlers) handleDispute(w http.ResponseWriter, r *http.Request, contractID uuid.UUID) {
	var req struct {
		Reason   string `json:"reason"`
		RaisedBy string `json:"raised_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RaisedBy == "" {
		writeJSONError(w, "INVALID_REQUEST", "raised_by is required", http.StatusBadRequest)
		return
	}

	contract, err := h.escrow.RaiseDispute(r.Context(), contractID, req.Reason, req.RaisedBy)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, contractResponse(contract))
}

// contractResponse shapes a contract row for the wire
func contractResponse(c *database.Contract) map[string]interface{} {
	out := map[string]interface{}{
		"id":          c.ID.String(),
		"buyer_id":    c.BuyerID,
		"amount":      c.Amount.StringFixed(6),
		"status":      c.Status,
		"description": c.Description,
		"max_retries": c.MaxRetries,
		"retry_count": c.RetryCount,
		"created_at":  c.CreatedAt,
		"updated_at":  c.UpdatedAt,
	}
	if c.WorkerID.Valid {
		out["worker_id"] = c.WorkerID.String
	}
	if c.EscrowWallet.Valid {
		out["escrow_wallet"] = c.EscrowWallet.String
	}
	if c.FundingRef.Valid {
		out["funding_ref"] = c.FundingRef.String
	}
	if c.SettlementRef.Valid {
		out["settlement_ref"] = c.SettlementRef.String
	}
	if len(c.VerificationDescriptor) > 0 {
		out["verification_descriptor"] = json.RawMessage(c.VerificationDescriptor)
	}
	if len(c.RequirementsSchema) > 0 {
		out["requirements_schema"] = json.RawMessage(c.RequirementsSchema)
	}
	return out
}
