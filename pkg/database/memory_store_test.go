// Copyright 2025 Clearing Protocol
//
// Memory Store Tests - unit-of-work semantics shared with the SQL store

package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentclearing/clearinghouse/pkg/domain"
)

func testContract() *Contract {
	now := time.Now().UTC()
	return &Contract{
		ID:                     uuid.New(),
		BuyerID:                "buyer-1",
		Amount:                 decimal.RequireFromString("12.5"),
		Status:                 domain.StatusCreated,
		VerificationDescriptor: json.RawMessage(`{"type":"mock"}`),
		MaxRetries:             3,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	contract := testContract()

	boom := errors.New("boom")
	err := store.Within(ctx, func(tx StoreTx) error {
		if err := tx.CreateContract(ctx, contract); err != nil {
			return err
		}
		status := domain.StatusCreated
		if _, err := tx.AppendEvent(ctx, &NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventContractCreated,
			NewStatus:  status,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// Nothing from the failed unit of work is visible
	if _, err := store.GetContract(ctx, contract.ID); !errors.Is(err, ErrContractNotFound) {
		t.Errorf("contract should be rolled back, got %v", err)
	}
	events, err := store.ListEventsForContract(ctx, contract.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events should be rolled back, got %d", len(events))
	}
}

func TestMemoryStore_CommitVisibleTogether(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	contract := testContract()

	err := store.Within(ctx, func(tx StoreTx) error {
		if err := tx.CreateContract(ctx, contract); err != nil {
			return err
		}
		_, err := tx.AppendEvent(ctx, &NewEvent{
			ContractID: contract.ID,
			EventType:  domain.EventContractCreated,
			NewStatus:  domain.StatusCreated,
			Actor:      "buyer-1",
		})
		return err
	})
	if err != nil {
		t.Fatalf("within: %v", err)
	}

	got, err := store.GetContract(ctx, contract.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusCreated {
		t.Errorf("status: got %s", got.Status)
	}
	events, err := store.ListEventsForContract(ctx, contract.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events: got %d, want 1", len(events))
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	contract := testContract()

	err := store.Within(ctx, func(tx StoreTx) error {
		return tx.CreateContract(ctx, contract)
	})
	if err != nil {
		t.Fatalf("within: %v", err)
	}

	first, _ := store.GetContract(ctx, contract.ID)
	first.Status = domain.StatusCompleted // caller-side mutation

	second, _ := store.GetContract(ctx, contract.ID)
	if second.Status != domain.StatusCreated {
		t.Error("store state leaked through a returned pointer")
	}
}

func TestMemoryStore_SetWorkerOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	contract := testContract()

	err := store.Within(ctx, func(tx StoreTx) error {
		if err := tx.CreateContract(ctx, contract); err != nil {
			return err
		}
		return tx.SetWorker(ctx, contract, "worker-1")
	})
	if err != nil {
		t.Fatalf("within: %v", err)
	}

	err = store.Within(ctx, func(tx StoreTx) error {
		loaded, err := tx.GetContractForUpdate(ctx, contract.ID)
		if err != nil {
			return err
		}
		return tx.SetWorker(ctx, loaded, "worker-2")
	})
	var assigned *domain.WorkerAlreadyAssignedError
	if !errors.As(err, &assigned) {
		t.Fatalf("expected WorkerAlreadyAssignedError, got %v", err)
	}
}

func TestMemoryStore_LatestSubmission(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	contract := testContract()

	var latest uuid.UUID
	err := store.Within(ctx, func(tx StoreTx) error {
		if err := tx.CreateContract(ctx, contract); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			sub := &Submission{
				ID:          uuid.New(),
				ContractID:  contract.ID,
				Payload:     "attempt",
				SubmittedAt: time.Now().UTC(),
			}
			if err := tx.AddSubmission(ctx, sub); err != nil {
				return err
			}
			latest = sub.ID
		}
		return nil
	})
	if err != nil {
		t.Fatalf("within: %v", err)
	}

	subs, err := store.ListSubmissions(ctx, contract.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("submissions: got %d", len(subs))
	}
	if subs[0].ID != latest {
		t.Error("ListSubmissions must return newest first")
	}
}

func TestMemoryStore_IdempotencyKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	contractID := uuid.New()

	err := store.Within(ctx, func(tx StoreTx) error {
		return tx.PutIdempotencyKey(ctx, "key-1", contractID, json.RawMessage(`{"ok":true}`))
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	err = store.Within(ctx, func(tx StoreTx) error {
		return tx.PutIdempotencyKey(ctx, "key-1", contractID, json.RawMessage(`{}`))
	})
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}

	err = store.Within(ctx, func(tx StoreTx) error {
		ik, err := tx.GetIdempotencyKey(ctx, "key-1")
		if err != nil {
			return err
		}
		if ik.ContractID != contractID {
			t.Errorf("contract id mismatch: %s", ik.ContractID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
}
