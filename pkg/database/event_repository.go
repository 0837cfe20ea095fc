// Copyright 2025 Clearing Protocol
//
// Event Repository - the append-only audit trail.
// Append is the ONLY write operation on this surface; the table
// trigger rejects UPDATE and DELETE outright.

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventRepository handles audit event operations
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new event repository
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// Append records a new audit event and returns the stored row.
func (r *EventRepository) Append(ctx context.Context, input *NewEvent) (*Event, error) {
	event := &Event{
		ID:         uuid.New(),
		ContractID: input.ContractID,
		EventType:  input.EventType,
		NewStatus:  input.NewStatus,
		Actor:      input.Actor,
		Metadata:   input.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if input.OldStatus != nil {
		event.OldStatus.String = string(*input.OldStatus)
		event.OldStatus.Valid = true
	}
	if event.Actor == "" {
		event.Actor = "SYSTEM"
	}

	query := `
		INSERT INTO escrow_events (
			id, contract_id, event_type, old_status, new_status, actor, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.ContractID, string(event.EventType), event.OldStatus,
		string(event.NewStatus), event.Actor, nullableJSON(event.Metadata), event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	return event, nil
}

// ListForContract retrieves all events for a contract in ascending
// creation order.
func (r *EventRepository) ListForContract(ctx context.Context, contractID uuid.UUID) ([]*Event, error) {
	query := `
		SELECT id, contract_id, event_type, old_status, new_status, actor, metadata, created_at
		FROM escrow_events
		WHERE contract_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var metadata []byte
		err := rows.Scan(
			&event.ID, &event.ContractID, &event.EventType, &event.OldStatus,
			&event.NewStatus, &event.Actor, &metadata, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Metadata = metadata
		events = append(events, event)
	}

	return events, rows.Err()
}
