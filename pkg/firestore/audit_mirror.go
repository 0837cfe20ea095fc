// Copyright 2025 Clearing Protocol
//
// Audit Trail Mirror
// Best-effort mirror of committed escrow events into Firestore for
// UI consumption. The durable trail lives in PostgreSQL; a mirror
// failure is logged and never fails the unit of work that produced
// the event.

package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/agentclearing/clearinghouse/pkg/database"
)

// eventsCollection is the Firestore collection holding mirrored events
const eventsCollection = "escrow_events"

// AuditMirror mirrors committed audit events to Firestore
type AuditMirror struct {
	client    *Client
	serviceID string
	logger    *log.Logger
}

// AuditMirrorConfig holds configuration for the audit mirror
type AuditMirrorConfig struct {
	Client    *Client
	ServiceID string
	Logger    *log.Logger
}

// NewAuditMirror creates a new audit mirror
func NewAuditMirror(cfg *AuditMirrorConfig) (*AuditMirror, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("Firestore client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[AuditMirror] ", log.LstdFlags)
	}

	return &AuditMirror{
		client:    cfg.Client,
		serviceID: cfg.ServiceID,
		logger:    cfg.Logger,
	}, nil
}

// IsEnabled returns whether the mirror performs writes
func (m *AuditMirror) IsEnabled() bool {
	return m != nil && m.client != nil && m.client.IsEnabled()
}

// RecordEvent mirrors one committed event. Errors are logged, not
// propagated: the PostgreSQL trail is authoritative.
func (m *AuditMirror) RecordEvent(ctx context.Context, event *database.Event) {
	if !m.IsEnabled() {
		return
	}

	doc := map[string]interface{}{
		"eventId":    event.ID.String(),
		"contractId": event.ContractID.String(),
		"eventType":  string(event.EventType),
		"newStatus":  string(event.NewStatus),
		"actor":      event.Actor,
		"createdAt":  event.CreatedAt,
		"mirroredAt": time.Now().UTC(),
		"serviceId":  m.serviceID,
	}
	if event.OldStatus.Valid {
		doc["oldStatus"] = event.OldStatus.String
	}
	if len(event.Metadata) > 0 {
		var metadata map[string]interface{}
		if err := json.Unmarshal(event.Metadata, &metadata); err == nil {
			doc["metadata"] = metadata
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := m.client.Firestore().
		Collection(eventsCollection).
		Doc(event.ID.String()).
		Set(writeCtx, doc)
	if err != nil {
		m.logger.Printf("Failed to mirror event %s for contract %s: %v",
			event.EventType, event.ContractID, err)
		return
	}
}
