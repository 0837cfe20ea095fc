// Copyright 2025 Clearing Protocol
//
// Submission Repository - work submissions attached to a contract

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const submissionColumns = `
	id, contract_id, payload, submitted_by, verification_result, is_valid, submitted_at`

// SubmissionRepository handles submission row operations
type SubmissionRepository struct {
	db DBTX
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db DBTX) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a new submission row
func (r *SubmissionRepository) Create(ctx context.Context, submission *Submission) error {
	query := `
		INSERT INTO submissions (
			id, contract_id, payload, submitted_by, verification_result, is_valid, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		submission.ID, submission.ContractID, submission.Payload, submission.SubmittedBy,
		nullableJSON(submission.VerificationResult), submission.IsValid, submission.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// Get retrieves a submission by ID
func (r *SubmissionRepository) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	query := `SELECT` + submissionColumns + ` FROM submissions WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// ListByContract retrieves all submissions for a contract, newest first
func (r *SubmissionRepository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]*Submission, error) {
	query := `SELECT` + submissionColumns + ` FROM submissions WHERE contract_id = $1 ORDER BY submitted_at DESC`

	rows, err := r.db.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var submissions []*Submission
	for rows.Next() {
		submission := &Submission{}
		var result []byte
		err := rows.Scan(
			&submission.ID, &submission.ContractID, &submission.Payload,
			&submission.SubmittedBy, &result, &submission.IsValid, &submission.SubmittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submission.VerificationResult = result
		submissions = append(submissions, submission)
	}

	return submissions, rows.Err()
}

// Latest retrieves the newest submission for a contract
func (r *SubmissionRepository) Latest(ctx context.Context, contractID uuid.UUID) (*Submission, error) {
	query := `SELECT` + submissionColumns + ` FROM submissions WHERE contract_id = $1 ORDER BY submitted_at DESC LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, contractID))
}

// UpdateVerification records the verification outcome on a submission
func (r *SubmissionRepository) UpdateVerification(ctx context.Context, submission *Submission, isValid bool, result json.RawMessage) error {
	query := `UPDATE submissions SET is_valid = $1, verification_result = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, isValid, nullableJSON(result), submission.ID); err != nil {
		return fmt.Errorf("failed to update submission verification: %w", err)
	}
	submission.IsValid = sql.NullBool{Bool: isValid, Valid: true}
	submission.VerificationResult = result
	return nil
}

func (r *SubmissionRepository) scanOne(row *sql.Row) (*Submission, error) {
	submission := &Submission{}
	var result []byte
	err := row.Scan(
		&submission.ID, &submission.ContractID, &submission.Payload,
		&submission.SubmittedBy, &result, &submission.IsValid, &submission.SubmittedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	submission.VerificationResult = result
	return submission, nil
}
