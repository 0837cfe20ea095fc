// Copyright 2025 Clearing Protocol
//
// Package database provides sentinel errors for repository operations.
// Explicit errors instead of nil, nil returns.

package database

import "errors"

// Sentinel errors for database operations
var (
	// ErrContractNotFound is returned when a contract record is not found
	ErrContractNotFound = errors.New("contract not found")

	// ErrSubmissionNotFound is returned when a submission record is not found
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrIdempotencyKeyNotFound is returned when an idempotency key is not found
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrDuplicateIdempotencyKey is returned when an idempotency key already exists
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")
)
