package services

import (
	"fmt"

	"github.com/techfix/backend/internal/models"
)

// NotFoundError means the referenced transaction does not exist.
type NotFoundError struct {
	TransactionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found", e.TransactionID)
}

// InvalidStateError means the operation is not permitted from the
// transaction's current status. It carries that status for diagnostics.
type InvalidStateError struct {
	Op      string
	Current models.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not permitted: transaction is %s", e.Op, e.Current)
}

// ConflictError means a conditional update lost a race against a concurrent
// writer. The transaction moved on under us; nothing was mutated here.
type ConflictError struct {
	TransactionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transaction %s was updated concurrently", e.TransactionID)
}

// ExternalServiceError means a processor call failed or its outcome is
// unknown. Local state is left unchanged so the operation can be retried.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
