package sable

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-sable/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
var (
	// ErrSagaNotFound indicates the requested saga does not exist.
	// It is an alias to the adapters package error for compatibility.
	ErrSagaNotFound = adapters.ErrSagaNotFound

	// ErrSagaCreationFailed indicates the saga factory or resource injection
	// failed while creating a new managed instance.
	ErrSagaCreationFailed = errors.New("sable: saga creation failed")

	// ErrLockAcquisition indicates the per-identifier lock could not be
	// obtained before the caller's context or the configured timeout expired.
	ErrLockAcquisition = errors.New("sable: lock acquisition failed")

	// ErrNoUnitOfWork indicates a repository operation was invoked without a
	// unit of work.
	ErrNoUnitOfWork = errors.New("sable: no unit of work")

	// ErrEmptySagaID indicates an empty saga identifier was provided.
	ErrEmptySagaID = adapters.ErrEmptySagaID

	// ErrUnitOfWorkCompleted indicates a lifecycle operation was attempted on
	// a unit of work that has already committed or rolled back.
	ErrUnitOfWorkCompleted = errors.New("sable: unit of work already completed")
)

// SagaCreationError provides detailed information about a failed saga
// creation. It wraps the error raised by the saga factory or the resource
// injector.
type SagaCreationError struct {
	SagaID string
	Cause  error
}

// Error returns the error message.
func (e *SagaCreationError) Error() string {
	return fmt.Sprintf("sable: failed to create managed saga instance %q: %v", e.SagaID, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SagaCreationError) Is(target error) bool {
	return target == ErrSagaCreationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SagaCreationError) Unwrap() error {
	return e.Cause
}

// NewSagaCreationError creates a new SagaCreationError.
func NewSagaCreationError(sagaID string, cause error) *SagaCreationError {
	return &SagaCreationError{SagaID: sagaID, Cause: cause}
}

// SagaNotFoundError provides detailed information about a missing saga.
type SagaNotFoundError struct {
	SagaType string
	SagaID   string
}

// Error returns the error message.
func (e *SagaNotFoundError) Error() string {
	if e.SagaType != "" {
		return fmt.Sprintf("sable: saga %q of type %s not found", e.SagaID, e.SagaType)
	}
	return fmt.Sprintf("sable: saga %q not found", e.SagaID)
}

// Is reports whether this error matches the target error.
func (e *SagaNotFoundError) Is(target error) bool {
	return target == ErrSagaNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *SagaNotFoundError) Unwrap() error {
	return ErrSagaNotFound
}

// LockAcquisitionError provides detailed information about a failed lock
// acquisition.
type LockAcquisitionError struct {
	Identifier string
	Cause      error
}

// Error returns the error message.
func (e *LockAcquisitionError) Error() string {
	return fmt.Sprintf("sable: failed to acquire lock for saga %q: %v", e.Identifier, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *LockAcquisitionError) Is(target error) bool {
	return target == ErrLockAcquisition
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *LockAcquisitionError) Unwrap() error {
	return e.Cause
}

// NewLockAcquisitionError creates a new LockAcquisitionError.
func NewLockAcquisitionError(identifier string, cause error) *LockAcquisitionError {
	return &LockAcquisitionError{Identifier: identifier, Cause: cause}
}
