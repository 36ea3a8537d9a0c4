// Package adapters provides interfaces for saga store backends.
package adapters

import (
	"context"
	"errors"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrSagaNotFound is returned when the requested saga does not exist.
	ErrSagaNotFound = errors.New("sable: saga not found")

	// ErrSagaAlreadyExists is returned when inserting a saga whose identifier
	// is already stored.
	ErrSagaAlreadyExists = errors.New("sable: saga already exists")

	// ErrEmptySagaID is returned when an empty saga identifier is provided.
	ErrEmptySagaID = errors.New("sable: saga ID is required")

	// ErrEmptySagaType is returned when an empty saga type is provided.
	ErrEmptySagaType = errors.New("sable: saga type is required")

	// ErrStoreClosed is returned when operations are attempted on a closed
	// store.
	ErrStoreClosed = errors.New("sable: saga store is closed")
)

// SagaNotFoundError provides detailed information about a missing saga.
type SagaNotFoundError struct {
	SagaType string
	SagaID   string
}

// Error returns the error message.
func (e *SagaNotFoundError) Error() string {
	if e.SagaType != "" {
		return "sable: saga not found: " + e.SagaType + "/" + e.SagaID
	}
	return "sable: saga not found: " + e.SagaID
}

// Is reports whether this error matches the target error.
func (e *SagaNotFoundError) Is(target error) bool {
	return target == ErrSagaNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *SagaNotFoundError) Unwrap() error {
	return ErrSagaNotFound
}

// AssociationRecord is the storage-level representation of a correlation
// key-value pair.
type AssociationRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SagaEntry is the stored form of a saga as returned by LoadSaga. The root
// object and tracking token are opaque bytes; the repository owns the codec.
type SagaEntry struct {
	// ID is the unique saga identifier.
	ID string

	// Root is the serialized saga root object.
	Root []byte

	// TrackingToken is the serialized stream position, or nil if the saga has
	// none recorded.
	TrackingToken []byte

	// AssociationValues is the saga's committed correlation index entries.
	AssociationValues []AssociationRecord
}

// SagaStore is the interface saga persistence backends must implement. It
// provides durable, correlation-indexed storage keyed by saga type and
// identifier.
//
// Implementations must keep the association index consistent with the stored
// entries: InsertSaga and UpdateSaga replace the index entries for the saga
// with the given set, and DeleteSaga drops the saga along with the provided
// index entries.
type SagaStore interface {
	// LoadSaga retrieves a stored saga entry.
	// Returns ErrSagaNotFound if no saga with the given identifier exists.
	LoadSaga(ctx context.Context, sagaType, sagaID string) (*SagaEntry, error)

	// InsertSaga stores a newly created saga along with its association index
	// entries. Returns ErrSagaAlreadyExists if the identifier is taken.
	InsertSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []AssociationRecord) error

	// UpdateSaga overwrites the stored root object, tracking token, and
	// association index entries for an existing saga.
	UpdateSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []AssociationRecord) error

	// DeleteSaga removes a saga and drops the given association index
	// entries. Deleting an unknown saga is a no-op.
	DeleteSaga(ctx context.Context, sagaType, sagaID string, associations []AssociationRecord) error

	// FindSagas returns the identifiers of all stored sagas of the given type
	// indexed under the given association value.
	FindSagas(ctx context.Context, sagaType string, association AssociationRecord) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
