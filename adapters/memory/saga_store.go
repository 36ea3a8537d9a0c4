// Package memory provides an in-memory implementation of the saga store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/AshkanYarmoradi/go-sable/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.SagaStore = (*SagaStore)(nil)

type sagaKey struct {
	sagaType string
	sagaID   string
}

type indexKey struct {
	sagaType string
	assocKey string
	assocVal string
}

// SagaStore provides an in-memory implementation of adapters.SagaStore.
// This is primarily intended for testing and development purposes.
type SagaStore struct {
	mu     sync.RWMutex
	closed bool
	sagas  map[sagaKey]*adapters.SagaEntry
	index  map[indexKey]map[string]struct{}
}

// NewSagaStore creates a new in-memory SagaStore.
func NewSagaStore() *SagaStore {
	return &SagaStore{
		sagas: make(map[sagaKey]*adapters.SagaEntry),
		index: make(map[indexKey]map[string]struct{}),
	}
}

// LoadSaga retrieves a stored saga entry.
func (s *SagaStore) LoadSaga(ctx context.Context, sagaType, sagaID string) (*adapters.SagaEntry, error) {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkUsable(ctx); err != nil {
		return nil, err
	}

	entry, ok := s.sagas[sagaKey{sagaType, sagaID}]
	if !ok {
		return nil, &adapters.SagaNotFoundError{SagaType: sagaType, SagaID: sagaID}
	}
	return copyEntry(entry), nil
}

// InsertSaga stores a newly created saga along with its association index
// entries.
func (s *SagaStore) InsertSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsable(ctx); err != nil {
		return err
	}

	key := sagaKey{sagaType, sagaID}
	if _, exists := s.sagas[key]; exists {
		return adapters.ErrSagaAlreadyExists
	}

	s.sagas[key] = newEntry(sagaID, root, trackingToken, associations)
	s.reindex(sagaType, sagaID, nil, associations)
	return nil
}

// UpdateSaga overwrites the stored root object, tracking token, and
// association index entries for an existing saga.
func (s *SagaStore) UpdateSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsable(ctx); err != nil {
		return err
	}

	key := sagaKey{sagaType, sagaID}
	existing, ok := s.sagas[key]
	if !ok {
		return &adapters.SagaNotFoundError{SagaType: sagaType, SagaID: sagaID}
	}

	s.sagas[key] = newEntry(sagaID, root, trackingToken, associations)
	s.reindex(sagaType, sagaID, existing.AssociationValues, associations)
	return nil
}

// DeleteSaga removes a saga and drops the given association index entries.
// Deleting an unknown saga is a no-op.
func (s *SagaStore) DeleteSaga(ctx context.Context, sagaType, sagaID string, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsable(ctx); err != nil {
		return err
	}

	delete(s.sagas, sagaKey{sagaType, sagaID})
	s.dropIndexEntries(sagaType, sagaID, associations)
	return nil
}

// FindSagas returns the identifiers of all sagas of the given type indexed
// under the given association value, sorted for determinism.
func (s *SagaStore) FindSagas(ctx context.Context, sagaType string, association adapters.AssociationRecord) ([]string, error) {
	if sagaType == "" {
		return nil, adapters.ErrEmptySagaType
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkUsable(ctx); err != nil {
		return nil, err
	}

	ids := s.index[indexKey{sagaType, association.Key, association.Value}]
	result := make([]string, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

// Close marks the store as closed. Subsequent operations fail with
// ErrStoreClosed.
func (s *SagaStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Clear removes all sagas and index entries (useful for testing).
func (s *SagaStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas = make(map[sagaKey]*adapters.SagaEntry)
	s.index = make(map[indexKey]map[string]struct{})
}

// Count returns the total number of sagas stored.
func (s *SagaStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sagas)
}

// checkUsable reports closure or context cancellation. Callers hold s.mu.
func (s *SagaStore) checkUsable(ctx context.Context) error {
	if s.closed {
		return adapters.ErrStoreClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// reindex replaces the index entries for a saga. Callers hold s.mu.
func (s *SagaStore) reindex(sagaType, sagaID string, old, updated []adapters.AssociationRecord) {
	s.dropIndexEntries(sagaType, sagaID, old)
	for _, rec := range updated {
		key := indexKey{sagaType, rec.Key, rec.Value}
		ids, ok := s.index[key]
		if !ok {
			ids = make(map[string]struct{})
			s.index[key] = ids
		}
		ids[sagaID] = struct{}{}
	}
}

// dropIndexEntries removes the saga from the given index entries. Callers
// hold s.mu.
func (s *SagaStore) dropIndexEntries(sagaType, sagaID string, records []adapters.AssociationRecord) {
	for _, rec := range records {
		key := indexKey{sagaType, rec.Key, rec.Value}
		if ids, ok := s.index[key]; ok {
			delete(ids, sagaID)
			if len(ids) == 0 {
				delete(s.index, key)
			}
		}
	}
}

func validateKeys(sagaType, sagaID string) error {
	if sagaType == "" {
		return adapters.ErrEmptySagaType
	}
	if sagaID == "" {
		return adapters.ErrEmptySagaID
	}
	return nil
}

func newEntry(sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) *adapters.SagaEntry {
	entry := &adapters.SagaEntry{
		ID:                sagaID,
		Root:              append([]byte(nil), root...),
		AssociationValues: append([]adapters.AssociationRecord(nil), associations...),
	}
	if trackingToken != nil {
		entry.TrackingToken = append([]byte(nil), trackingToken...)
	}
	return entry
}

func copyEntry(entry *adapters.SagaEntry) *adapters.SagaEntry {
	return newEntry(entry.ID, entry.Root, entry.TrackingToken, entry.AssociationValues)
}
