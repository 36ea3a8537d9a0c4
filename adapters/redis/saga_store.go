// Package redis provides a Redis implementation of the saga store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/AshkanYarmoradi/go-sable/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.SagaStore = (*SagaStore)(nil)

// Hash fields of a stored saga.
const (
	fieldRoot  = "root"
	fieldToken = "tracking_token"
)

// SagaStore provides a Redis implementation of adapters.SagaStore.
//
// Layout:
//   - <prefix>:saga:<type>:<id>        hash holding root and tracking token
//   - <prefix>:saga:<type>:<id>:assoc  set of the saga's association records
//   - <prefix>:index:<type>:<key>:<value>  set of saga identifiers (the
//     correlation index)
type SagaStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// SagaStoreOption configures a SagaStore.
type SagaStoreOption func(*SagaStore)

// WithKeyPrefix sets the prefix for all keys written by the store.
func WithKeyPrefix(prefix string) SagaStoreOption {
	return func(s *SagaStore) {
		s.keyPrefix = prefix
	}
}

// NewSagaStore creates a new Redis SagaStore.
func NewSagaStore(client redis.UniversalClient, opts ...SagaStoreOption) *SagaStore {
	s := &SagaStore{
		client:    client,
		keyPrefix: "sable",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *SagaStore) sagaKey(sagaType, sagaID string) string {
	return fmt.Sprintf("%s:saga:%s:%s", s.keyPrefix, sagaType, sagaID)
}

func (s *SagaStore) assocKey(sagaType, sagaID string) string {
	return s.sagaKey(sagaType, sagaID) + ":assoc"
}

func (s *SagaStore) indexKey(sagaType string, rec adapters.AssociationRecord) string {
	return fmt.Sprintf("%s:index:%s:%s:%s", s.keyPrefix, sagaType, rec.Key, rec.Value)
}

// LoadSaga retrieves a stored saga entry along with its association values.
func (s *SagaStore) LoadSaga(ctx context.Context, sagaType, sagaID string) (*adapters.SagaEntry, error) {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, s.sagaKey(sagaType, sagaID)).Result()
	if err != nil {
		return nil, fmt.Errorf("sable/redis/saga: failed to load saga: %w", err)
	}
	if len(fields) == 0 {
		return nil, &adapters.SagaNotFoundError{SagaType: sagaType, SagaID: sagaID}
	}

	associations, err := s.loadAssociations(ctx, sagaType, sagaID)
	if err != nil {
		return nil, err
	}

	entry := &adapters.SagaEntry{
		ID:                sagaID,
		Root:              []byte(fields[fieldRoot]),
		AssociationValues: associations,
	}
	if token, ok := fields[fieldToken]; ok && token != "" {
		entry.TrackingToken = []byte(token)
	}
	return entry, nil
}

// InsertSaga stores a newly created saga and its association index entries.
func (s *SagaStore) InsertSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	created, err := s.client.HSetNX(ctx, s.sagaKey(sagaType, sagaID), fieldRoot, root).Result()
	if err != nil {
		return fmt.Errorf("sable/redis/saga: failed to insert saga: %w", err)
	}
	if !created {
		return adapters.ErrSagaAlreadyExists
	}

	return s.writeState(ctx, sagaType, sagaID, root, trackingToken, associations)
}

// UpdateSaga overwrites the stored root object, tracking token, and
// association index entries.
func (s *SagaStore) UpdateSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	exists, err := s.client.Exists(ctx, s.sagaKey(sagaType, sagaID)).Result()
	if err != nil {
		return fmt.Errorf("sable/redis/saga: failed to check saga existence: %w", err)
	}
	if exists == 0 {
		return &adapters.SagaNotFoundError{SagaType: sagaType, SagaID: sagaID}
	}

	// Drop the old index entries before writing the replacement set.
	old, err := s.loadAssociations(ctx, sagaType, sagaID)
	if err != nil {
		return err
	}
	if err := s.dropIndexEntries(ctx, sagaType, sagaID, old); err != nil {
		return err
	}

	return s.writeState(ctx, sagaType, sagaID, root, trackingToken, associations)
}

// DeleteSaga removes a saga and drops the given association index entries.
// Deleting an unknown saga is a no-op.
func (s *SagaStore) DeleteSaga(ctx context.Context, sagaType, sagaID string, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	if err := s.dropIndexEntries(ctx, sagaType, sagaID, associations); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.sagaKey(sagaType, sagaID), s.assocKey(sagaType, sagaID)).Err(); err != nil {
		return fmt.Errorf("sable/redis/saga: failed to delete saga: %w", err)
	}
	return nil
}

// FindSagas returns the identifiers of all sagas of the given type indexed
// under the given association value, sorted for determinism.
func (s *SagaStore) FindSagas(ctx context.Context, sagaType string, association adapters.AssociationRecord) ([]string, error) {
	if sagaType == "" {
		return nil, adapters.ErrEmptySagaType
	}

	ids, err := s.client.SMembers(ctx, s.indexKey(sagaType, association)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("sable/redis/saga: failed to find sagas: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases any resources (no-op for this implementation as the client
// may be shared).
func (s *SagaStore) Close() error {
	return nil
}

// writeState writes the saga hash, its association set, and the correlation
// index entries in one pipeline.
func (s *SagaStore) writeState(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	members := make([]interface{}, 0, len(associations))
	for _, rec := range associations {
		member, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("sable/redis/saga: failed to marshal association: %w", err)
		}
		members = append(members, member)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.sagaKey(sagaType, sagaID), fieldRoot, root, fieldToken, trackingToken)
	pipe.Del(ctx, s.assocKey(sagaType, sagaID))
	if len(members) > 0 {
		pipe.SAdd(ctx, s.assocKey(sagaType, sagaID), members...)
	}
	for _, rec := range associations {
		pipe.SAdd(ctx, s.indexKey(sagaType, rec), sagaID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sable/redis/saga: failed to write saga state: %w", err)
	}
	return nil
}

func (s *SagaStore) loadAssociations(ctx context.Context, sagaType, sagaID string) ([]adapters.AssociationRecord, error) {
	members, err := s.client.SMembers(ctx, s.assocKey(sagaType, sagaID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("sable/redis/saga: failed to load associations: %w", err)
	}

	records := make([]adapters.AssociationRecord, 0, len(members))
	for _, member := range members {
		var rec adapters.AssociationRecord
		if err := json.Unmarshal([]byte(member), &rec); err != nil {
			return nil, fmt.Errorf("sable/redis/saga: failed to unmarshal association: %w", err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Key != records[j].Key {
			return records[i].Key < records[j].Key
		}
		return records[i].Value < records[j].Value
	})
	return records, nil
}

func (s *SagaStore) dropIndexEntries(ctx context.Context, sagaType, sagaID string, records []adapters.AssociationRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, rec := range records {
		pipe.SRem(ctx, s.indexKey(sagaType, rec), sagaID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sable/redis/saga: failed to drop index entries: %w", err)
	}
	return nil
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
