package sable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AshkanYarmoradi/go-sable/adapters"
)

// Logger defines the logging interface for the repository.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// Repository is the saga repository surface consumed by the message-dispatch
// layer that routes events to saga handlers.
type Repository[T any] interface {
	// Load retrieves the saga with the given identifier, reusing the live
	// in-memory instance when one exists. Returns ErrSagaNotFound (with no
	// side effects) when the identifier is unknown.
	Load(ctx context.Context, uow UnitOfWork, sagaID string) (*Saga[T], error)

	// Create builds a new saga instance from the factory and schedules it for
	// insertion when the unit of work commits.
	Create(ctx context.Context, uow UnitOfWork, sagaID string, factory SagaFactory[T]) (*Saga[T], error)

	// Find returns the identifiers of all sagas, in-flight and persisted,
	// associated with the given value. The result is deduplicated and sorted.
	Find(ctx context.Context, association AssociationValue) ([]string, error)
}

// repositoryConfig holds the pluggable collaborators of a SagaRepository.
type repositoryConfig struct {
	serializer Serializer
	injector   ResourceInjector
	logger     Logger
}

// RepositoryOption configures a SagaRepository.
type RepositoryOption func(*repositoryConfig)

// WithSerializer sets the codec used for saga roots and tracking tokens.
func WithSerializer(s Serializer) RepositoryOption {
	return func(c *repositoryConfig) {
		c.serializer = s
	}
}

// WithResourceInjector sets the injector applied to saga roots after creation
// and after loading from storage.
func WithResourceInjector(i ResourceInjector) RepositoryOption {
	return func(c *repositoryConfig) {
		c.injector = i
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) RepositoryOption {
	return func(c *repositoryConfig) {
		c.logger = l
	}
}

// SagaRepository manages the saga instances of a single saga type. It
// guarantees that at most one live in-memory instance exists per identifier,
// schedules exactly one commit action per identifier per transaction tree,
// and merges in-flight and persisted sagas during correlation lookups.
//
// The repository itself does not serialize concurrent access to an
// identifier; wrap it in a LockingRepository for that.
type SagaRepository[T any] struct {
	sagaType   string
	store      adapters.SagaStore
	serializer Serializer
	injector   ResourceInjector
	logger     Logger

	// unsavedResourceKey scopes the unsaved-identifier set to this repository
	// within a unit-of-work tree.
	unsavedResourceKey string

	mu      sync.Mutex
	managed map[string]*Saga[T]
}

var _ Repository[struct{}] = (*SagaRepository[struct{}])(nil)

// NewSagaRepository creates a repository for the given saga type backed by
// the given store.
func NewSagaRepository[T any](sagaType string, store adapters.SagaStore, opts ...RepositoryOption) *SagaRepository[T] {
	cfg := &repositoryConfig{
		serializer: NewJSONSerializer(),
		injector:   NoResourceInjector{},
		logger:     &noopLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &SagaRepository[T]{
		sagaType:           sagaType,
		store:              store,
		serializer:         cfg.serializer,
		injector:           cfg.injector,
		logger:             cfg.logger,
		unsavedResourceKey: "Repository[" + sagaType + "]/UnsavedSagas",
		managed:            make(map[string]*Saga[T]),
	}
}

// SagaType returns the saga type this repository manages.
func (r *SagaRepository[T]) SagaType() string {
	return r.sagaType
}

// ManagedCount returns the number of cache-resident saga instances. Exposed
// for instrumentation.
func (r *SagaRepository[T]) ManagedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managed)
}

// Load retrieves the saga with the given identifier. A cache-resident
// instance is reused; otherwise the store is consulted and the saga is
// reconstructed. On the first load or create of an identifier within a
// transaction tree, a commit-preparation hook is registered on the current
// unit of work, and a cleanup hook on the tree root evicts the cache entry
// when the tree completes.
//
// A miss is silent: Load returns ErrSagaNotFound, issues no write, and leaves
// the cache and the unsaved-identifier set untouched.
func (r *SagaRepository[T]) Load(ctx context.Context, uow UnitOfWork, sagaID string) (*Saga[T], error) {
	if uow == nil {
		return nil, ErrNoUnitOfWork
	}
	if sagaID == "" {
		return nil, ErrEmptySagaID
	}
	processRoot := uow.Root()

	r.mu.Lock()
	saga, ok := r.managed[sagaID]
	if !ok {
		loaded, err := r.loadFromStore(ctx, sagaID)
		if err != nil {
			r.mu.Unlock()
			if errors.Is(err, ErrSagaNotFound) {
				return nil, &SagaNotFoundError{SagaType: r.sagaType, SagaID: sagaID}
			}
			return nil, err
		}
		saga = loaded
		r.managed[sagaID] = saga
		processRoot.OnCleanup(func(ctx context.Context) {
			r.evict(sagaID)
		})
		r.logger.Debug("Loaded saga from store", "sagaType", r.sagaType, "sagaID", sagaID)
	}
	r.mu.Unlock()

	if r.unsavedSagaResource(processRoot).add(sagaID) {
		unsaved := r.unsavedSagaResource(processRoot)
		uow.OnPrepareCommit(func(ctx context.Context) error {
			unsaved.remove(sagaID)
			return r.commitSaga(ctx, saga)
		})
	}
	return saga, nil
}

// Create builds a new saga with the given identifier. The factory produces
// the root object, resources are injected, and the saga starts active with an
// empty association set and no tracking token. The insert happens at
// commit-preparation time, and only if the saga is still active then.
//
// Factory and injection errors are re-signaled as a SagaCreationError; no
// partial cache or unsaved-set state remains in that case.
func (r *SagaRepository[T]) Create(ctx context.Context, uow UnitOfWork, sagaID string, factory SagaFactory[T]) (*Saga[T], error) {
	if uow == nil {
		return nil, ErrNoUnitOfWork
	}
	if sagaID == "" {
		return nil, ErrEmptySagaID
	}
	processRoot := uow.Root()

	root, err := factory()
	if err != nil {
		return nil, NewSagaCreationError(sagaID, err)
	}
	if err := r.injector.InjectResources(root); err != nil {
		return nil, NewSagaCreationError(sagaID, err)
	}
	saga := NewSaga[T](sagaID, root, NewAssociationValues(), nil)

	unsaved := r.unsavedSagaResource(processRoot)
	unsaved.add(sagaID)
	uow.OnPrepareCommit(func(ctx context.Context) error {
		if !saga.IsActive() {
			return nil
		}
		if err := r.storeSaga(ctx, saga); err != nil {
			return err
		}
		saga.AssociationValues().Commit()
		unsaved.remove(sagaID)
		return nil
	})

	r.mu.Lock()
	r.managed[sagaID] = saga
	r.mu.Unlock()
	processRoot.OnCleanup(func(ctx context.Context) {
		r.evict(sagaID)
	})

	r.logger.Info("Created saga", "sagaType", r.sagaType, "sagaID", sagaID)
	return saga, nil
}

// Find returns the identifiers of all sagas associated with the given value.
// Two sources are merged: cache-resident sagas whose uncommitted association
// set contains the value (so a saga created earlier in the same transaction
// is already discoverable), and the store's correlation index. The result is
// deduplicated and sorted by identifier.
func (r *SagaRepository[T]) Find(ctx context.Context, association AssociationValue) ([]string, error) {
	found := make(map[string]struct{})

	r.mu.Lock()
	for id, saga := range r.managed {
		if saga.AssociationValues().Contains(association) {
			found[id] = struct{}{}
		}
	}
	r.mu.Unlock()

	stored, err := r.store.FindSagas(ctx, r.sagaType, adapters.AssociationRecord{
		Key:   association.Key,
		Value: association.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("sable: correlation lookup failed for saga type %s: %w", r.sagaType, err)
	}
	for _, id := range stored {
		found[id] = struct{}{}
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// commitSaga is the commit decision, invoked from the registered
// commit-preparation hook. An ended saga is deleted along with all its index
// entries, a live one is updated and its association deltas folded. The
// unsaved-identifier guard in Load/Create ensures it runs at most once per
// load cycle.
func (r *SagaRepository[T]) commitSaga(ctx context.Context, saga *Saga[T]) error {
	if !saga.IsActive() {
		return r.deleteSaga(ctx, saga)
	}
	if err := r.updateSaga(ctx, saga); err != nil {
		return err
	}
	saga.AssociationValues().Commit()
	return nil
}

// deleteSaga removes the saga and all known association values pointing to
// it, including values removed in the same transaction that ended it.
func (r *SagaRepository[T]) deleteSaga(ctx context.Context, saga *Saga[T]) error {
	union := make(map[AssociationValue]struct{})
	for _, v := range saga.AssociationValues().AsSet() {
		union[v] = struct{}{}
	}
	for _, v := range saga.AssociationValues().RemovedAssociations() {
		union[v] = struct{}{}
	}
	values := sortedValues(union)

	if err := r.store.DeleteSaga(ctx, r.sagaType, saga.ID(), toRecords(values)); err != nil {
		return err
	}
	r.logger.Debug("Deleted ended saga", "sagaType", r.sagaType, "sagaID", saga.ID())
	return nil
}

// updateSaga overwrites the stored saga with the current in-memory state.
func (r *SagaRepository[T]) updateSaga(ctx context.Context, saga *Saga[T]) error {
	root, token, err := r.marshalSaga(saga)
	if err != nil {
		return err
	}
	return r.store.UpdateSaga(ctx, r.sagaType, saga.ID(), root, token,
		toRecords(saga.AssociationValues().EffectiveSet()))
}

// storeSaga inserts a newly created saga.
func (r *SagaRepository[T]) storeSaga(ctx context.Context, saga *Saga[T]) error {
	root, token, err := r.marshalSaga(saga)
	if err != nil {
		return err
	}
	return r.store.InsertSaga(ctx, r.sagaType, saga.ID(), root, token,
		toRecords(saga.AssociationValues().EffectiveSet()))
}

func (r *SagaRepository[T]) marshalSaga(saga *Saga[T]) (root, token []byte, err error) {
	root, err = r.serializer.Marshal(saga.Root())
	if err != nil {
		return nil, nil, err
	}
	if tt := saga.TrackingToken(); tt != nil {
		token, err = r.serializer.Marshal(tt)
		if err != nil {
			return nil, nil, err
		}
	}
	return root, token, nil
}

// loadFromStore reconstructs a saga from its stored entry. Called with r.mu
// held so that cache insertion is atomic with the lookup.
func (r *SagaRepository[T]) loadFromStore(ctx context.Context, sagaID string) (*Saga[T], error) {
	entry, err := r.store.LoadSaga(ctx, r.sagaType, sagaID)
	if err != nil {
		return nil, err
	}

	root := new(T)
	if err := r.serializer.Unmarshal(entry.Root, root); err != nil {
		return nil, err
	}
	if err := r.injector.InjectResources(root); err != nil {
		return nil, err
	}

	values := make([]AssociationValue, 0, len(entry.AssociationValues))
	for _, rec := range entry.AssociationValues {
		values = append(values, AssociationValue{Key: rec.Key, Value: rec.Value})
	}

	var token *TrackingToken
	if len(entry.TrackingToken) > 0 {
		token = &TrackingToken{}
		if err := r.serializer.Unmarshal(entry.TrackingToken, token); err != nil {
			return nil, err
		}
	}

	return NewSaga[T](sagaID, root, NewAssociationValues(values...), token), nil
}

func (r *SagaRepository[T]) evict(sagaID string) {
	r.mu.Lock()
	delete(r.managed, sagaID)
	r.mu.Unlock()
	r.logger.Debug("Evicted saga from cache", "sagaType", r.sagaType, "sagaID", sagaID)
}

// unsavedSagaResource returns the unsaved-identifier set scoped to the given
// tree root, creating it on first access.
func (r *SagaRepository[T]) unsavedSagaResource(processRoot UnitOfWork) *identifierSet {
	return processRoot.GetOrComputeResource(r.unsavedResourceKey, func() interface{} {
		return newIdentifierSet()
	}).(*identifierSet)
}

func toRecords(values []AssociationValue) []adapters.AssociationRecord {
	records := make([]adapters.AssociationRecord, 0, len(values))
	for _, v := range values {
		records = append(records, adapters.AssociationRecord{Key: v.Key, Value: v.Value})
	}
	return records
}

// identifierSet is the per-tree-root set of identifiers with a pending commit
// action. Its presence check gates commit-hook registration, preventing
// duplicate commit actions across repeated loads within one tree.
type identifierSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newIdentifierSet() *identifierSet {
	return &identifierSet{ids: make(map[string]struct{})}
}

// add inserts the identifier, reporting whether it was newly added.
func (s *identifierSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *identifierSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *identifierSet) contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}
