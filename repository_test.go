package sable

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-sable/adapters"
	"github.com/AshkanYarmoradi/go-sable/adapters/memory"
)

func newOrderProcess() (*orderProcess, error) {
	return &orderProcess{}, nil
}

// createCommitted creates a saga through repo within its own committed unit of
// work, optionally mutating it before commit.
func createCommitted(t *testing.T, repo *SagaRepository[orderProcess], sagaID string, mutate func(*Saga[orderProcess])) {
	t.Helper()
	ctx := context.Background()
	uow := Begin(nil)
	saga, err := repo.Create(ctx, uow, sagaID, newOrderProcess)
	require.NoError(t, err)
	if mutate != nil {
		mutate(saga)
	}
	require.NoError(t, uow.Commit(ctx))
}

func TestSagaRepository_CreateInsertsOnCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)

	uow := Begin(nil)
	saga, err := repo.Create(ctx, uow, "saga-1", newOrderProcess)
	require.NoError(t, err)
	saga.Root().OrderID = "order-1"
	saga.AssociateWith(NewAssociationValue("orderId", "order-1"))

	assert.Equal(t, 0, store.Count(), "nothing persisted before commit")

	require.NoError(t, uow.Commit(ctx))
	assert.Equal(t, 1, store.Count())

	entry, err := store.LoadSaga(ctx, "OrderProcess", "saga-1")
	require.NoError(t, err)
	assert.Equal(t, []adapters.AssociationRecord{{Key: "orderId", Value: "order-1"}}, entry.AssociationValues)
}

func TestSagaRepository_CreateFactoryError(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore())

	boom := errors.New("factory exploded")
	uow := Begin(nil)
	_, err := repo.Create(ctx, uow, "saga-1", func() (*orderProcess, error) {
		return nil, boom
	})

	require.ErrorIs(t, err, ErrSagaCreationFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, repo.ManagedCount(), "failed creation leaves no cache entry")
	assert.NoError(t, uow.Commit(ctx))
}

func TestSagaRepository_CreateInjectionError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("no database handle")
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore(),
		WithResourceInjector(ResourceInjectorFunc(func(root interface{}) error {
			return boom
		})))

	uow := Begin(nil)
	_, err := repo.Create(ctx, uow, "saga-1", newOrderProcess)

	require.ErrorIs(t, err, ErrSagaCreationFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, repo.ManagedCount())
}

func TestSagaRepository_CreateValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore())

	_, err := repo.Create(ctx, nil, "saga-1", newOrderProcess)
	assert.ErrorIs(t, err, ErrNoUnitOfWork)

	_, err = repo.Create(ctx, Begin(nil), "", newOrderProcess)
	assert.ErrorIs(t, err, ErrEmptySagaID)
}

func TestSagaRepository_CreatedThenEndedIsNeverInserted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)

	uow := Begin(nil)
	saga, err := repo.Create(ctx, uow, "saga-1", newOrderProcess)
	require.NoError(t, err)
	saga.End()

	require.NoError(t, uow.Commit(ctx))
	assert.Equal(t, 0, store.Count())
}

func TestSagaRepository_LoadMissIsSilent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)

	uow := Begin(nil)
	_, err := repo.Load(ctx, uow, "unknown")
	require.ErrorIs(t, err, ErrSagaNotFound)

	var notFound *SagaNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "OrderProcess", notFound.SagaType)

	assert.Equal(t, 0, repo.ManagedCount(), "miss leaves no cache entry")
	require.NoError(t, uow.Commit(ctx))
	assert.Equal(t, 0, store.Count(), "miss issues no write")
}

func TestSagaRepository_LoadValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore())

	_, err := repo.Load(ctx, nil, "saga-1")
	assert.ErrorIs(t, err, ErrNoUnitOfWork)

	_, err = repo.Load(ctx, Begin(nil), "")
	assert.ErrorIs(t, err, ErrEmptySagaID)
}

func TestSagaRepository_LoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)

	createCommitted(t, repo, "saga-1", func(s *Saga[orderProcess]) {
		s.Root().OrderID = "order-1"
		s.Root().Paid = true
		s.AssociateWith(NewAssociationValue("orderId", "order-1"))
		s.SetTrackingToken(NewTrackingToken(12))
	})

	uow := Begin(nil)
	saga, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)

	assert.Equal(t, "saga-1", saga.ID())
	assert.Equal(t, "order-1", saga.Root().OrderID)
	assert.True(t, saga.Root().Paid)
	assert.True(t, saga.IsActive())
	assert.True(t, saga.AssociationValues().Contains(NewAssociationValue("orderId", "order-1")))
	require.NotNil(t, saga.TrackingToken())
	assert.Equal(t, uint64(12), saga.TrackingToken().GlobalPosition)

	require.NoError(t, uow.Commit(ctx))
}

func TestSagaRepository_LoadReusesCachedInstance(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore())
	createCommitted(t, repo, "saga-1", nil)

	uow := Begin(nil)
	first, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	second, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, repo.ManagedCount())
	require.NoError(t, uow.Commit(ctx))
}

func TestSagaRepository_CacheSharedAcrossTrees(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore())
	createCommitted(t, repo, "saga-1", nil)

	uowA := Begin(nil)
	a, err := repo.Load(ctx, uowA, "saga-1")
	require.NoError(t, err)

	uowB := Begin(nil)
	b, err := repo.Load(ctx, uowB, "saga-1")
	require.NoError(t, err)

	assert.Same(t, a, b, "one live instance per identifier")

	require.NoError(t, uowA.Commit(ctx))
	require.NoError(t, uowB.Commit(ctx))
}

func TestSagaRepository_EvictsOnTreeCompletion(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore())
	createCommitted(t, repo, "saga-1", nil)
	require.Equal(t, 0, repo.ManagedCount())

	uow := Begin(nil)
	first, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))
	assert.Equal(t, 0, repo.ManagedCount())

	uow = Begin(nil)
	second, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "evicted instance is reconstructed")
	require.NoError(t, uow.Commit(ctx))
}

func TestSagaRepository_UpdatePersistsMutationsOnCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)
	createCommitted(t, repo, "saga-1", func(s *Saga[orderProcess]) {
		s.AssociateWith(NewAssociationValue("orderId", "order-1"))
	})

	uow := Begin(nil)
	saga, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	saga.Root().Paid = true
	saga.AssociateWith(NewAssociationValue("paymentId", "pay-1"))
	saga.RemoveAssociation(NewAssociationValue("orderId", "order-1"))
	require.NoError(t, uow.Commit(ctx))

	entry, err := store.LoadSaga(ctx, "OrderProcess", "saga-1")
	require.NoError(t, err)
	assert.Equal(t, []adapters.AssociationRecord{{Key: "paymentId", Value: "pay-1"}}, entry.AssociationValues)

	ids, err := store.FindSagas(ctx, "OrderProcess", adapters.AssociationRecord{Key: "orderId", Value: "order-1"})
	require.NoError(t, err)
	assert.Empty(t, ids, "removed association leaves no index entry")
}

func TestSagaRepository_EndedSagaIsDeletedOnCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)
	createCommitted(t, repo, "saga-1", func(s *Saga[orderProcess]) {
		s.AssociateWith(NewAssociationValue("orderId", "order-1"))
	})

	uow := Begin(nil)
	saga, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	saga.End()
	require.NoError(t, uow.Commit(ctx))

	assert.Equal(t, 0, store.Count())
	ids, err := store.FindSagas(ctx, "OrderProcess", adapters.AssociationRecord{Key: "orderId", Value: "order-1"})
	require.NoError(t, err)
	assert.Empty(t, ids, "deletion drops index entries")
}

func TestSagaRepository_DeleteCleansRemovedAssociations(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)
	createCommitted(t, repo, "saga-1", func(s *Saga[orderProcess]) {
		s.AssociateWith(NewAssociationValue("orderId", "order-1"))
	})

	// Remove the association and end the saga in the same transaction. The
	// stored index entry for the removed value must still be dropped.
	uow := Begin(nil)
	saga, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	saga.RemoveAssociation(NewAssociationValue("orderId", "order-1"))
	saga.End()
	require.NoError(t, uow.Commit(ctx))

	assert.Equal(t, 0, store.Count())
	ids, err := store.FindSagas(ctx, "OrderProcess", adapters.AssociationRecord{Key: "orderId", Value: "order-1"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSagaRepository_OneCommitActionPerTree(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{SagaStore: memory.NewSagaStore()}
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)
	createCommitted(t, repo, "saga-1", nil)
	require.Equal(t, 1, store.inserts)

	uow := Begin(nil)
	_, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	_, err = repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	_, err = repo.Load(ctx, Begin(uow), "saga-1")
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	assert.Equal(t, 1, store.updates, "repeated loads in one tree commit once")
}

func TestSagaRepository_ChildLoadCommitsWithChild(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)
	createCommitted(t, repo, "saga-1", nil)

	root := Begin(nil)
	child := Begin(root)
	saga, err := repo.Load(ctx, child, "saga-1")
	require.NoError(t, err)
	saga.Root().Paid = true

	// Commit hook was registered on the child, so the write happens when the
	// child commits, not when the root does.
	require.NoError(t, child.Commit(ctx))
	entry, err := store.LoadSaga(ctx, "OrderProcess", "saga-1")
	require.NoError(t, err)

	var persisted orderProcess
	require.NoError(t, NewJSONSerializer().Unmarshal(entry.Root, &persisted))
	assert.True(t, persisted.Paid)

	assert.Equal(t, 1, repo.ManagedCount(), "cache entry survives child completion")
	require.NoError(t, root.Commit(ctx))
	assert.Equal(t, 0, repo.ManagedCount())
}

func TestSagaRepository_RollbackDiscardsPendingWrites(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)

	uow := Begin(nil)
	_, err := repo.Create(ctx, uow, "saga-1", newOrderProcess)
	require.NoError(t, err)
	require.NoError(t, uow.Rollback(ctx))

	assert.Equal(t, 0, store.Count())
	assert.Equal(t, 0, repo.ManagedCount(), "rollback still evicts the cache entry")
}

func TestSagaRepository_FindMergesCacheAndStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)
	v := NewAssociationValue("orderId", "order-1")

	createCommitted(t, repo, "saga-stored", func(s *Saga[orderProcess]) {
		s.AssociateWith(v)
	})

	uow := Begin(nil)
	_, err := repo.Create(ctx, uow, "saga-pending", newOrderProcess)
	require.NoError(t, err)
	pending, err := repo.Load(ctx, uow, "saga-pending")
	require.NoError(t, err)
	pending.AssociateWith(v)

	ids, err := repo.Find(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, []string{"saga-pending", "saga-stored"}, ids,
		"uncommitted association is already discoverable, result sorted")

	require.NoError(t, uow.Commit(ctx))
}

func TestSagaRepository_FindHidesPendingRemoval(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store)
	v := NewAssociationValue("orderId", "order-1")
	createCommitted(t, repo, "saga-1", func(s *Saga[orderProcess]) {
		s.AssociateWith(v)
	})

	uow := Begin(nil)
	saga, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	saga.RemoveAssociation(v)

	// The persisted index entry still matches until commit, so the saga stays
	// discoverable through the stored source.
	ids, err := repo.Find(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, []string{"saga-1"}, ids)

	require.NoError(t, uow.Commit(ctx))

	ids, err = repo.Find(ctx, v)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSagaRepository_FindUnknownAssociation(t *testing.T) {
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore())

	ids, err := repo.Find(context.Background(), NewAssociationValue("orderId", "nope"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSagaRepository_InjectsResourcesOnLoad(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()

	injected := 0
	repo := NewSagaRepository[orderProcess]("OrderProcess", store,
		WithResourceInjector(ResourceInjectorFunc(func(root interface{}) error {
			injected++
			return nil
		})))

	createCommitted(t, repo, "saga-1", nil)
	require.Equal(t, 1, injected, "injected on create")

	uow := Begin(nil)
	_, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, 2, injected, "injected again on load")
	require.NoError(t, uow.Commit(ctx))
}

func TestSagaRepository_CustomSerializer(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSagaStore()
	repo := NewSagaRepository[orderProcess]("OrderProcess", store,
		WithSerializer(NewJSONSerializer()))

	createCommitted(t, repo, "saga-1", func(s *Saga[orderProcess]) {
		s.Root().OrderID = "order-1"
	})

	uow := Begin(nil)
	saga, err := repo.Load(ctx, uow, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", saga.Root().OrderID)
	require.NoError(t, uow.Commit(ctx))
}

func TestSagaRepository_ConcurrentLoadYieldsOneInstance(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository[orderProcess]("OrderProcess", memory.NewSagaStore())
	createCommitted(t, repo, "saga-1", nil)

	const workers = 16
	instances := make([]*Saga[orderProcess], workers)
	uows := make([]*SimpleUnitOfWork, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			uow := Begin(nil)
			saga, err := repo.Load(ctx, uow, "saga-1")
			if !assert.NoError(t, err) {
				return
			}
			instances[n] = saga
			uows[n] = uow
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, instances[0], instances[i])
	}
	for _, uow := range uows {
		require.NoError(t, uow.Commit(ctx))
	}
	assert.Equal(t, 0, repo.ManagedCount())
}

// countingStore counts writes on top of an inner store.
type countingStore struct {
	adapters.SagaStore
	mu      sync.Mutex
	inserts int
	updates int
	deletes int
}

func (s *countingStore) InsertSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	s.mu.Lock()
	s.inserts++
	s.mu.Unlock()
	return s.SagaStore.InsertSaga(ctx, sagaType, sagaID, root, trackingToken, associations)
}

func (s *countingStore) UpdateSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return s.SagaStore.UpdateSaga(ctx, sagaType, sagaID, root, trackingToken, associations)
}

func (s *countingStore) DeleteSaga(ctx context.Context, sagaType, sagaID string, associations []adapters.AssociationRecord) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.SagaStore.DeleteSaga(ctx, sagaType, sagaID, associations)
}
