package sable

import "context"

// LockingRepository wraps a SagaRepository with per-identifier mutual
// exclusion. Before a load or create it obtains the exclusive lock for the
// identifier, and the lock is only released when the owning unit-of-work tree
// completes. A second transaction referencing the same identifier therefore
// blocks until the first's tree fully commits or rolls back, then observes
// the post-commit state.
//
// Locks are held per tree: repeated loads of the same identifier within one
// tree reuse the lock already held instead of deadlocking on it.
//
// Find is not serialized; correlation lookups run lock-free.
type LockingRepository[T any] struct {
	delegate    *SagaRepository[T]
	lockFactory LockFactory

	// heldResourceKey scopes the set of identifiers this repository has
	// locked on behalf of a unit-of-work tree.
	heldResourceKey string
}

var _ Repository[struct{}] = (*LockingRepository[struct{}])(nil)

// NewLockingRepository wraps the given repository core with the given lock
// factory.
func NewLockingRepository[T any](delegate *SagaRepository[T], lockFactory LockFactory) *LockingRepository[T] {
	return &LockingRepository[T]{
		delegate:        delegate,
		lockFactory:     lockFactory,
		heldResourceKey: "LockingRepository[" + delegate.SagaType() + "]/HeldLocks",
	}
}

// Load obtains the identifier's lock, then delegates.
func (r *LockingRepository[T]) Load(ctx context.Context, uow UnitOfWork, sagaID string) (*Saga[T], error) {
	if uow == nil {
		return nil, ErrNoUnitOfWork
	}
	if err := r.lockSagaAccess(ctx, uow, sagaID); err != nil {
		return nil, err
	}
	return r.delegate.Load(ctx, uow, sagaID)
}

// Create obtains the identifier's lock, then delegates.
func (r *LockingRepository[T]) Create(ctx context.Context, uow UnitOfWork, sagaID string, factory SagaFactory[T]) (*Saga[T], error) {
	if uow == nil {
		return nil, ErrNoUnitOfWork
	}
	if err := r.lockSagaAccess(ctx, uow, sagaID); err != nil {
		return nil, err
	}
	return r.delegate.Create(ctx, uow, sagaID, factory)
}

// Find delegates without locking.
func (r *LockingRepository[T]) Find(ctx context.Context, association AssociationValue) ([]string, error) {
	return r.delegate.Find(ctx, association)
}

// lockSagaAccess acquires the lock for sagaID on behalf of the unit-of-work
// tree, releasing it when the tree completes. A tree that already holds the
// lock proceeds immediately.
func (r *LockingRepository[T]) lockSagaAccess(ctx context.Context, uow UnitOfWork, sagaID string) error {
	if sagaID == "" {
		return ErrEmptySagaID
	}
	processRoot := uow.Root()
	held := processRoot.GetOrComputeResource(r.heldResourceKey, func() interface{} {
		return newIdentifierSet()
	}).(*identifierSet)

	if !held.add(sagaID) {
		return nil
	}

	lock, err := r.lockFactory.Obtain(ctx, sagaID)
	if err != nil {
		held.remove(sagaID)
		return err
	}
	processRoot.OnCleanup(func(ctx context.Context) {
		held.remove(sagaID)
		lock.Release()
	})
	return nil
}
