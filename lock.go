package sable

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Lock is a held exclusive lock. Release must be called exactly once.
type Lock interface {
	// Release gives up the lock.
	Release()
}

// LockFactory obtains exclusive locks keyed by saga identifier. The
// repository's locking decorator uses it to serialize all load, create,
// mutate, and commit activity for a given identifier across concurrently
// executing transactions.
type LockFactory interface {
	// Obtain blocks until the lock for the given identifier is acquired, the
	// context is cancelled, or the factory's acquisition timeout expires.
	Obtain(ctx context.Context, identifier string) (Lock, error)
}

// PessimisticLockFactory is the default LockFactory. Locks are process-local,
// exclusive, and reference-counted so that entries for uncontended
// identifiers do not accumulate.
type PessimisticLockFactory struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*identifierLock
}

// LockOption configures a PessimisticLockFactory.
type LockOption func(*PessimisticLockFactory)

// WithAcquireTimeout bounds how long Obtain blocks before failing with
// ErrLockAcquisition. Zero means no timeout: Obtain blocks until the lock is
// acquired or the context is cancelled.
func WithAcquireTimeout(d time.Duration) LockOption {
	return func(f *PessimisticLockFactory) {
		f.timeout = d
	}
}

// NewPessimisticLockFactory creates a new PessimisticLockFactory.
func NewPessimisticLockFactory(opts ...LockOption) *PessimisticLockFactory {
	f := &PessimisticLockFactory{
		locks: make(map[string]*identifierLock),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type identifierLock struct {
	sem  chan struct{} // capacity 1
	refs int
}

// Obtain acquires the exclusive lock for the given identifier. The second
// transaction targeting the same identifier blocks here until the first
// releases, or until the context or the configured timeout fails the
// acquisition with a LockAcquisitionError.
func (f *PessimisticLockFactory) Obtain(ctx context.Context, identifier string) (Lock, error) {
	if identifier == "" {
		return nil, ErrEmptySagaID
	}

	f.mu.Lock()
	entry, ok := f.locks[identifier]
	if !ok {
		entry = &identifierLock{sem: make(chan struct{}, 1)}
		f.locks[identifier] = entry
	}
	entry.refs++
	f.mu.Unlock()

	var timeout <-chan time.Time
	if f.timeout > 0 {
		timer := time.NewTimer(f.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case entry.sem <- struct{}{}:
		return &heldLock{factory: f, identifier: identifier, entry: entry}, nil
	case <-ctx.Done():
		f.unref(identifier, entry)
		return nil, NewLockAcquisitionError(identifier, ctx.Err())
	case <-timeout:
		f.unref(identifier, entry)
		return nil, NewLockAcquisitionError(identifier, errors.New("acquisition timeout expired"))
	}
}

func (f *PessimisticLockFactory) unref(identifier string, entry *identifierLock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(f.locks, identifier)
	}
}

// ActiveLocks returns the number of identifiers with waiters or holders.
// Exposed for instrumentation.
func (f *PessimisticLockFactory) ActiveLocks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locks)
}

type heldLock struct {
	factory    *PessimisticLockFactory
	identifier string
	entry      *identifierLock
	once       sync.Once
}

// Release gives up the lock. Safe to call more than once.
func (l *heldLock) Release() {
	l.once.Do(func() {
		<-l.entry.sem
		l.factory.unref(l.identifier, l.entry)
	})
}
