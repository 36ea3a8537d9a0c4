package sable

import (
	"context"
	"sync"
)

// UnitOfWork is the transactional context a repository operation runs in.
// One unit of work is started per inbound message; processing a message that
// synchronously triggers further messages nests child units of work under the
// same tree. The repository core only consumes the hook points; creation,
// nesting, and commit-phase execution belong to the caller.
//
// Hook semantics:
//   - OnPrepareCommit callbacks run exactly once, on the commit-success path
//     of the unit of work they were registered on. A rollback never runs them.
//   - OnCleanup callbacks run exactly once when the tree root completes,
//     regardless of commit or rollback.
//   - GetOrComputeResource provides lazily-initialized keyed storage scoped to
//     the unit of work it is called on.
type UnitOfWork interface {
	// Root returns the root of the unit-of-work tree. A root unit of work
	// returns itself.
	Root() UnitOfWork

	// OnPrepareCommit registers a callback invoked during commit preparation.
	// Callbacks run in registration order; the first error aborts the commit.
	OnPrepareCommit(fn func(ctx context.Context) error)

	// OnCleanup registers a callback invoked when the tree root completes.
	// Registering on a non-root unit of work attaches to its root.
	OnCleanup(fn func(ctx context.Context))

	// GetOrComputeResource returns the resource stored under key, computing
	// and storing it with init on first access.
	GetOrComputeResource(key string, init func() interface{}) interface{}
}

// SimpleUnitOfWork is a minimal UnitOfWork implementation with explicit
// commit and rollback. It is sufficient for driving the saga repository in
// applications that do not bring their own transaction engine, and for tests.
type SimpleUnitOfWork struct {
	parent *SimpleUnitOfWork

	mu            sync.Mutex
	completed     bool
	committed     bool
	prepareCommit []func(ctx context.Context) error
	cleanup       []func(ctx context.Context)
	resources     map[string]interface{}
}

var _ UnitOfWork = (*SimpleUnitOfWork)(nil)

// Begin starts a new unit of work. Pass nil to start a new tree, or an
// existing unit of work to nest underneath it.
func Begin(parent *SimpleUnitOfWork) *SimpleUnitOfWork {
	return &SimpleUnitOfWork{
		parent:    parent,
		resources: make(map[string]interface{}),
	}
}

// Root returns the root of this unit-of-work tree.
func (u *SimpleUnitOfWork) Root() UnitOfWork {
	return u.root()
}

func (u *SimpleUnitOfWork) root() *SimpleUnitOfWork {
	r := u
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// OnPrepareCommit registers a commit-preparation callback on this unit of
// work. Callbacks registered after completion never run.
func (u *SimpleUnitOfWork) OnPrepareCommit(fn func(ctx context.Context) error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prepareCommit = append(u.prepareCommit, fn)
}

// OnCleanup registers a cleanup callback on the tree root.
func (u *SimpleUnitOfWork) OnCleanup(fn func(ctx context.Context)) {
	r := u.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanup = append(r.cleanup, fn)
}

// GetOrComputeResource returns the resource stored under key on this unit of
// work, computing it with init on first access.
func (u *SimpleUnitOfWork) GetOrComputeResource(key string, init func() interface{}) interface{} {
	u.mu.Lock()
	defer u.mu.Unlock()

	if v, ok := u.resources[key]; ok {
		return v
	}
	v := init()
	u.resources[key] = v
	return v
}

// Resource returns the resource stored under key, if any.
func (u *SimpleUnitOfWork) Resource(key string) (interface{}, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.resources[key]
	return v, ok
}

// IsCommitted reports whether this unit of work completed successfully.
func (u *SimpleUnitOfWork) IsCommitted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.committed
}

// IsCompleted reports whether this unit of work has committed or rolled back.
func (u *SimpleUnitOfWork) IsCompleted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.completed
}

// Commit runs the commit-preparation callbacks registered on this unit of
// work, in registration order. The first callback error aborts the commit and
// is returned; subsequent callbacks do not run. When the receiver is the tree
// root, cleanup callbacks run afterwards, on success and failure alike.
func (u *SimpleUnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	if u.completed {
		u.mu.Unlock()
		return ErrUnitOfWorkCompleted
	}
	hooks := u.prepareCommit
	u.prepareCommit = nil
	u.mu.Unlock()

	var commitErr error
	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			commitErr = err
			break
		}
	}

	u.mu.Lock()
	u.completed = true
	u.committed = commitErr == nil
	u.mu.Unlock()

	if u.parent == nil {
		u.runCleanup(ctx)
	}
	return commitErr
}

// Rollback abandons this unit of work without running commit-preparation
// callbacks. When the receiver is the tree root, cleanup callbacks still run.
func (u *SimpleUnitOfWork) Rollback(ctx context.Context) error {
	u.mu.Lock()
	if u.completed {
		u.mu.Unlock()
		return ErrUnitOfWorkCompleted
	}
	u.completed = true
	u.prepareCommit = nil
	u.mu.Unlock()

	if u.parent == nil {
		u.runCleanup(ctx)
	}
	return nil
}

func (u *SimpleUnitOfWork) runCleanup(ctx context.Context) {
	u.mu.Lock()
	hooks := u.cleanup
	u.cleanup = nil
	u.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
}
