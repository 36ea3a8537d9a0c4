package sable

import "sync"

// TrackingToken marks the position in the event stream up to which a saga has
// processed events. It is persisted alongside the saga so consumption can
// resume where it left off. A nil *TrackingToken means the saga has no
// recorded position.
type TrackingToken struct {
	// GlobalPosition is the global ordering position across all streams.
	GlobalPosition uint64 `json:"globalPosition"`
}

// NewTrackingToken creates a TrackingToken for the given global position.
func NewTrackingToken(position uint64) *TrackingToken {
	return &TrackingToken{GlobalPosition: position}
}

// SagaFactory produces the domain-specific root object for a new saga
// instance.
type SagaFactory[T any] func() (*T, error)

// ResourceInjector injects external dependencies into a saga root object
// after it has been created or loaded from storage. Implementations may
// mutate the root in place.
type ResourceInjector interface {
	InjectResources(root interface{}) error
}

// NoResourceInjector is a ResourceInjector that does nothing. It is the
// default when no injector is configured.
type NoResourceInjector struct{}

// InjectResources implements ResourceInjector as a no-op.
func (NoResourceInjector) InjectResources(interface{}) error { return nil }

// ResourceInjectorFunc adapts a function to the ResourceInjector interface.
type ResourceInjectorFunc func(root interface{}) error

// InjectResources calls f(root).
func (f ResourceInjectorFunc) InjectResources(root interface{}) error { return f(root) }

// Saga associates a domain-specific root object with its identifier, its
// association values, an activity flag, and an optional tracking token. It is
// the in-memory representation managed by the saga repository.
//
// A saga starts active. Domain logic ends it by calling End; an ended saga is
// deleted from storage at commit time instead of updated. The repository's
// locking layer serializes all mutation of a saga, but the activity flag and
// token are still guarded so that observers on other goroutines see a
// consistent view.
type Saga[T any] struct {
	id           string
	root         *T
	associations *AssociationValues

	mu     sync.RWMutex
	active bool
	token  *TrackingToken
}

// NewSaga wraps the given root object into a managed saga. The saga starts
// active with the provided association values and tracking token.
func NewSaga[T any](id string, root *T, associations *AssociationValues, token *TrackingToken) *Saga[T] {
	if associations == nil {
		associations = NewAssociationValues()
	}
	return &Saga[T]{
		id:           id,
		root:         root,
		associations: associations,
		active:       true,
		token:        token,
	}
}

// ID returns the saga's unique identifier.
func (s *Saga[T]) ID() string {
	return s.id
}

// Root returns the domain-specific root object.
func (s *Saga[T]) Root() *T {
	return s.root
}

// AssociationValues returns the saga's association value tracker.
func (s *Saga[T]) AssociationValues() *AssociationValues {
	return s.associations
}

// AssociateWith registers an association value for this saga. The value is
// queryable immediately and persisted when the owning transaction commits.
func (s *Saga[T]) AssociateWith(v AssociationValue) {
	s.associations.Add(v)
}

// RemoveAssociation removes an association value from this saga. Removing an
// absent value is a no-op.
func (s *Saga[T]) RemoveAssociation(v AssociationValue) {
	s.associations.Remove(v)
}

// IsActive reports whether the saga is still live. An ended saga is deleted
// at commit time.
func (s *Saga[T]) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// End marks the saga as ended. The instance stays cached until the owning
// transaction tree completes; only the commit decision changes.
func (s *Saga[T]) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// TrackingToken returns the saga's last processed stream position, or nil if
// none has been recorded.
func (s *Saga[T]) TrackingToken() *TrackingToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetTrackingToken records the saga's last processed stream position.
func (s *Saga[T]) SetTrackingToken(token *TrackingToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}
