package sable

import (
	"sort"
	"sync"
)

// AssociationValue is an immutable correlation key-value pair used to find
// sagas that are interested in an event. Two association values are equal
// when both key and value are equal. An association value is purely a
// correlation token, never a saga identifier.
type AssociationValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewAssociationValue creates a new AssociationValue.
func NewAssociationValue(key, value string) AssociationValue {
	return AssociationValue{Key: key, Value: value}
}

// AssociationValues tracks the association values of a single saga across a
// transaction. It keeps three views: the committed ("current") set, the
// values added since the last commit, and the values removed since the last
// commit. Changes are queryable immediately via Contains, persisted on
// Commit, and remain visible through AddedAssociations/RemovedAssociations
// until then so that deletion bookkeeping can include values removed in the
// same transaction.
//
// AssociationValues is safe for concurrent use: correlation lookups scan
// cache-resident sagas from other goroutines while the owning transaction
// mutates the set.
type AssociationValues struct {
	mu      sync.RWMutex
	current map[AssociationValue]struct{}
	added   map[AssociationValue]struct{}
	removed map[AssociationValue]struct{}
}

// NewAssociationValues creates an empty AssociationValues.
func NewAssociationValues(initial ...AssociationValue) *AssociationValues {
	av := &AssociationValues{
		current: make(map[AssociationValue]struct{}, len(initial)),
		added:   make(map[AssociationValue]struct{}),
		removed: make(map[AssociationValue]struct{}),
	}
	for _, v := range initial {
		av.current[v] = struct{}{}
	}
	return av
}

// Contains reports whether the given value is part of the saga's association
// set as seen by the owning transaction: present in the committed set or in
// the pending additions, and not pending removal.
func (a *AssociationValues) Contains(v AssociationValue) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, removed := a.removed[v]; removed {
		return false
	}
	if _, ok := a.current[v]; ok {
		return true
	}
	_, ok := a.added[v]
	return ok
}

// Add registers the given value as a pending addition. Adding a value that is
// already part of the committed set is a no-op.
func (a *AssociationValues) Add(v AssociationValue) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.removed, v)
	if _, ok := a.current[v]; ok {
		return
	}
	a.added[v] = struct{}{}
}

// Remove registers the given value as a pending removal. Removing a value
// that is not part of the association set is a no-op.
func (a *AssociationValues) Remove(v AssociationValue) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.added, v)
	if _, ok := a.current[v]; ok {
		a.removed[v] = struct{}{}
	}
}

// Commit folds the pending additions into the committed set, drops the
// pending removals from it, and clears both deltas. It must be called exactly
// once per successful persistence of the owning saga.
func (a *AssociationValues) Commit() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for v := range a.added {
		a.current[v] = struct{}{}
	}
	for v := range a.removed {
		delete(a.current, v)
	}
	a.added = make(map[AssociationValue]struct{})
	a.removed = make(map[AssociationValue]struct{})
}

// AsSet returns the committed association set, sorted by key then value for
// deterministic iteration.
func (a *AssociationValues) AsSet() []AssociationValue {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedValues(a.current)
}

// EffectiveSet returns the association set as the owning transaction sees it:
// the committed set plus pending additions, minus pending removals. This is
// the set that persists when the transaction commits.
func (a *AssociationValues) EffectiveSet() []AssociationValue {
	a.mu.RLock()
	defer a.mu.RUnlock()

	effective := make(map[AssociationValue]struct{}, len(a.current)+len(a.added))
	for v := range a.current {
		effective[v] = struct{}{}
	}
	for v := range a.added {
		effective[v] = struct{}{}
	}
	for v := range a.removed {
		delete(effective, v)
	}
	return sortedValues(effective)
}

// AddedAssociations returns the values added since the last commit.
func (a *AssociationValues) AddedAssociations() []AssociationValue {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedValues(a.added)
}

// RemovedAssociations returns the values removed since the last commit. The
// delta stays available until Commit runs, so a delete operation can clean up
// index entries for values removed in the same transaction that also ended
// the saga.
func (a *AssociationValues) RemovedAssociations() []AssociationValue {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedValues(a.removed)
}

// Size returns the number of values visible to the owning transaction.
func (a *AssociationValues) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.current) + len(a.added)
	for v := range a.removed {
		if _, ok := a.current[v]; ok {
			n--
		}
	}
	return n
}

func sortedValues(set map[AssociationValue]struct{}) []AssociationValue {
	values := make([]AssociationValue, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].Key != values[j].Key {
			return values[i].Key < values[j].Key
		}
		return values[i].Value < values[j].Value
	})
	return values
}
