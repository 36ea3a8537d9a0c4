package sable

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderProcess struct {
	OrderID string `json:"orderId"`
	Paid    bool   `json:"paid"`
}

func TestNewSaga(t *testing.T) {
	root := &orderProcess{OrderID: "order-1"}
	saga := NewSaga("saga-1", root, nil, nil)

	assert.Equal(t, "saga-1", saga.ID())
	assert.Same(t, root, saga.Root())
	assert.True(t, saga.IsActive())
	assert.Nil(t, saga.TrackingToken())
	require.NotNil(t, saga.AssociationValues())
	assert.Equal(t, 0, saga.AssociationValues().Size())
}

func TestSaga_AssociateWith(t *testing.T) {
	saga := NewSaga("saga-1", &orderProcess{}, nil, nil)
	v := NewAssociationValue("orderId", "order-1")

	saga.AssociateWith(v)

	assert.True(t, saga.AssociationValues().Contains(v))
}

func TestSaga_RemoveAssociation(t *testing.T) {
	v := NewAssociationValue("orderId", "order-1")
	saga := NewSaga("saga-1", &orderProcess{}, NewAssociationValues(v), nil)

	saga.RemoveAssociation(v)

	assert.False(t, saga.AssociationValues().Contains(v))
}

func TestSaga_End(t *testing.T) {
	saga := NewSaga("saga-1", &orderProcess{}, nil, nil)
	require.True(t, saga.IsActive())

	saga.End()

	assert.False(t, saga.IsActive())
}

func TestSaga_TrackingToken(t *testing.T) {
	saga := NewSaga("saga-1", &orderProcess{}, nil, NewTrackingToken(7))

	require.NotNil(t, saga.TrackingToken())
	assert.Equal(t, uint64(7), saga.TrackingToken().GlobalPosition)

	saga.SetTrackingToken(NewTrackingToken(42))
	assert.Equal(t, uint64(42), saga.TrackingToken().GlobalPosition)
}

func TestResourceInjectorFunc(t *testing.T) {
	called := false
	injector := ResourceInjectorFunc(func(root interface{}) error {
		called = true
		return nil
	})

	require.NoError(t, injector.InjectResources(&orderProcess{}))
	assert.True(t, called)
}

func TestResourceInjectorFunc_Error(t *testing.T) {
	boom := errors.New("no database handle")
	injector := ResourceInjectorFunc(func(root interface{}) error {
		return boom
	})

	assert.ErrorIs(t, injector.InjectResources(&orderProcess{}), boom)
}

func TestNoResourceInjector(t *testing.T) {
	assert.NoError(t, NoResourceInjector{}.InjectResources(&orderProcess{}))
}

func TestNewSagaIdentifier(t *testing.T) {
	a := NewSagaIdentifier()
	b := NewSagaIdentifier()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
