package sable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializer_RoundTrip(t *testing.T) {
	s := NewJSONSerializer()

	original := &orderProcess{OrderID: "order-1", Paid: true}
	data, err := s.Marshal(original)
	require.NoError(t, err)

	var restored orderProcess
	require.NoError(t, s.Unmarshal(data, &restored))
	assert.Equal(t, *original, restored)
}

func TestJSONSerializer_TrackingTokenRoundTrip(t *testing.T) {
	s := NewJSONSerializer()

	data, err := s.Marshal(NewTrackingToken(99))
	require.NoError(t, err)

	var token TrackingToken
	require.NoError(t, s.Unmarshal(data, &token))
	assert.Equal(t, uint64(99), token.GlobalPosition)
}

func TestJSONSerializer_UnmarshalInvalidData(t *testing.T) {
	s := NewJSONSerializer()

	var v orderProcess
	err := s.Unmarshal([]byte("{not json"), &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sable:")
}

func TestJSONSerializer_MarshalUnsupportedType(t *testing.T) {
	s := NewJSONSerializer()

	_, err := s.Marshal(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sable:")
}

func TestJSONSerializer_ContentType(t *testing.T) {
	assert.Equal(t, "application/json", NewJSONSerializer().ContentType())
}
