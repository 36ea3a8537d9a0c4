// Package msgpack provides a MessagePack serializer implementation for sable.
//
// MessagePack is a binary serialization format that produces smaller payloads
// than JSON while maintaining similar flexibility. It's particularly useful
// for sagas with large root objects.
//
// Basic usage:
//
//	repo := sable.NewSagaRepository[OrderProcess]("OrderProcess", store,
//	    sable.WithSerializer(msgpack.NewSerializer()))
package msgpack

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer is a MessagePack implementation of sable.Serializer.
type Serializer struct{}

// NewSerializer creates a new MessagePack Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts a saga root object to MessagePack bytes.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, &SerializationError{Operation: "marshal", Err: fmt.Errorf("value cannot be nil")}
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal", Err: err}
	}
	return data, nil
}

// Unmarshal restores a saga root object from MessagePack bytes.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return &SerializationError{Operation: "unmarshal", Err: fmt.Errorf("data cannot be empty")}
	}

	if err := msgpack.Unmarshal(data, v); err != nil {
		return &SerializationError{Operation: "unmarshal", Err: err}
	}
	return nil
}

// ContentType returns "application/msgpack".
func (s *Serializer) ContentType() string {
	return "application/msgpack"
}

// SerializationError represents a serialization or deserialization error.
type SerializationError struct {
	Operation string // "marshal" or "unmarshal"
	Err       error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("sable/msgpack: failed to %s saga root: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}
