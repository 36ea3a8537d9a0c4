package sable

import (
	"encoding/json"
	"fmt"
)

// Serializer converts saga root objects to and from their stored byte
// representation. Store adapters deal exclusively in bytes; the repository
// owns the codec.
type Serializer interface {
	// Marshal converts a root object to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal restores a root object from bytes.
	Unmarshal(data []byte, v interface{}) error

	// ContentType identifies the wire format (e.g. "application/json").
	ContentType() string
}

// JSONSerializer is the default Serializer. It encodes saga roots as JSON.
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSONSerializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Marshal converts a root object to JSON bytes.
func (s *JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sable: failed to marshal saga root: %w", err)
	}
	return data, nil
}

// Unmarshal restores a root object from JSON bytes.
func (s *JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("sable: failed to unmarshal saga root: %w", err)
	}
	return nil
}

// ContentType returns "application/json".
func (s *JSONSerializer) ContentType() string {
	return "application/json"
}
