package surge

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec defines the value encoding used by Task.Set and by configuration loading.
// Implement this interface to use alternative formats like TOML, msgpack, or raw bytes.
type Codec interface {
	// Marshal serializes v into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a value.
	Unmarshal(data []byte, v any) error

	// ContentType returns the MIME type for observability and debugging.
	ContentType() string
}

// JSONCodec implements Codec using encoding/json.
type JSONCodec struct{}

// Marshal serializes v as JSON.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes JSON bytes into v.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ContentType returns the JSON MIME type.
func (JSONCodec) ContentType() string {
	return "application/json"
}

// Ensure JSONCodec implements Codec.
var _ Codec = JSONCodec{}

// YAMLCodec implements Codec using gopkg.in/yaml.v3.
type YAMLCodec struct{}

// Marshal serializes v as YAML.
func (YAMLCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

// Unmarshal deserializes YAML bytes into v.
func (YAMLCodec) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// ContentType returns the YAML MIME type.
func (YAMLCodec) ContentType() string {
	return "application/x-yaml"
}

// Ensure YAMLCodec implements Codec.
var _ Codec = YAMLCodec{}

// RawCodec passes []byte and string values through unchanged.
// Any other value type is rejected.
type RawCodec struct{}

// Marshal returns v's bytes when v is a []byte or string.
func (RawCodec) Marshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return nil, &UnsupportedValueError{Value: v}
	}
}

// Unmarshal copies data into v when v is a *[]byte or *string.
func (RawCodec) Unmarshal(data []byte, v any) error {
	switch dst := v.(type) {
	case *[]byte:
		*dst = append((*dst)[:0], data...)
		return nil
	case *string:
		*dst = string(data)
		return nil
	default:
		return &UnsupportedValueError{Value: v}
	}
}

// ContentType returns the octet-stream MIME type.
func (RawCodec) ContentType() string {
	return "application/octet-stream"
}

// Ensure RawCodec implements Codec.
var _ Codec = RawCodec{}

// UnsupportedValueError reports a value RawCodec cannot encode or decode.
type UnsupportedValueError struct {
	Value any
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("raw codec: unsupported value type %T", e.Value)
}
