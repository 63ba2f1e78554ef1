package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON is a schema-bound JSON codec. Decode rejects unknown fields and
// trailing data so that a value stored for a different type is not
// silently accepted as a partially filled V.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if dec.More() {
		var zero V
		return zero, fmt.Errorf("json: trailing data after value")
	}
	return v, nil
}

// Dynamic is the schema-free codec: any JSON-representable value in,
// generic JSON values out (map[string]any, []any, float64, string, bool, nil).
type Dynamic struct{}

var _ Codec[any] = Dynamic{}

func (Dynamic) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (Dynamic) Decode(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
