package codec

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator caches struct metadata per type.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validated binds Inner to a validated record type: after Decode (and before
// Encode) V is checked against its `validate:"..."` struct tags. A stored
// value that decodes but violates the schema is a decode error.
//
// V must be a struct or a pointer to a struct.
type Validated[V any] struct {
	Inner Codec[V]
}

// NewValidated wraps inner; a nil inner means JSON[V].
func NewValidated[V any](inner Codec[V]) Validated[V] {
	if inner == nil {
		inner = JSON[V]{}
	}
	return Validated[V]{Inner: inner}
}

func (c Validated[V]) Encode(v V) ([]byte, error) {
	if err := validate.Struct(v); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return c.Inner.Encode(v)
}

func (c Validated[V]) Decode(b []byte) (V, error) {
	v, err := c.Inner.Decode(b)
	if err != nil {
		return v, err
	}
	if err := validate.Struct(v); err != nil {
		var zero V
		return zero, fmt.Errorf("validate: %w", err)
	}
	return v, nil
}
