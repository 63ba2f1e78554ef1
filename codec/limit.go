package codec

import "fmt"

// LimitCodec wraps another codec to enforce a maximum payload size at Decode
// time. Encode is forwarded to Inner unchanged. MaxDecode <= 0 disables the
// check.
//
// Typical use: protect against oversized values written to a shared store by
// another writer.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int // bytes
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
