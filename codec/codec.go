// Package codec converts cached values to and from the bytes kept in the store.
//
// Codecs are schema-bound: the type parameter V is the expected shape and
// Decode fails when the stored bytes do not conform to it. Dynamic is the one
// schema-free codec; it is never used as a fallback for a schema-bound one.
package codec

// Codec encodes/decodes values V to []byte for storage.
// Decode(Encode(v)) must equal v for every valid v.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
