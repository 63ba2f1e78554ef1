package keys

import (
	"strconv"
	"strings"
)

const (
	lockSuffix  = ":lock"
	limitPrefix = "rl:"
)

// Namespace prefixes every logical key touching the store.
// Apply is injective for a fixed prefix: distinct keys never collide.
//
// Lock and the limiter keys share the namespace with cache entries. Logical
// keys ending in ":lock" or starting with "rl:" would alias them and are
// reserved; see Reserved.
type Namespace string

func (n Namespace) Apply(key string) string {
	if n == "" {
		return key
	}
	return string(n) + ":" + key
}

// Lock is the compute-lock key guarding key's cache entry.
func (n Namespace) Lock(key string) string { return n.Apply(key) + lockSuffix }

// Sliding is the sorted-set key holding identity's request timestamps.
func (n Namespace) Sliding(identity string) string {
	return n.Apply(limitPrefix + "sw:" + identity)
}

// Fixed is the counter key for identity within one window bucket.
func (n Namespace) Fixed(identity string, bucket int64) string {
	return n.Apply(limitPrefix + "fw:" + identity + ":" + strconv.FormatInt(bucket, 10))
}

// Reserved reports whether a logical cache key would collide with a lock or
// rate-limit key in the same namespace.
func Reserved(key string) bool {
	return strings.HasSuffix(key, lockSuffix) || strings.HasPrefix(key, limitPrefix)
}
