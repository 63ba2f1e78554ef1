package kvguard

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyKey        = errors.New("kvguard: empty key")
	ErrReservedKey     = errors.New("kvguard: key ends in \":lock\" or starts with \"rl:\"")
	ErrNilProducer     = errors.New("kvguard: nil producer")
	ErrDeserialization = errors.New("kvguard: cached entry does not decode")
	ErrLockTimeout     = errors.New("kvguard: lock wait exhausted")
)

// DeserializationError reports a stored value that does not match the
// expected type (foreign frame, corrupt bytes, or a codec/validation
// failure). It is never turned into a miss.
type DeserializationError struct {
	Key string
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("kvguard: decode %q: %v", e.Key, e.Err)
}

func (e *DeserializationError) Unwrap() []error {
	return []error{ErrDeserialization, e.Err}
}

// LockTimeoutError is returned when the bounded wait for another caller's
// compute ran out AND the fall-through compute failed. Err is the producer's
// error.
type LockTimeoutError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("kvguard: %q: lock wait exhausted after %d attempts; compute failed: %v",
		e.Key, e.Attempts, e.Err)
}

func (e *LockTimeoutError) Unwrap() []error {
	return []error{ErrLockTimeout, e.Err}
}
