package kvguard

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache and the rate limiters call them on hot paths.
//
// key is the logical key as passed by the caller (before namespacing).
type Hooks interface {
	// Entry found and decoded.
	CacheHit(key string)
	// Entry absent on the first read of a call.
	CacheMiss(key string)

	// Another caller holds the compute lock; this caller starts waiting.
	LockContended(key string)
	// Bounded wait ran out; the caller computes without the lock.
	WaitExhausted(key string, attempts int)
	// Releasing the compute lock failed (store error). The lock expires via LockTTL.
	LockReleaseFailed(key string, err error)

	// Stored bytes could not be decoded into the expected type.
	DecodeFailed(key string, err error)

	// A rate-limit check denied a request.
	// algorithm ∈ {"sliding", "fixed"}
	RateLimited(algorithm, identity string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheHit(string)                 {}
func (NopHooks) CacheMiss(string)                {}
func (NopHooks) LockContended(string)            {}
func (NopHooks) WaitExhausted(string, int)       {}
func (NopHooks) LockReleaseFailed(string, error) {}
func (NopHooks) DecodeFailed(string, error)      {}
func (NopHooks) RateLimited(string, string)      {}
