// Package kvguard implements cache-aside with stampede protection on top of a
// shared atomic key-value store. Rate limiting over the same store lives in
// the ratelimit subpackage.
//
// Components:
//   - store.Store: the key-value capability (Redis, or in-process memory).
//   - Codec[V]: (de)serializes V <-> []byte. Schema-bound by default.
//   - Hooks / Logger: optional observability, no-op when unset.
//
// Keys:
//
//	<ns>:<key>       - cached entry (framed codec payload, with TTL)
//	<ns>:<key>:lock  - compute lock, SET NX with LockTTL; value is an owner token
//	<ns>:rl:...      - rate-limit state (package ratelimit)
//
// Logical keys ending in ":lock" or starting with "rl:" are rejected with
// ErrReservedKey.
//
// GetOrCompute on a miss lets exactly one caller (the lock owner) run the
// producer. Other callers re-read the entry for a bounded number of attempts
// and, if it never appears, compute it themselves:
//
//	v, err := c.GetOrCompute(ctx, "report:2024", time.Hour, func(ctx context.Context) (Report, error) {
//		return buildReport(ctx, 2024)
//	})
package kvguard
