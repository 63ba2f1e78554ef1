package ratelimit

import (
	"context"
	"time"

	"github.com/unkn0wn-root/kvguard/store"
)

// FixedWindow counts requests per identity in buckets of now/window.
// Up to 2*limit requests can pass across a bucket boundary.
type FixedWindow struct {
	base
}

func NewFixedWindow(st store.Store, opts Options) *FixedWindow {
	return &FixedWindow{base: newBase(st, opts)}
}

// Check increments the bucket counter and, in the same pipeline, sets its
// expiry to the bucket's end only if it has none (the increment created it).
// The counter's TTL never exceeds window.
func (f *FixedWindow) Check(ctx context.Context, identity string, limit int, window time.Duration) (Result, error) {
	if err := validate(identity, limit, window); err != nil {
		return Result{}, err
	}
	now := f.now()
	nowMs := now.UnixMilli()
	winMs := window.Milliseconds()
	bucket := nowMs / winMs
	endMs := (bucket + 1) * winMs
	key := f.ns.Fixed(identity, bucket)

	res, err := f.st.Pipeline(ctx, []store.Command{
		store.Incr(key),
		store.ExpireNX(key, time.Duration(endMs-nowMs)*time.Millisecond),
	})
	if err != nil {
		return Result{}, err
	}

	n := res[0].N
	resetAt := time.UnixMilli(endMs)
	if n <= int64(limit) {
		return Result{
			Allowed:   true,
			Remaining: limit - int(n),
			Limit:     limit,
			ResetAt:   resetAt,
		}, nil
	}

	retry := resetAt.Sub(now)
	f.denied(Fixed, identity, limit, retry)
	return Result{
		Limit:      limit,
		RetryAfter: retry,
		ResetAt:    resetAt,
	}, nil
}
