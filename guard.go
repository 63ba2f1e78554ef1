package kvguard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/kvguard/internal/wire"
)

func (c *cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, produce Producer[V]) (V, error) {
	var zero V
	if err := checkKey(key); err != nil {
		return zero, err
	}
	if produce == nil {
		return zero, ErrNilProducer
	}
	if !c.enabled {
		return produce(ctx)
	}

	k := c.ns.Apply(key)
	if v, ok, err := c.load(ctx, key, k); err != nil || ok {
		return v, err
	}
	c.hooks.CacheMiss(key)

	v, acquired, err := c.tryCompute(ctx, key, k, ttl, produce)
	if acquired || err != nil {
		return v, err
	}

	c.hooks.LockContended(key)
	c.log.Debug("compute lock held by another caller; waiting", Fields{"key": key})
	return c.wait(ctx, key, k, ttl, produce)
}

// tryCompute takes the compute lock and, if it got it, runs produce.
// acquired=false means someone else holds the lock and nothing was computed.
func (c *cache[V]) tryCompute(ctx context.Context, key, k string, ttl time.Duration, produce Producer[V]) (v V, acquired bool, err error) {
	token := uuid.NewString()
	lk := c.ns.Lock(key)
	acquired, err = c.store.SetNX(ctx, lk, []byte(token), c.lockTTL)
	if err != nil || !acquired {
		return v, false, err
	}
	defer c.release(ctx, key, lk, token)

	// The previous owner may have written and released between our read and SETNX.
	if v, ok, err := c.load(ctx, key, k); err != nil || ok {
		return v, true, err
	}

	start := c.now()
	v, err = produce(ctx)
	if err != nil {
		var zero V
		return zero, true, err
	}
	if err := c.write(ctx, key, k, v, ttl); err != nil {
		var zero V
		return zero, true, err
	}
	c.log.Debug("computed and cached", Fields{"key": key, "took": c.now().Sub(start)})
	return v, true, nil
}

// wait re-reads the entry up to maxWait times, WaitBackoff apart. A lock
// freed without a value (owner failed) is taken over. When the attempts run
// out the value is computed without the lock.
func (c *cache[V]) wait(ctx context.Context, key, k string, ttl time.Duration, produce Producer[V]) (V, error) {
	var zero V
	if v, ok, err := c.load(ctx, key, k); err != nil || ok {
		return v, err
	}

	for attempt := 1; attempt <= c.maxWait; attempt++ {
		if err := sleep(ctx, c.waitBackoff); err != nil {
			return zero, err
		}
		if v, ok, err := c.load(ctx, key, k); err != nil || ok {
			return v, err
		}
		v, acquired, err := c.tryCompute(ctx, key, k, ttl, produce)
		if acquired || err != nil {
			return v, err
		}
	}

	c.hooks.WaitExhausted(key, c.maxWait)
	c.log.Warn("lock wait exhausted; computing without lock", Fields{"key": key, "attempts": c.maxWait})

	v, err := produce(ctx)
	if err != nil {
		return zero, &LockTimeoutError{Key: key, Attempts: c.maxWait, Err: err}
	}
	if err := c.write(ctx, key, k, v, ttl); err != nil {
		return zero, err
	}
	return v, nil
}

// release deletes the lock only while it still carries token, so an owner
// whose lock already expired never frees a successor's lock. It runs detached
// from ctx's cancellation, bounded by ReleaseTimeout.
//
// GET and DEL are two round trips: the lock can expire and be re-taken in
// between. LockTTL far above the round-trip time keeps that window negligible.
func (c *cache[V]) release(ctx context.Context, key, lk, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
	defer cancel()

	cur, ok, err := c.store.Get(rctx, lk)
	if err == nil && ok && string(cur) == token {
		_, err = c.store.Del(rctx, lk)
	} else if err == nil {
		c.log.Debug("compute lock expired before release", Fields{"key": key})
		return
	}
	if err != nil {
		c.hooks.LockReleaseFailed(key, err)
		c.log.Warn("compute lock release failed; it will expire", Fields{"key": key, "err": err, "lockTTL": c.lockTTL})
	}
}

// load reads and decodes k. Miss => ok=false, nil error.
func (c *cache[V]) load(ctx context.Context, key, k string) (V, bool, error) {
	var zero V
	raw, ok, err := c.store.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := c.decode(key, raw)
	if err != nil {
		return zero, false, err
	}
	c.hooks.CacheHit(key)
	return v, true, nil
}

func (c *cache[V]) decode(key string, raw []byte) (V, error) {
	var zero V
	payload, err := wire.DecodeEntry(raw)
	if err == nil {
		var v V
		if v, err = c.codec.Decode(payload); err == nil {
			return v, nil
		}
	}
	c.hooks.DecodeFailed(key, err)
	c.log.Error("cached entry does not decode", Fields{"key": key, "err": err})
	return zero, &DeserializationError{Key: key, Err: err}
}

func (c *cache[V]) encode(key string, v V) ([]byte, error) {
	payload, err := c.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("kvguard: encode %q: %w", key, err)
	}
	return wire.EncodeEntry(payload), nil
}

func (c *cache[V]) write(ctx context.Context, key, k string, v V, ttl time.Duration) error {
	b, err := c.encode(key, v)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, k, b, c.entryTTL(ttl)); err != nil {
		c.log.Error("cache write failed", Fields{"key": key, "err": err})
		return err
	}
	return nil
}

// entryTTL maps the caller's ttl: 0 => DefaultTTL, < 0 => no expiry.
func (c *cache[V]) entryTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return c.defaultTTL
	}
	return ttl
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
