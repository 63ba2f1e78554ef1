package kvguard

import (
	"context"
	"sort"
	"time"

	"github.com/unkn0wn-root/kvguard/internal/keys"
	"github.com/unkn0wn-root/kvguard/store"
)

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := checkKey(key); err != nil {
		return zero, false, err
	}
	if !c.enabled {
		return zero, false, nil
	}
	v, ok, err := c.load(ctx, key, c.ns.Apply(key))
	if err == nil && !ok {
		c.hooks.CacheMiss(key)
	}
	return v, ok, err
}

func (c *cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if !c.enabled {
		return nil
	}
	return c.write(ctx, key, c.ns.Apply(key), value, ttl)
}

// Invalidate removes the entry. A compute in flight is not interrupted and
// may repopulate the key when it finishes.
func (c *cache[V]) Invalidate(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if !c.enabled {
		return nil
	}
	if _, err := c.store.Del(ctx, c.ns.Apply(key)); err != nil {
		return err
	}
	c.log.Debug("invalidated key", Fields{"key": key})
	return nil
}

// MGet reads keys in one pipeline. Any member that does not decode fails the
// whole call with *DeserializationError.
func (c *cache[V]) MGet(ctx context.Context, keys []string) (map[string]V, error) {
	if err := checkKeys(keys); err != nil {
		return nil, err
	}
	out := make(map[string]V, len(keys))
	if !c.enabled || len(keys) == 0 {
		return out, nil
	}

	cmds := make([]store.Command, len(keys))
	for i, k := range keys {
		cmds[i] = store.Get(c.ns.Apply(k))
	}
	res, err := c.store.Pipeline(ctx, cmds)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		if !res[i].OK {
			c.hooks.CacheMiss(k)
			continue
		}
		v, err := c.decode(k, res[i].Val)
		if err != nil {
			return nil, err
		}
		c.hooks.CacheHit(k)
		out[k] = v
	}
	return out, nil
}

// MSet encodes every entry before writing anything, then writes all of them
// in one pipeline.
func (c *cache[V]) MSet(ctx context.Context, entries map[string]V, ttl time.Duration) error {
	if !c.enabled || len(entries) == 0 {
		return nil
	}

	// stable order keeps pipelines reproducible
	ks := make([]string, 0, len(entries))
	for k := range entries {
		if err := checkKey(k); err != nil {
			return err
		}
		ks = append(ks, k)
	}
	sort.Strings(ks)

	ttl = c.entryTTL(ttl)
	cmds := make([]store.Command, 0, len(ks))
	for _, k := range ks {
		b, err := c.encode(k, entries[k])
		if err != nil {
			return err
		}
		cmds = append(cmds, store.Set(c.ns.Apply(k), b, ttl))
	}
	if _, err := c.store.Pipeline(ctx, cmds); err != nil {
		c.log.Error("batch cache write failed", Fields{"count": len(cmds), "err": err})
		return err
	}
	return nil
}

func checkKeys(ks []string) error {
	for _, k := range ks {
		if err := checkKey(k); err != nil {
			return err
		}
	}
	return nil
}

func checkKey(key string) error {
	switch {
	case key == "":
		return ErrEmptyKey
	case keys.Reserved(key):
		return ErrReservedKey
	}
	return nil
}
