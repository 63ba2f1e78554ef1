package kvguard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unkn0wn-root/kvguard/codec"
	"github.com/unkn0wn-root/kvguard/internal/keys"
	"github.com/unkn0wn-root/kvguard/store"
)

const (
	defaultTTL             = 10 * time.Minute
	defaultMaxWaitAttempts = 5
	defaultWaitBackoff     = 50 * time.Millisecond
	defaultReleaseTimeout  = 2 * time.Second
)

// Producer computes the value for a missing key. It must honor ctx.
type Producer[V any] func(ctx context.Context) (V, error)

// Cache is the cache-aside API over a store.Store.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// GetOrCompute returns the cached value for key, or runs produce under the
	// key's compute lock and caches the result for ttl (0 => DefaultTTL,
	// < 0 => no expiry). Producer errors are returned as is.
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, produce Producer[V]) (V, error)

	// Single
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error

	// Batch (one pipeline each). Missing keys are absent from the map.
	MGet(ctx context.Context, keys []string) (map[string]V, error)
	MSet(ctx context.Context, entries map[string]V, ttl time.Duration) error
}

// Options tune the behavior of the cache.
// Namespace, Store, Codec and LockTTL are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "report", "user"
	Store     store.Store
	Codec     codec.Codec[V]
	LockTTL   time.Duration // compute lock lifetime; reclaims locks of crashed owners

	DefaultTTL      time.Duration    // entries; 0 => 10m
	MaxWaitAttempts int              // re-reads while another caller computes; 0 => 5
	WaitBackoff     time.Duration    // sleep between re-reads; 0 => 50ms
	ReleaseTimeout  time.Duration    // bound on lock release after the caller's ctx is done; 0 => 2s
	Logger          Logger           // if nil, NopLogger is used
	Hooks           Hooks            // if nil, NopHooks is used
	Now             func() time.Time // nil => time.Now
	Disabled        bool             // default false (enabled)
	CloseStore      bool             // Close also closes Store
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}

type cache[V any] struct {
	ns    keys.Namespace
	store store.Store
	codec codec.Codec[V]
	log   Logger
	hooks Hooks
	now   func() time.Time

	enabled    bool
	closeStore bool

	defaultTTL     time.Duration
	lockTTL        time.Duration
	maxWait        int
	waitBackoff    time.Duration
	releaseTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Store == nil {
		return nil, errors.New("kvguard: store is required")
	}
	if opts.Codec == nil {
		return nil, errors.New("kvguard: codec is required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("kvguard: namespace is required")
	}
	if opts.LockTTL <= 0 {
		return nil, errors.New("kvguard: lock TTL is required")
	}
	if opts.MaxWaitAttempts < 0 || opts.WaitBackoff < 0 || opts.ReleaseTimeout < 0 {
		return nil, errors.New("kvguard: wait and release settings must not be negative")
	}

	c := &cache[V]{
		ns:         keys.Namespace(opts.Namespace),
		store:      opts.Store,
		codec:      opts.Codec,
		lockTTL:    opts.LockTTL,
		enabled:    !opts.Disabled,
		closeStore: opts.CloseStore,
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.now = clock(opts.Now)
	c.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	c.maxWait = coalesce[int](opts.MaxWaitAttempts, defaultMaxWaitAttempts)
	c.waitBackoff = coalesce[time.Duration](opts.WaitBackoff, defaultWaitBackoff)
	c.releaseTimeout = coalesce[time.Duration](opts.ReleaseTimeout, defaultReleaseTimeout)
	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.closeStore {
			c.closeErr = c.store.Close(ctx)
		}
	})
	return c.closeErr
}
