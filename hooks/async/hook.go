// Package asynchook moves hook callbacks off the hot path: events are queued
// to a small worker pool and dropped when the queue is full.
//
// usage:
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{ContendedEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := kvguard.New[Report](kvguard.Options[Report]{
//	    Namespace: "app:prod:report",
//	    Store:     st,
//	    Codec:     codec.JSON[Report]{},
//	    LockTTL:   10 * time.Second,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/kvguard"
)

type Hooks struct {
	inner   kvguard.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	dropped atomic.Uint64
}

var _ kvguard.Hooks = (*Hooks)(nil)

func New(inner kvguard.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = kvguard.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports events discarded because the queue was full or closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheHit(k string)      { h.try(func() { h.inner.CacheHit(k) }) }
func (h *Hooks) CacheMiss(k string)     { h.try(func() { h.inner.CacheMiss(k) }) }
func (h *Hooks) LockContended(k string) { h.try(func() { h.inner.LockContended(k) }) }
func (h *Hooks) WaitExhausted(k string, n int) {
	h.try(func() { h.inner.WaitExhausted(k, n) })
}
func (h *Hooks) LockReleaseFailed(k string, err error) {
	h.try(func() { h.inner.LockReleaseFailed(k, err) })
}
func (h *Hooks) DecodeFailed(k string, err error) {
	h.try(func() { h.inner.DecodeFailed(k, err) })
}
func (h *Hooks) RateLimited(alg, id string) {
	h.try(func() { h.inner.RateLimited(alg, id) })
}
