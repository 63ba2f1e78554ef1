// Package sloghook logs kvguard hook events through log/slog, with optional
// sampling for the high-volume ones and redacted keys.
package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/kvguard"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ContendedEvery   uint64
	RateLimitedEvery uint64
	// LogHits logs every hit and miss at debug level. Off by default.
	LogHits bool
	// Optional key/identity redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	contendedCtr atomic.Uint64
	limitedCtr   atomic.Uint64
}

var _ kvguard.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheHit(key string) {
	if h.l == nil || !h.opts.LogHits {
		return
	}
	h.l.Debug("kvguard.cache_hit", "key", h.redact(key))
}

func (h *Hooks) CacheMiss(key string) {
	if h.l == nil || !h.opts.LogHits {
		return
	}
	h.l.Debug("kvguard.cache_miss", "key", h.redact(key))
}

func (h *Hooks) LockContended(key string) {
	if h.l == nil || !sample(h.opts.ContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Debug("kvguard.lock_contended", "key", h.redact(key))
}

func (h *Hooks) WaitExhausted(key string, attempts int) {
	if h.l == nil {
		return
	}
	h.l.Warn("kvguard.wait_exhausted",
		"key", h.redact(key),
		"attempts", attempts)
}

func (h *Hooks) LockReleaseFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("kvguard.lock_release_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) DecodeFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("kvguard.decode_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) RateLimited(algorithm, identity string) {
	if h.l == nil || !sample(h.opts.RateLimitedEvery, &h.limitedCtr) {
		return
	}
	h.l.Info("kvguard.rate_limited",
		"algorithm", algorithm,
		"identity", h.redact(identity))
}
