// Package ratelimit enforces per-identity request budgets on top of a
// store.Store shared by every process that limits the same identities.
//
// Two algorithms are provided:
//
//   - SlidingWindow keeps one sorted-set member per admitted request, scored
//     by its time in milliseconds. Exact: at most limit requests in any
//     trailing window.
//   - FixedWindow keeps one counter per identity and window bucket. Cheaper,
//     but up to 2*limit requests can pass around a bucket boundary.
//
// Neither limiter keeps local state; every decision is made by one atomic
// store pipeline, so limits hold across processes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/kvguard"
	"github.com/unkn0wn-root/kvguard/internal/keys"
	"github.com/unkn0wn-root/kvguard/store"
)

var (
	ErrInvalidLimit     = errors.New("ratelimit: limit must be positive and window at least 1ms")
	ErrEmptyIdentity    = errors.New("ratelimit: empty identity")
	ErrUnknownAlgorithm = errors.New("ratelimit: unknown algorithm")
)

type Algorithm uint8

const (
	Sliding Algorithm = iota + 1
	Fixed
)

func (a Algorithm) String() string {
	switch a {
	case Sliding:
		return "sliding"
	case Fixed:
		return "fixed"
	}
	return fmt.Sprintf("Algorithm(%d)", uint8(a))
}

// ParseAlgorithm accepts "sliding" or "fixed" (case-insensitive, optional
// "_window" suffix).
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_window") {
	case "sliding":
		return Sliding, nil
	case "fixed":
		return Fixed, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// Result of one check. A denial is a normal Result, not an error.
type Result struct {
	Allowed    bool
	Remaining  int           // requests left in the window after this one
	Limit      int           // the limit the request was checked against
	RetryAfter time.Duration // set on denial: earliest time a retry can pass
	ResetAt    time.Time
}

// Limiter is implemented by SlidingWindow, FixedWindow and Checker.
type Limiter interface {
	Check(ctx context.Context, identity string, limit int, window time.Duration) (Result, error)
}

var (
	_ Limiter = (*SlidingWindow)(nil)
	_ Limiter = (*FixedWindow)(nil)
	_ Limiter = (*Checker)(nil)
)

type Options struct {
	Namespace string           // key prefix shared with the cache, e.g. "app"
	Algorithm Algorithm        // used by Checker.Check; 0 => Sliding
	Now       func() time.Time // nil => time.Now
	Logger    kvguard.Logger   // if nil, NopLogger is used
	Hooks     kvguard.Hooks    // if nil, NopHooks is used
}

// base is the state both algorithms share.
type base struct {
	st    store.Store
	ns    keys.Namespace
	now   func() time.Time
	log   kvguard.Logger
	hooks kvguard.Hooks
}

func newBase(st store.Store, opts Options) base {
	b := base{st: st, ns: keys.Namespace(opts.Namespace), now: opts.Now, log: opts.Logger, hooks: opts.Hooks}
	if b.now == nil {
		b.now = time.Now
	}
	if b.log == nil {
		b.log = kvguard.NopLogger{}
	}
	if b.hooks == nil {
		b.hooks = kvguard.NopHooks{}
	}
	return b
}

func (b base) denied(alg Algorithm, identity string, limit int, retry time.Duration) {
	b.hooks.RateLimited(alg.String(), identity)
	b.log.Debug("rate limited", kvguard.Fields{
		"algorithm":  alg.String(),
		"identity":   identity,
		"limit":      limit,
		"retryAfter": retry,
	})
}

func validate(identity string, limit int, window time.Duration) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if limit <= 0 || window < time.Millisecond {
		return ErrInvalidLimit
	}
	return nil
}

// Checker dispatches to the configured algorithm.
type Checker struct {
	alg     Algorithm
	sliding *SlidingWindow
	fixed   *FixedWindow
}

func New(st store.Store, opts Options) (*Checker, error) {
	if st == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	alg := opts.Algorithm
	if alg == 0 {
		alg = Sliding
	}
	if alg != Sliding && alg != Fixed {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(alg))
	}
	return &Checker{
		alg:     alg,
		sliding: NewSlidingWindow(st, opts),
		fixed:   NewFixedWindow(st, opts),
	}, nil
}

func (c *Checker) Algorithm() Algorithm { return c.alg }

func (c *Checker) Check(ctx context.Context, identity string, limit int, window time.Duration) (Result, error) {
	return c.CheckWith(ctx, c.alg, identity, limit, window)
}

func (c *Checker) CheckWith(ctx context.Context, alg Algorithm, identity string, limit int, window time.Duration) (Result, error) {
	switch alg {
	case Sliding:
		return c.sliding.Check(ctx, identity, limit, window)
	case Fixed:
		return c.fixed.Check(ctx, identity, limit, window)
	}
	return Result{}, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(alg))
}
