// Package promhook counts kvguard hook events with Prometheus counters.
// Keys and identities are never used as labels.
package promhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/kvguard"
)

type Options struct {
	Namespace string            // metric namespace; "" => "kvguard"
	Labels    prometheus.Labels // constant labels, e.g. {"cache": "report"}
}

type Hooks struct {
	lookups        *prometheus.CounterVec
	contended      prometheus.Counter
	waitExhausted  prometheus.Counter
	releaseFailed  prometheus.Counter
	decodeFailures prometheus.Counter
	rateLimited    *prometheus.CounterVec
}

var _ kvguard.Hooks = (*Hooks)(nil)

// New registers the counters with reg; registering twice with the same
// Options on one registry panics, like promauto.
func New(reg prometheus.Registerer, opts Options) *Hooks {
	ns := opts.Namespace
	if ns == "" {
		ns = "kvguard"
	}
	f := promauto.With(reg)
	return &Hooks{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "cache_lookups_total",
			Help:        "Cache reads by result (hit, miss).",
			ConstLabels: opts.Labels,
		}, []string{"result"}),
		contended: f.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "lock_contended_total",
			Help:        "Misses that found the compute lock held by another caller.",
			ConstLabels: opts.Labels,
		}),
		waitExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "lock_wait_exhausted_total",
			Help:        "Bounded waits that ran out and computed without the lock.",
			ConstLabels: opts.Labels,
		}),
		releaseFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "lock_release_failures_total",
			Help:        "Compute lock releases that failed; the lock expired via its TTL.",
			ConstLabels: opts.Labels,
		}),
		decodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "decode_failures_total",
			Help:        "Stored entries that did not decode into the expected type.",
			ConstLabels: opts.Labels,
		}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "ratelimit_denied_total",
			Help:        "Requests denied by a rate limiter.",
			ConstLabels: opts.Labels,
		}, []string{"algorithm"}),
	}
}

func (h *Hooks) CacheHit(string)                 { h.lookups.WithLabelValues("hit").Inc() }
func (h *Hooks) CacheMiss(string)                { h.lookups.WithLabelValues("miss").Inc() }
func (h *Hooks) LockContended(string)            { h.contended.Inc() }
func (h *Hooks) WaitExhausted(string, int)       { h.waitExhausted.Inc() }
func (h *Hooks) LockReleaseFailed(string, error) { h.releaseFailed.Inc() }
func (h *Hooks) DecodeFailed(string, error)      { h.decodeFailures.Inc() }
func (h *Hooks) RateLimited(alg, _ string)       { h.rateLimited.WithLabelValues(alg).Inc() }
