package kvguard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	c "github.com/unkn0wn-root/kvguard/codec"
	"github.com/unkn0wn-root/kvguard/internal/wire"
	"github.com/unkn0wn-root/kvguard/store"
	"github.com/unkn0wn-root/kvguard/store/memory"
	rstore "github.com/unkn0wn-root/kvguard/store/redis"
)

type report struct {
	ID    string  `json:"id"`
	Total float64 `json:"total"`
}

// faultStore injects errors into selected single commands.
type faultStore struct {
	store.Store
	setErr error
	getErr func(key string) error
}

func (f *faultStore) Set(ctx context.Context, key string, v []byte, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Store.Set(ctx, key, v, ttl)
}

func (f *faultStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.getErr != nil {
		if err := f.getErr(key); err != nil {
			return nil, false, err
		}
	}
	return f.Store.Get(ctx, key)
}

type countingHooks struct {
	NopHooks
	hits, misses, contended, exhausted, releaseFailed, decodeFailed atomic.Int64
}

func (h *countingHooks) CacheHit(string)                 { h.hits.Add(1) }
func (h *countingHooks) CacheMiss(string)                { h.misses.Add(1) }
func (h *countingHooks) LockContended(string)            { h.contended.Add(1) }
func (h *countingHooks) WaitExhausted(string, int)       { h.exhausted.Add(1) }
func (h *countingHooks) LockReleaseFailed(string, error) { h.releaseFailed.Add(1) }
func (h *countingHooks) DecodeFailed(string, error)      { h.decodeFailed.Add(1) }

func newTestCache(t *testing.T, st store.Store, optsOpt func(*Options[report])) Cache[report] {
	t.Helper()
	opts := Options[report]{
		Namespace:   "app",
		Store:       st,
		Codec:       c.JSON[report]{},
		LockTTL:     5 * time.Second,
		WaitBackoff: 5 * time.Millisecond,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New[report](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func countingProducer(calls *atomic.Int64, v report) Producer[report] {
	return func(context.Context) (report, error) {
		calls.Add(1)
		return v, nil
	}
}

func lockExists(t *testing.T, st store.Store, key string) bool {
	t.Helper()
	ok, err := st.Exists(context.Background(), "app:"+key+":lock")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	return ok
}

func TestNewValidatesOptions(t *testing.T) {
	st := memory.New(memory.Config{})
	cases := map[string]Options[report]{
		"no store":     {Namespace: "app", Codec: c.JSON[report]{}, LockTTL: time.Second},
		"no codec":     {Namespace: "app", Store: st, LockTTL: time.Second},
		"no namespace": {Store: st, Codec: c.JSON[report]{}, LockTTL: time.Second},
		"no lock ttl":  {Namespace: "app", Store: st, Codec: c.JSON[report]{}},
		"negative":     {Namespace: "app", Store: st, Codec: c.JSON[report]{}, LockTTL: time.Second, MaxWaitAttempts: -1},
	}
	for name, opts := range cases {
		if _, err := New[report](opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestGetOrComputeSingleCallerComputesOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	h := &countingHooks{}
	cc := newTestCache(t, st, func(o *Options[report]) { o.Hooks = h })

	var calls atomic.Int64
	want := report{ID: "r1", Total: 42}
	for i := 0; i < 3; i++ {
		got, err := cc.GetOrCompute(ctx, "r1", time.Minute, countingProducer(&calls, want))
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if got != want {
			t.Fatalf("got %+v want %+v", got, want)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("producer calls = %d, want 1", n)
	}
	if lockExists(t, st, "r1") {
		t.Fatalf("lock should be released after compute")
	}
	if h.misses.Load() != 1 || h.hits.Load() != 2 {
		t.Fatalf("hits=%d misses=%d", h.hits.Load(), h.misses.Load())
	}

	ttl, err := st.TTL(ctx, "app:r1")
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("entry ttl=%v err=%v", ttl, err)
	}
}

func TestGetOrComputeDefaultTTL(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, func(o *Options[report]) { o.DefaultTTL = 3 * time.Second })

	if _, err := cc.GetOrCompute(ctx, "r", 0, func(context.Context) (report, error) { return report{ID: "r"}, nil }); err != nil {
		t.Fatal(err)
	}
	ttl, _ := st.TTL(ctx, "app:r")
	if ttl <= 0 || ttl > 3*time.Second {
		t.Fatalf("ttl=%v, want (0,3s]", ttl)
	}
}

func TestGetOrComputeRacingCallersBounded(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, func(o *Options[report]) {
		o.MaxWaitAttempts = 200
		o.WaitBackoff = 5 * time.Millisecond
	})

	var calls atomic.Int64
	want := report{ID: "hot", Total: 7}
	produce := func(context.Context) (report, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return want, nil
	}

	const n = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := cc.GetOrCompute(ctx, "hot", time.Minute, produce)
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- errors.New("caller observed a different value")
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("producer calls = %d, want 1", got)
	}
}

// Two concurrent requests for report:2024: the second must not re-run the
// producer and must get the same value.
func TestGetOrComputeConcurrentReportScenario(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, func(o *Options[report]) {
		o.MaxWaitAttempts = 400
		o.WaitBackoff = 5 * time.Millisecond
	})

	var calls atomic.Int64
	entered := make(chan struct{})
	finish := make(chan struct{})
	produce := func(context.Context) (report, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-finish
		return report{ID: "report:2024", Total: 2024}, nil
	}

	type res struct {
		v   report
		err error
	}
	first := make(chan res, 1)
	go func() {
		v, err := cc.GetOrCompute(ctx, "report:2024", time.Hour, produce)
		first <- res{v, err}
	}()
	<-entered

	second := make(chan res, 1)
	go func() {
		v, err := cc.GetOrCompute(ctx, "report:2024", time.Hour, produce)
		second <- res{v, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(finish)

	r1, r2 := <-first, <-second
	if r1.err != nil || r2.err != nil {
		t.Fatalf("errors: %v / %v", r1.err, r2.err)
	}
	if r1.v != r2.v {
		t.Fatalf("values differ: %+v vs %+v", r1.v, r2.v)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("producer calls = %d, want 1", n)
	}
}

func TestProducerErrorReleasesLockAndIsVerbatim(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, nil)

	boom := errors.New("db down")
	_, err := cc.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (report, error) {
		return report{}, boom
	})
	if err != boom {
		t.Fatalf("err = %v, want the producer's error value", err)
	}
	if lockExists(t, st, "k") {
		t.Fatalf("lock leaked after producer error")
	}
	if ok, _ := st.Exists(ctx, "app:k"); ok {
		t.Fatalf("failed compute must not write an entry")
	}

	var calls atomic.Int64
	got, err := cc.GetOrCompute(ctx, "k", time.Minute, countingProducer(&calls, report{ID: "k"}))
	if err != nil || got.ID != "k" || calls.Load() != 1 {
		t.Fatalf("retry: got=%+v err=%v calls=%d", got, err, calls.Load())
	}
}

func TestProducerPanicReleasesLock(t *testing.T) {
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_, _ = cc.GetOrCompute(context.Background(), "p", time.Minute, func(context.Context) (report, error) {
			panic("producer bug")
		})
	}()
	if lockExists(t, st, "p") {
		t.Fatalf("lock leaked after panic")
	}
}

func TestCancellationReleasesLock(t *testing.T) {
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cc.GetOrCompute(ctx, "slow", time.Minute, func(ctx context.Context) (report, error) {
			close(started)
			<-ctx.Done()
			return report{}, ctx.Err()
		})
		done <- err
	}()
	<-started
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if lockExists(t, st, "slow") {
		t.Fatalf("lock leaked after cancellation")
	}
}

func TestWaitExhaustedComputesAnyway(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	h := &countingHooks{}
	cc := newTestCache(t, st, func(o *Options[report]) {
		o.MaxWaitAttempts = 2
		o.WaitBackoff = time.Millisecond
		o.Hooks = h
	})

	// A stuck owner from another process.
	if ok, err := st.SetNX(ctx, "app:stuck:lock", []byte("other-owner"), time.Hour); !ok || err != nil {
		t.Fatalf("seed lock: ok=%v err=%v", ok, err)
	}

	var calls atomic.Int64
	got, err := cc.GetOrCompute(ctx, "stuck", time.Minute, countingProducer(&calls, report{ID: "stuck"}))
	if err != nil || got.ID != "stuck" || calls.Load() != 1 {
		t.Fatalf("got=%+v err=%v calls=%d", got, err, calls.Load())
	}
	if h.contended.Load() != 1 || h.exhausted.Load() != 1 {
		t.Fatalf("contended=%d exhausted=%d", h.contended.Load(), h.exhausted.Load())
	}
	// The foreign lock is not ours to delete.
	if v, ok, _ := st.Get(ctx, "app:stuck:lock"); !ok || string(v) != "other-owner" {
		t.Fatalf("foreign lock disturbed: %q ok=%v", v, ok)
	}
	if v, ok, err := cc.Get(ctx, "stuck"); err != nil || !ok || v.ID != "stuck" {
		t.Fatalf("fall-through result not cached: %+v ok=%v err=%v", v, ok, err)
	}
}

func TestWaitExhaustedComputeFailureIsLockTimeout(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, func(o *Options[report]) {
		o.MaxWaitAttempts = 3
		o.WaitBackoff = time.Millisecond
	})
	_, _ = st.SetNX(ctx, "app:stuck:lock", []byte("other-owner"), time.Hour)

	boom := errors.New("upstream 503")
	_, err := cc.GetOrCompute(ctx, "stuck", time.Minute, func(context.Context) (report, error) {
		return report{}, boom
	})
	var lte *LockTimeoutError
	if !errors.As(err, &lte) {
		t.Fatalf("err = %v, want *LockTimeoutError", err)
	}
	if lte.Key != "stuck" || lte.Attempts != 3 {
		t.Fatalf("unexpected error fields: %+v", lte)
	}
	if !errors.Is(err, boom) || !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("errors.Is chain broken: %v", err)
	}
}

func TestWaiterTakesOverAfterOwnerFails(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, func(o *Options[report]) {
		o.MaxWaitAttempts = 400
		o.WaitBackoff = 2 * time.Millisecond
	})

	entered := make(chan struct{})
	fail := make(chan struct{})
	ownerErr := make(chan error, 1)
	go func() {
		_, err := cc.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (report, error) {
			close(entered)
			<-fail
			return report{}, errors.New("owner failed")
		})
		ownerErr <- err
	}()
	<-entered

	waiter := make(chan error, 1)
	var calls atomic.Int64
	go func() {
		_, err := cc.GetOrCompute(ctx, "k", time.Minute, countingProducer(&calls, report{ID: "k"}))
		waiter <- err
	}()
	time.Sleep(10 * time.Millisecond)
	close(fail)

	if err := <-ownerErr; err == nil {
		t.Fatalf("owner should fail")
	}
	if err := <-waiter; err != nil {
		t.Fatalf("waiter: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("waiter producer calls = %d, want 1", calls.Load())
	}
}

func TestReleaseKeepsSuccessorLock(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, nil)

	_, err := cc.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (report, error) {
		// our lock expired and someone else took it
		if err := st.Set(ctx, "app:k:lock", []byte("successor"), time.Minute); err != nil {
			return report{}, err
		}
		return report{ID: "k"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := st.Get(ctx, "app:k:lock"); !ok || string(v) != "successor" {
		t.Fatalf("successor lock deleted: %q ok=%v", v, ok)
	}
}

func TestReleaseFailureIsReportedNotReturned(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	h := &countingHooks{}
	fs := &faultStore{Store: mem, getErr: func(key string) error {
		if key == "app:k:lock" {
			return store.Unavailable(errors.New("conn reset"))
		}
		return nil
	}}
	cc := newTestCache(t, fs, func(o *Options[report]) { o.Hooks = h })

	got, err := cc.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (report, error) {
		return report{ID: "k"}, nil
	})
	if err != nil || got.ID != "k" {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	if h.releaseFailed.Load() != 1 {
		t.Fatalf("releaseFailed = %d", h.releaseFailed.Load())
	}
}

func TestDecodeErrorPropagates(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	h := &countingHooks{}
	cc := newTestCache(t, st, func(o *Options[report]) { o.Hooks = h })

	cases := map[string][]byte{
		"unframed":      []byte("garbage"),
		"foreign shape": wire.EncodeEntry([]byte(`{"name":"x","count":1}`)),
		"bad json":      wire.EncodeEntry([]byte(`{"id":`)),
	}
	for name, raw := range cases {
		if err := st.Set(ctx, "app:bad", raw, time.Minute); err != nil {
			t.Fatal(err)
		}
		var calls atomic.Int64
		_, err := cc.GetOrCompute(ctx, "bad", time.Minute, countingProducer(&calls, report{}))
		var de *DeserializationError
		if !errors.As(err, &de) || de.Key != "bad" {
			t.Fatalf("%s: err = %v, want *DeserializationError", name, err)
		}
		if !errors.Is(err, ErrDeserialization) {
			t.Fatalf("%s: errors.Is(ErrDeserialization) = false", name)
		}
		if calls.Load() != 0 {
			t.Fatalf("%s: producer must not run on an undecodable entry", name)
		}
		if _, _, err := cc.Get(ctx, "bad"); !errors.As(err, &de) {
			t.Fatalf("%s: Get err = %v", name, err)
		}
		// entry is left in place
		if ok, _ := st.Exists(ctx, "app:bad"); !ok {
			t.Fatalf("%s: entry deleted", name)
		}
	}
	if h.decodeFailed.Load() != int64(2*len(cases)) {
		t.Fatalf("decodeFailed = %d", h.decodeFailed.Load())
	}
}

func TestWriteBackFailurePropagates(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	down := store.Unavailable(errors.New("connection refused"))
	cc := newTestCache(t, &faultStore{Store: mem, setErr: down}, nil)

	_, err := cc.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (report, error) {
		return report{ID: "k"}, nil
	})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if lockExists(t, mem, "k") {
		t.Fatalf("lock leaked after write failure")
	}
}

func TestEmptyKeyAndNilProducer(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, memory.New(memory.Config{}), nil)

	if _, err := cc.GetOrCompute(ctx, "", time.Minute, func(context.Context) (report, error) { return report{}, nil }); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if _, err := cc.GetOrCompute(ctx, "k", time.Minute, nil); !errors.Is(err, ErrNilProducer) {
		t.Fatalf("nil producer: %v", err)
	}
	if _, _, err := cc.Get(ctx, ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Get: %v", err)
	}
	if err := cc.Set(ctx, "", report{}, 0); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Set: %v", err)
	}
	if err := cc.Invalidate(ctx, ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := cc.MGet(ctx, []string{"a", ""}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("MGet: %v", err)
	}
	if err := cc.MSet(ctx, map[string]report{"": {}}, 0); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("MSet: %v", err)
	}
}

func TestReservedKeysRejected(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	cc := newTestCache(t, mem, nil)

	// a cache entry under "x:lock" would be the lock of "x"
	for _, k := range []string{"x:lock", "rl:sw:user-1", "rl:fw:user-1:42"} {
		calls := 0
		_, err := cc.GetOrCompute(ctx, k, time.Minute, func(context.Context) (report, error) {
			calls++
			return report{}, nil
		})
		if !errors.Is(err, ErrReservedKey) || calls != 0 {
			t.Fatalf("GetOrCompute(%q): err=%v calls=%d", k, err, calls)
		}
		if _, _, err := cc.Get(ctx, k); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("Get(%q): %v", k, err)
		}
		if err := cc.Set(ctx, k, report{}, 0); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("Set(%q): %v", k, err)
		}
		if err := cc.Invalidate(ctx, k); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("Invalidate(%q): %v", k, err)
		}
		if _, err := cc.MGet(ctx, []string{"ok", k}); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("MGet(%q): %v", k, err)
		}
		if err := cc.MSet(ctx, map[string]report{"ok": {}, k: {}}, 0); !errors.Is(err, ErrReservedKey) {
			t.Fatalf("MSet(%q): %v", k, err)
		}
	}

	// nothing reached the store
	for _, k := range []string{"x:lock", "ok"} {
		if ok, err := mem.Exists(ctx, "app:"+k); err != nil || ok {
			t.Fatalf("%q written: ok=%v err=%v", k, ok, err)
		}
	}
}

func TestSetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, memory.New(memory.Config{}), nil)

	if err := cc.Set(ctx, "u", report{ID: "u", Total: 1}, time.Minute); err != nil {
		t.Fatal(err)
	}
	v, ok, err := cc.Get(ctx, "u")
	if err != nil || !ok || v.Total != 1 {
		t.Fatalf("Get: %+v ok=%v err=%v", v, ok, err)
	}
	if err := cc.Invalidate(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := cc.Get(ctx, "u"); ok || err != nil {
		t.Fatalf("after invalidate ok=%v err=%v", ok, err)
	}

	var calls atomic.Int64
	if _, err := cc.GetOrCompute(ctx, "u", time.Minute, countingProducer(&calls, report{ID: "u", Total: 2})); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("invalidated key must be recomputed")
	}
}

func TestMGetMSet(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, nil)

	in := map[string]report{
		"a": {ID: "a", Total: 1},
		"b": {ID: "b", Total: 2},
	}
	if err := cc.MSet(ctx, in, time.Minute); err != nil {
		t.Fatalf("MSet: %v", err)
	}
	got, err := cc.MGet(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || got["a"] != in["a"] || got["b"] != in["b"] {
		t.Fatalf("MGet = %+v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("missing key must be absent")
	}
	if ttl, _ := st.TTL(ctx, "app:b"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("MSet ttl = %v", ttl)
	}

	// one undecodable member fails the call
	_ = st.Set(ctx, "app:b", []byte("junk"), time.Minute)
	if _, err := cc.MGet(ctx, []string{"a", "b"}); !errors.Is(err, ErrDeserialization) {
		t.Fatalf("MGet with corrupt member: %v", err)
	}

	empty, err := cc.MGet(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("MGet(nil) = %v, %v", empty, err)
	}
}

func TestMSetEncodeFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})

	type rec struct {
		ID string `json:"id" validate:"required"`
	}
	vc, err := New[rec](Options[rec]{
		Namespace: "app",
		Store:     st,
		Codec:     c.NewValidated[rec](nil),
		LockTTL:   time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = vc.MSet(ctx, map[string]rec{"ok": {ID: "ok"}, "bad": {}}, time.Minute)
	if err == nil {
		t.Fatalf("expected encode error")
	}
	if st.Len() != 0 {
		t.Fatalf("store has %d keys, want none written", st.Len())
	}
}

func TestDisabledBypassesStore(t *testing.T) {
	ctx := context.Background()
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, func(o *Options[report]) { o.Disabled = true })
	if cc.Enabled() {
		t.Fatalf("Enabled() = true")
	}

	var calls atomic.Int64
	for i := 0; i < 2; i++ {
		if _, err := cc.GetOrCompute(ctx, "k", time.Minute, countingProducer(&calls, report{ID: "k"})); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("disabled cache must always compute; calls=%d", calls.Load())
	}
	if err := cc.Set(ctx, "k", report{}, 0); err != nil {
		t.Fatal(err)
	}
	if st.Len() != 0 {
		t.Fatalf("disabled cache touched the store")
	}
}

func TestCloseStoreOption(t *testing.T) {
	st := memory.New(memory.Config{})
	cc := newTestCache(t, st, nil)
	if err := cc.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("store closed without CloseStore: %v", err)
	}

	cc = newTestCache(t, st, func(o *Options[report]) { o.CloseStore = true })
	if err := cc.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(context.Background(), "k", []byte("v"), 0); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("store should be closed: %v", err)
	}
}

func TestGetOrComputeOnRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	st, err := rstore.New(rstore.Config{Client: rdb, CloseClient: true})
	if err != nil {
		t.Fatal(err)
	}
	cc := newTestCache(t, st, func(o *Options[report]) { o.CloseStore = true })
	defer cc.Close(ctx)

	var calls atomic.Int64
	want := report{ID: "report:2024", Total: 2024}
	for i := 0; i < 2; i++ {
		got, err := cc.GetOrCompute(ctx, "report:2024", time.Hour, countingProducer(&calls, want))
		if err != nil || got != want {
			t.Fatalf("got=%+v err=%v", got, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if mr.Exists("app:report:2024:lock") {
		t.Fatalf("lock leaked")
	}
	if ttl := mr.TTL("app:report:2024"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, err := cc.Get(ctx, "report:2024"); ok || err != nil {
		t.Fatalf("expired entry: ok=%v err=%v", ok, err)
	}

	mr.Close()
	if _, err := cc.GetOrCompute(ctx, "x", time.Minute, countingProducer(&calls, want)); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
