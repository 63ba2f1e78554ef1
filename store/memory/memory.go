package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/kvguard/store"
)

var (
	ErrWrongType = errors.New("memory store: operation against a key holding the wrong kind of value")
	ErrNotInt    = errors.New("memory store: value is not an integer")
	ErrClosed    = errors.New("memory store: closed")
)

type kind uint8

const (
	kindString kind = iota + 1
	kindZSet
)

type entry struct {
	kind kind
	str  []byte
	z    map[string]float64
	exp  time.Time // zero => no TTL
}

// Memory is an in-process store.Store. Every command, and every pipeline as a
// whole, runs under one mutex, which isolates pipelines like MULTI/EXEC. A
// failing command discards its whole batch here, which Redis does not. It is meant for single-process deployments and tests; state is
// not shared between processes.
type Memory struct {
	mu     sync.Mutex
	m      map[string]*entry
	now    func() time.Time
	closed bool

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ store.Store = (*Memory)(nil)

type Config struct {
	// CleanupInterval drives the expired-key sweeper; 0 disables it
	// (expired keys are still dropped lazily on access).
	CleanupInterval time.Duration
	// Now is the clock used for expiry; nil => time.Now.
	Now func() time.Time
}

func New(cfg Config) *Memory {
	s := &Memory{
		m:   make(map[string]*entry),
		now: cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.CleanupInterval > 0 {
		s.ticker = time.NewTicker(cfg.CleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

// Sweep removes every expired key.
func (s *Memory) Sweep() {
	now := s.now()
	s.mu.Lock()
	for k, e := range s.m {
		if expired(e, now) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

// Len reports the number of live keys.
func (s *Memory) Len() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.m {
		if !expired(e, now) {
			n++
		}
	}
	return n
}

func (s *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := s.one(ctx, store.Get(key))
	return r.Val, r.OK, err
}

func (s *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.one(ctx, store.Set(key, value, ttl))
	return err
}

func (s *Memory) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	r, err := s.one(ctx, store.SetNX(key, value, ttl))
	return r.OK, err
}

func (s *Memory) Del(ctx context.Context, keys ...string) (int64, error) {
	cmds := make([]store.Command, len(keys))
	for i, k := range keys {
		cmds[i] = store.Del(k)
	}
	res, err := s.Pipeline(ctx, cmds)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range res {
		n += r.N
	}
	return n, nil
}

func (s *Memory) Exists(ctx context.Context, key string) (bool, error) {
	r, err := s.one(ctx, store.Exists(key))
	return r.OK, err
}

func (s *Memory) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	r, err := s.one(ctx, store.Expire(key, ttl))
	return r.OK, err
}

func (s *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	r, err := s.one(ctx, store.TTL(key))
	return r.TTL, err
}

func (s *Memory) Incr(ctx context.Context, key string) (int64, error) {
	r, err := s.one(ctx, store.Incr(key))
	return r.N, err
}

func (s *Memory) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := s.one(ctx, store.ZAdd(key, score, member))
	return err
}

func (s *Memory) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	r, err := s.one(ctx, store.ZRangeByScore(key, min, max))
	return r.Members, err
}

func (s *Memory) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	r, err := s.one(ctx, store.ZRemRangeByScore(key, min, max))
	return r.N, err
}

func (s *Memory) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	cmds := make([]store.Command, len(members))
	for i, m := range members {
		cmds[i] = store.ZRem(key, m)
	}
	res, err := s.Pipeline(ctx, cmds)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range res {
		n += r.N
	}
	return n, nil
}

func (s *Memory) ZCard(ctx context.Context, key string) (int64, error) {
	r, err := s.one(ctx, store.ZCard(key))
	return r.N, err
}

// Pipeline applies cmds in order under one lock. Commands are validated
// against the current state before any is applied, so a failing pipeline
// leaves the store untouched.
func (s *Memory) Pipeline(ctx context.Context, cmds []store.Command) ([]store.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.Unavailable(ErrClosed)
	}

	now := s.now()
	tx := &txn{base: s.m, staged: make(map[string]*entry), now: now}
	out := make([]store.Result, len(cmds))
	for i, c := range cmds {
		r, err := tx.apply(c)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", c.Op, c.Key, err)
		}
		out[i] = r
	}
	tx.commit()
	return out, nil
}

// Close stops the sweeper. Further calls fail with ErrUnavailable.
func (s *Memory) Close(context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			if s.ticker != nil {
				s.ticker.Stop()
			}
			s.wg.Wait()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	return nil
}

func (s *Memory) one(ctx context.Context, c store.Command) (store.Result, error) {
	res, err := s.Pipeline(ctx, []store.Command{c})
	if err != nil {
		return store.Result{}, err
	}
	return res[0], nil
}

func expired(e *entry, now time.Time) bool {
	return !e.exp.IsZero() && !now.Before(e.exp)
}

// txn stages copy-on-write changes so a failing command discards the batch.
// A nil staged value marks a deletion.
type txn struct {
	base   map[string]*entry
	staged map[string]*entry
	now    time.Time
}

func (t *txn) load(key string) *entry {
	if e, ok := t.staged[key]; ok {
		return e
	}
	e, ok := t.base[key]
	if !ok || expired(e, t.now) {
		return nil
	}
	return e
}

// mutable returns a private copy of key's entry for modification.
func (t *txn) mutable(key string) *entry {
	e := t.load(key)
	if e == nil {
		return nil
	}
	if staged, ok := t.staged[key]; ok && staged == e {
		return e
	}
	cp := &entry{kind: e.kind, exp: e.exp}
	if e.str != nil {
		cp.str = append([]byte(nil), e.str...)
	}
	if e.z != nil {
		cp.z = make(map[string]float64, len(e.z))
		for m, sc := range e.z {
			cp.z[m] = sc
		}
	}
	t.staged[key] = cp
	return cp
}

func (t *txn) put(key string, e *entry) { t.staged[key] = e }
func (t *txn) del(key string)           { t.staged[key] = nil }

func (t *txn) commit() {
	for k, e := range t.staged {
		if e == nil {
			delete(t.base, k)
			continue
		}
		t.base[k] = e
	}
}

func (t *txn) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return t.now.Add(ttl)
}

func (t *txn) apply(c store.Command) (store.Result, error) {
	switch c.Op {
	case store.OpGet:
		e := t.load(c.Key)
		if e == nil {
			return store.Result{}, nil
		}
		if e.kind != kindString {
			return store.Result{}, ErrWrongType
		}
		return store.Result{Val: append([]byte(nil), e.str...), OK: true}, nil

	case store.OpSet:
		t.put(c.Key, &entry{kind: kindString, str: append([]byte(nil), c.Value...), exp: t.deadline(c.TTL)})
		return store.Result{OK: true}, nil

	case store.OpSetNX:
		if t.load(c.Key) != nil {
			return store.Result{}, nil
		}
		t.put(c.Key, &entry{kind: kindString, str: append([]byte(nil), c.Value...), exp: t.deadline(c.TTL)})
		return store.Result{OK: true}, nil

	case store.OpDel:
		if t.load(c.Key) == nil {
			return store.Result{}, nil
		}
		t.del(c.Key)
		return store.Result{N: 1, OK: true}, nil

	case store.OpExists:
		return store.Result{OK: t.load(c.Key) != nil}, nil

	case store.OpExpire:
		e := t.mutable(c.Key)
		if e == nil {
			return store.Result{}, nil
		}
		if c.NX && !e.exp.IsZero() {
			return store.Result{}, nil
		}
		if c.TTL <= 0 {
			t.del(c.Key)
			return store.Result{OK: true}, nil
		}
		e.exp = t.now.Add(c.TTL)
		return store.Result{OK: true}, nil

	case store.OpTTL:
		e := t.load(c.Key)
		switch {
		case e == nil:
			return store.Result{TTL: store.MissingKey}, nil
		case e.exp.IsZero():
			return store.Result{TTL: store.NoExpiry}, nil
		}
		return store.Result{TTL: e.exp.Sub(t.now)}, nil

	case store.OpIncr:
		e := t.mutable(c.Key)
		if e == nil {
			e = &entry{kind: kindString, str: []byte("0")}
			t.put(c.Key, e)
		}
		if e.kind != kindString {
			return store.Result{}, ErrWrongType
		}
		n, err := strconv.ParseInt(string(e.str), 10, 64)
		if err != nil {
			return store.Result{}, ErrNotInt
		}
		n++
		e.str = strconv.AppendInt(e.str[:0], n, 10)
		return store.Result{N: n, OK: true}, nil

	case store.OpZAdd:
		e := t.mutable(c.Key)
		if e == nil {
			e = &entry{kind: kindZSet, z: make(map[string]float64)}
			t.put(c.Key, e)
		}
		if e.kind != kindZSet {
			return store.Result{}, ErrWrongType
		}
		_, existed := e.z[c.Member]
		e.z[c.Member] = c.Score
		if existed {
			return store.Result{}, nil
		}
		return store.Result{N: 1, OK: true}, nil

	case store.OpZCard:
		e := t.load(c.Key)
		if e == nil {
			return store.Result{}, nil
		}
		if e.kind != kindZSet {
			return store.Result{}, ErrWrongType
		}
		return store.Result{N: int64(len(e.z)), OK: len(e.z) > 0}, nil

	case store.OpZRem:
		e := t.load(c.Key)
		if e == nil {
			return store.Result{}, nil
		}
		if e.kind != kindZSet {
			return store.Result{}, ErrWrongType
		}
		if _, ok := e.z[c.Member]; !ok {
			return store.Result{}, nil
		}
		e = t.mutable(c.Key)
		delete(e.z, c.Member)
		if len(e.z) == 0 {
			t.del(c.Key)
		}
		return store.Result{N: 1, OK: true}, nil

	case store.OpZRangeByScore:
		e := t.load(c.Key)
		if e == nil {
			return store.Result{}, nil
		}
		if e.kind != kindZSet {
			return store.Result{}, ErrWrongType
		}
		return store.Result{Members: rangeByScore(e.z, c.Min, c.Max)}, nil

	case store.OpZRemRangeByScore:
		e := t.load(c.Key)
		if e == nil {
			return store.Result{}, nil
		}
		if e.kind != kindZSet {
			return store.Result{}, ErrWrongType
		}
		victims := rangeByScore(e.z, c.Min, c.Max)
		if len(victims) == 0 {
			return store.Result{}, nil
		}
		e = t.mutable(c.Key)
		for _, m := range victims {
			delete(e.z, m)
		}
		if len(e.z) == 0 {
			t.del(c.Key)
		}
		return store.Result{N: int64(len(victims)), OK: true}, nil

	case store.OpZAddIfBelow:
		if _, err := t.apply(store.ZRemRangeByScore(c.Key, math.Inf(-1), c.Max)); err != nil {
			return store.Result{}, err
		}
		e := t.load(c.Key)
		if e != nil && e.kind != kindZSet {
			return store.Result{}, ErrWrongType
		}
		var n int64
		if e != nil {
			n = int64(len(e.z))
		}
		if n >= c.Limit {
			return store.Result{N: n, Score: oldest(e.z)}, nil
		}
		if _, err := t.apply(store.ZAdd(c.Key, c.Score, c.Member)); err != nil {
			return store.Result{}, err
		}
		if _, err := t.apply(store.Expire(c.Key, c.TTL)); err != nil {
			return store.Result{}, err
		}
		return store.Result{N: n, OK: true}, nil
	}
	return store.Result{}, fmt.Errorf("memory store: unsupported op %s", c.Op)
}

func oldest(z map[string]float64) float64 {
	low := math.Inf(1)
	for _, sc := range z {
		if sc < low {
			low = sc
		}
	}
	return low
}

// rangeByScore returns members with min <= score <= max ordered by (score, member).
func rangeByScore(z map[string]float64, min, max float64) []string {
	type pair struct {
		m string
		s float64
	}
	var ps []pair
	for m, sc := range z {
		if sc >= min && sc <= max {
			ps = append(ps, pair{m, sc})
		}
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].s != ps[j].s {
			return ps[i].s < ps[j].s
		}
		return ps[i].m < ps[j].m
	})
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.m
	}
	return out
}
