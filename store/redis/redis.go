package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/kvguard/store"
)

var ErrNilClient = errors.New("redis store: nil client")

// Redis is a store.Store over go-redis. Pipelines run as MULTI/EXEC, which
// isolates a batch but does not roll back the other commands when one fails.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ store.Store = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// zaddIfBelow implements store.OpZAddIfBelow.
// KEYS[1] set; ARGV cutoff, limit, score, member, ttl ms.
// Returns {added, count before add, oldest score or ''}.
var zaddIfBelow = goredis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local n = redis.call('ZCARD', KEYS[1])
if n < tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  return {1, n, ''}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {0, n, oldest[2] or ''}
`)

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, store.Unavailable(err)
	}
	return b, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return store.Unavailable(s.rdb.Set(ctx, key, value, expiry(ttl)).Err())
}

func (s *Redis) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, expiry(ttl)).Result()
	if err != nil {
		return false, store.Unavailable(err)
	}
	return ok, nil
}

func (s *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	return n, store.Unavailable(err)
}

func (s *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, store.Unavailable(err)
}

func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.PExpire(ctx, key, ttl).Result()
	return ok, store.Unavailable(err)
}

func (s *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, store.Unavailable(err)
	}
	return ttlResult(d), nil
}

func (s *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	return n, store.Unavailable(err)
}

func (s *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return store.Unavailable(s.rdb.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err())
}

func (s *Redis) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	m, err := s.rdb.ZRangeByScore(ctx, key, scoreRange(min, max)).Result()
	return m, store.Unavailable(err)
}

func (s *Redis) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := s.rdb.ZRemRangeByScore(ctx, key, scoreArg(min), scoreArg(max)).Result()
	return n, store.Unavailable(err)
}

func (s *Redis) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.rdb.ZRem(ctx, key, args...).Result()
	return n, store.Unavailable(err)
}

func (s *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	return n, store.Unavailable(err)
}

// Pipeline queues cmds inside MULTI/EXEC and maps replies back in order.
// A GET miss inside the transaction is not an error.
func (s *Redis) Pipeline(ctx context.Context, cmds []store.Command) ([]store.Result, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	queued := make([]goredis.Cmder, len(cmds))
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for i, c := range cmds {
			q, err := queue(ctx, p, c)
			if err != nil {
				return err
			}
			queued[i] = q
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, store.Unavailable(err)
	}

	out := make([]store.Result, len(cmds))
	for i, q := range queued {
		if err := q.Err(); err != nil && !errors.Is(err, goredis.Nil) {
			return nil, store.Unavailable(fmt.Errorf("%s %q: %w", cmds[i].Op, cmds[i].Key, err))
		}
		out[i] = result(cmds[i], q)
	}
	return out, nil
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func queue(ctx context.Context, p goredis.Pipeliner, c store.Command) (goredis.Cmder, error) {
	switch c.Op {
	case store.OpGet:
		return p.Get(ctx, c.Key), nil
	case store.OpSet:
		return p.Set(ctx, c.Key, c.Value, expiry(c.TTL)), nil
	case store.OpSetNX:
		return p.SetNX(ctx, c.Key, c.Value, expiry(c.TTL)), nil
	case store.OpDel:
		return p.Del(ctx, c.Key), nil
	case store.OpExists:
		return p.Exists(ctx, c.Key), nil
	case store.OpExpire:
		if c.NX {
			// PEXPIRE ... NX keeps millisecond precision (ExpireNX rounds to seconds).
			return p.Do(ctx, "pexpire", c.Key, c.TTL.Milliseconds(), "nx"), nil
		}
		return p.PExpire(ctx, c.Key, c.TTL), nil
	case store.OpTTL:
		return p.PTTL(ctx, c.Key), nil
	case store.OpIncr:
		return p.Incr(ctx, c.Key), nil
	case store.OpZAdd:
		return p.ZAdd(ctx, c.Key, goredis.Z{Score: c.Score, Member: c.Member}), nil
	case store.OpZCard:
		return p.ZCard(ctx, c.Key), nil
	case store.OpZRem:
		return p.ZRem(ctx, c.Key, c.Member), nil
	case store.OpZRangeByScore:
		return p.ZRangeByScore(ctx, c.Key, scoreRange(c.Min, c.Max)), nil
	case store.OpZRemRangeByScore:
		return p.ZRemRangeByScore(ctx, c.Key, scoreArg(c.Min), scoreArg(c.Max)), nil
	case store.OpZAddIfBelow:
		return zaddIfBelow.Eval(ctx, p, []string{c.Key},
			scoreArg(c.Max), c.Limit, scoreArg(c.Score), c.Member, c.TTL.Milliseconds()), nil
	default:
		return nil, fmt.Errorf("redis store: unsupported op %s", c.Op)
	}
}

func result(c store.Command, q goredis.Cmder) store.Result {
	if c.Op == store.OpZAddIfBelow {
		return windowResult(q)
	}
	switch cmd := q.(type) {
	case *goredis.StringCmd:
		b, err := cmd.Bytes()
		if err != nil {
			return store.Result{}
		}
		return store.Result{Val: b, OK: true}
	case *goredis.StatusCmd:
		return store.Result{OK: cmd.Val() == "OK"}
	case *goredis.BoolCmd:
		return store.Result{OK: cmd.Val()}
	case *goredis.IntCmd:
		return store.Result{N: cmd.Val(), OK: cmd.Val() > 0}
	case *goredis.DurationCmd:
		return store.Result{TTL: ttlResult(cmd.Val())}
	case *goredis.StringSliceCmd:
		return store.Result{Members: cmd.Val()}
	case *goredis.Cmd:
		n, _ := cmd.Int64()
		return store.Result{N: n, OK: n > 0}
	default:
		return store.Result{}
	}
}

func windowResult(q goredis.Cmder) store.Result {
	cmd, ok := q.(*goredis.Cmd)
	if !ok {
		return store.Result{}
	}
	vals, err := cmd.Slice()
	if err != nil || len(vals) != 3 {
		return store.Result{}
	}
	added, _ := vals[0].(int64)
	n, _ := vals[1].(int64)
	r := store.Result{OK: added == 1, N: n}
	if sc, ok := vals[2].(string); ok && sc != "" {
		r.Score, _ = strconv.ParseFloat(sc, 64)
	}
	return r
}

// expiry maps the store contract (ttl <= 0 => no expiry) onto go-redis,
// where 0 means no expiry and -1 means KEEPTTL.
func expiry(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// go-redis reports -1/-2 as raw durations for "no expiry"/"missing".
func ttlResult(d time.Duration) time.Duration {
	switch d {
	case -1:
		return store.NoExpiry
	case -2:
		return store.MissingKey
	}
	return d
}

func scoreArg(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func scoreRange(min, max float64) *goredis.ZRangeBy {
	return &goredis.ZRangeBy{Min: scoreArg(min), Max: scoreArg(max)}
}
