package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/kvguard/store"
)

// SlidingWindow is a sliding-log limiter: one sorted set per identity,
// members "<unixnano>-<uuid>" scored by request time in milliseconds.
type SlidingWindow struct {
	base
}

func NewSlidingWindow(st store.Store, opts Options) *SlidingWindow {
	return &SlidingWindow{base: newBase(st, opts)}
}

// Check admits the request when fewer than limit requests were admitted in
// the trailing window. An entry scored exactly now-window still counts.
//
// Prune, count and the conditional add run as one store command, so a
// rejected request never touches the set. The set lives window+1ms since the
// newest member still counts at exactly now+window.
func (s *SlidingWindow) Check(ctx context.Context, identity string, limit int, window time.Duration) (Result, error) {
	if err := validate(identity, limit, window); err != nil {
		return Result{}, err
	}
	now := s.now()
	nowMs := now.UnixMilli()
	winMs := window.Milliseconds()
	key := s.ns.Sliding(identity)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	res, err := s.st.Pipeline(ctx, []store.Command{
		store.ZAddIfBelow(key, float64(nowMs-winMs-1), int64(limit), float64(nowMs), member, window+time.Millisecond),
	})
	if err != nil {
		return Result{}, err
	}

	count := int(res[0].N)
	if res[0].OK {
		return Result{
			Allowed:   true,
			Remaining: limit - count - 1,
			Limit:     limit,
			ResetAt:   now.Add(window),
		}, nil
	}

	retry := time.Duration(int64(res[0].Score)+winMs+1-nowMs) * time.Millisecond
	switch {
	case retry <= 0:
		retry = time.Millisecond
	case retry > window+time.Millisecond:
		retry = window + time.Millisecond
	}
	s.denied(Sliding, identity, limit, retry)
	return Result{
		Limit:      limit,
		RetryAfter: retry,
		ResetAt:    now.Add(retry),
	}, nil
}
