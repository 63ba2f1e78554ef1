// Package store defines the key-value capability consumed by kvguard.
//
// A Store is a shared, remote (or in-process) atomic key-value store with
// string values, integer counters, sorted sets, per-key expiry and a pipeline
// primitive. Pipeline executes an ordered batch of commands without
// interleaving other clients' commands and returns one Result per Command, in
// order. A batch is not all-or-nothing: when a command fails, the commands
// around it may still have been applied (Redis MULTI/EXEC does so). Decisions
// that must not leave partial state behind use a single conditional command
// such as ZAddIfBelow.
//
// Implementations must be safe for concurrent use and byte-for-byte
// transparent: Get returns exactly the bytes previously passed to Set.
//
// Every transport or server failure is reported wrapped with ErrUnavailable.
// Implementations do not retry; retry policy belongs to the caller or to the
// underlying client.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUnavailable = errors.New("store unavailable")

// TTL results for keys without expiry and for missing keys.
const (
	NoExpiry   time.Duration = -1
	MissingKey time.Duration = -2
)

type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key does not exist. ok reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining time to live, NoExpiry or MissingKey.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Incr(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRangeByScore and ZRemRangeByScore use inclusive bounds; use math.Inf for open ends.
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Pipeline runs cmds in isolation from other clients and returns their
	// results in order. On error the results are undefined and the batch may
	// have been partially applied.
	Pipeline(ctx context.Context, cmds []Command) ([]Result, error)

	Close(ctx context.Context) error
}

type Op uint8

const (
	OpGet Op = iota + 1
	OpSet
	OpSetNX
	OpDel
	OpExists
	OpExpire
	OpTTL
	OpIncr
	OpZAdd
	OpZCard
	OpZRem
	OpZRangeByScore
	OpZRemRangeByScore
	OpZAddIfBelow
)

var opNames = [...]string{
	OpGet:              "GET",
	OpSet:              "SET",
	OpSetNX:            "SETNX",
	OpDel:              "DEL",
	OpExists:           "EXISTS",
	OpExpire:           "EXPIRE",
	OpTTL:              "TTL",
	OpIncr:             "INCR",
	OpZAdd:             "ZADD",
	OpZCard:            "ZCARD",
	OpZRem:             "ZREM",
	OpZRangeByScore:    "ZRANGEBYSCORE",
	OpZRemRangeByScore: "ZREMRANGEBYSCORE",
	OpZAddIfBelow:      "ZADDIFBELOW",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Command is one queued pipeline step. Only the fields relevant to Op are read.
type Command struct {
	Op     Op
	Key    string
	Value  []byte        // Set, SetNX
	TTL    time.Duration // Set, SetNX, Expire, ZAddIfBelow
	NX     bool          // Expire: apply only when the key has no expiry
	Member string        // ZAdd, ZRem, ZAddIfBelow
	Score  float64       // ZAdd, ZAddIfBelow
	Min    float64       // ZRangeByScore, ZRemRangeByScore
	Max    float64       // ZRangeByScore, ZRemRangeByScore; ZAddIfBelow prune cutoff
	Limit  int64         // ZAddIfBelow
}

// Result of one Command.
//
//	Get:              Val, OK (hit)
//	SetNX:            OK (stored)
//	Expire, Exists:   OK
//	Del, ZRem, ZRemRangeByScore, ZCard, Incr: N
//	TTL:              TTL
//	ZRangeByScore:    Members
//	ZAddIfBelow:      OK (added), N (members before the add), Score (oldest
//	                  remaining score when not added)
type Result struct {
	Val     []byte
	OK      bool
	N       int64
	TTL     time.Duration
	Members []string
	Score   float64
}

func Get(key string) Command { return Command{Op: OpGet, Key: key} }

func Set(key string, value []byte, ttl time.Duration) Command {
	return Command{Op: OpSet, Key: key, Value: value, TTL: ttl}
}

func SetNX(key string, value []byte, ttl time.Duration) Command {
	return Command{Op: OpSetNX, Key: key, Value: value, TTL: ttl}
}

func Del(key string) Command                         { return Command{Op: OpDel, Key: key} }
func Exists(key string) Command                      { return Command{Op: OpExists, Key: key} }
func Expire(key string, ttl time.Duration) Command   { return Command{Op: OpExpire, Key: key, TTL: ttl} }
func ExpireNX(key string, ttl time.Duration) Command { return Command{Op: OpExpire, Key: key, TTL: ttl, NX: true} }
func TTL(key string) Command                         { return Command{Op: OpTTL, Key: key} }
func Incr(key string) Command                        { return Command{Op: OpIncr, Key: key} }
func ZCard(key string) Command                       { return Command{Op: OpZCard, Key: key} }

func ZAdd(key string, score float64, member string) Command {
	return Command{Op: OpZAdd, Key: key, Score: score, Member: member}
}

func ZRem(key, member string) Command { return Command{Op: OpZRem, Key: key, Member: member} }

func ZRangeByScore(key string, min, max float64) Command {
	return Command{Op: OpZRangeByScore, Key: key, Min: min, Max: max}
}

func ZRemRangeByScore(key string, min, max float64) Command {
	return Command{Op: OpZRemRangeByScore, Key: key, Min: min, Max: max}
}

// ZAddIfBelow is one atomic step: remove members scored at or below cutoff,
// count the rest, and only when fewer than limit remain add member at score
// and set the key's expiry to ttl. A refused add leaves the set unchanged
// apart from the prune.
func ZAddIfBelow(key string, cutoff float64, limit int64, score float64, member string, ttl time.Duration) Command {
	return Command{Op: OpZAddIfBelow, Key: key, Max: cutoff, Limit: limit, Score: score, Member: member, TTL: ttl}
}

// Unavailable wraps err with ErrUnavailable, keeping err reachable through
// errors.Is/As (context cancellation in particular). nil stays nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
