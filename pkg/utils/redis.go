package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the shared client. It carries call event fan-out,
// the audit stream and the outbound slot set, so the pool stays small.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		ClientName:      "voice-telephony",
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Slots live in a sorted set: member = holder (call id), score = expiry in
// unix ms. Expired holders are pruned on every acquire, so a replica that
// dies mid-call only leaks its slots until their TTL.
var slotAcquireScript = redis.NewScript(`
-- KEYS[1] = slot set
-- ARGV[1] = limit, ARGV[2] = now_ms, ARGV[3] = ttl_ms, ARGV[4] = holder
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
if not redis.call('ZSCORE', KEYS[1], ARGV[4]) then
  if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[1]) then
    return 0
  end
end
redis.call('ZADD', KEYS[1], now + ttl, ARGV[4])
redis.call('PEXPIRE', KEYS[1], ttl)
return 1
`)

var slotReleaseScript = redis.NewScript(`
-- KEYS[1] = slot set, ARGV[1] = holder
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

// AcquireSlot takes one of limit slots under key for holder. Re-acquiring a
// held slot refreshes its expiry and succeeds.
func AcquireSlot(ctx context.Context, rdb redis.Scripter, key, holder string, limit int, ttl time.Duration, now time.Time) (bool, error) {
	switch {
	case rdb == nil:
		return false, errors.New("redis client is nil")
	case key == "" || holder == "":
		return false, errors.New("key and holder are required")
	case limit <= 0:
		return false, errors.New("limit must be > 0")
	case ttl <= 0:
		return false, errors.New("ttl must be > 0")
	}

	res, err := slotAcquireScript.Run(ctx, rdb, []string{key}, limit, now.UnixMilli(), ttl.Milliseconds(), holder).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// ReleaseSlot frees holder's slot. Releasing a slot that is not held is a
// no-op, so the failure path and the terminal event may both release.
func ReleaseSlot(ctx context.Context, rdb redis.Scripter, key, holder string) error {
	if rdb == nil {
		return errors.New("redis client is nil")
	}
	if key == "" || holder == "" {
		return errors.New("key and holder are required")
	}
	return slotReleaseScript.Run(ctx, rdb, []string{key}, holder).Err()
}

// DefaultSlotTTL bounds how long a slot outlives a crashed replica.
const DefaultSlotTTL = 2 * time.Hour

// CallSlots caps concurrent outbound calls across API replicas. Holders are
// call ids.
type CallSlots struct {
	Client redis.Scripter
	Key    string
	Limit  int
	TTL    time.Duration
	Now    func() time.Time
}

func (c *CallSlots) Acquire(ctx context.Context, callID string) (bool, error) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	return AcquireSlot(ctx, c.Client, c.Key, callID, c.Limit, ttl, now)
}

func (c *CallSlots) Release(ctx context.Context, callID string) error {
	return ReleaseSlot(ctx, c.Client, c.Key, callID)
}
