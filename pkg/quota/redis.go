package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrementWithin adds ARGV[1] to KEYS[1] unless the result would exceed
// ARGV[2]. Returns {value, applied}.
var incrementWithin = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
if current + amount > tonumber(ARGV[2]) then
	return {current, 0}
end
local value = redis.call("INCRBY", KEYS[1], amount)
redis.call("EXPIREAT", KEYS[1], ARGV[3])
return {value, 1}
`)

// RedisStore keeps counters in Redis so every replica shares them. Counters
// expire on their own after the window closes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store. prefix namespaces keys, e.g. "warden:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + k.String()
}

func (s *RedisStore) Increment(ctx context.Context, key Key, amount int64, expireAt time.Time) (int64, error) {
	redisKey := s.key(key)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, redisKey, amount)
		pipe.ExpireAt(ctx, redisKey, expireAt)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", redisKey, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) IncrementWithin(ctx context.Context, key Key, amount, ceiling int64, expireAt time.Time) (int64, bool, error) {
	redisKey := s.key(key)

	res, err := incrementWithin.Run(ctx, s.client, []string{redisKey}, amount, ceiling, expireAt.Unix()).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment %s: %w", redisKey, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected script reply for %s: %v", redisKey, res)
	}
	value, _ := res[0].(int64)
	applied, _ := res[1].(int64)
	return value, applied == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) (int64, error) {
	v, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return v, nil
}

// Prune is a no-op; keys carry an EXPIREAT set on every increment.
func (s *RedisStore) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}
