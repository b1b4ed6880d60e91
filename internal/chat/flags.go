package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFlags backs conversation markers with redis so confirmations
// expire on their own and survive a process restart.
type RedisFlags struct {
	rdb *redis.Client
}

func NewRedisFlags(rdb *redis.Client) *RedisFlags {
	return &RedisFlags{rdb: rdb}
}

func (f *RedisFlags) Set(ctx context.Context, key string, ttl time.Duration) error {
	if err := f.rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return nil
}

// Take reports whether the flag was set and clears it in one step.
func (f *RedisFlags) Take(ctx context.Context, key string) (bool, error) {
	err := f.rdb.GetDel(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("take flag: %w", err)
	}
	return true, nil
}
