package redis

import (
	"context"
	"errors"
	"time"

	"adaptive-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Cache implements app.Cache and app.SetCache on Redis strings and sets.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	return data, err
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// ReplaceSet clears and refills the set inside MULTI/EXEC so readers never see a partial set.
func (c *Cache) ReplaceSet(ctx context.Context, key string, members []string, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) == 0 {
			return nil
		}
		values := make([]interface{}, len(members))
		for i, m := range members {
			values[i] = m
		}
		pipe.SAdd(ctx, key, values...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (c *Cache) Members(ctx context.Context, key string) ([]string, error) {
	return c.client.SMembers(ctx, key).Result()
}
