package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	pageStateKey = "pagestate:%s" // Hash: key -> value
	pageStateTTL = 30 * 24 * time.Hour
)

// PageCache 按客户端保存页面状态
type PageCache struct {
	client *redis.Client
}

// NewPageCache 创建页面状态缓存
func NewPageCache(client *redis.Client) *PageCache {
	return &PageCache{client: client}
}

func (c *PageCache) Get(ctx context.Context, clientID, key string) (string, bool, error) {
	if c.client == nil {
		return "", false, fmt.Errorf("Redis client not initialized")
	}
	val, err := c.client.HGet(ctx, fmt.Sprintf(pageStateKey, clientID), key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// Set 写入并刷新过期时间
func (c *PageCache) Set(ctx context.Context, clientID, key, value string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	k := fmt.Sprintf(pageStateKey, clientID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, k, key, value)
	pipe.Expire(ctx, k, pageStateTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *PageCache) Delete(ctx context.Context, clientID string, keys ...string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.HDel(ctx, fmt.Sprintf(pageStateKey, clientID), keys...).Err()
}
