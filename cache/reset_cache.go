package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"MusicFlow/core/reset"

	"github.com/go-redis/redis/v8"
)

const (
	resetTokenKey = "reset:token:%s" // String: token -> userID
	resetCodeKey  = "reset:code:%d"  // Hash: hash, attempts
)

// ResetCache 密码重置的令牌和验证码存储
type ResetCache struct {
	client *redis.Client
}

// NewResetCache 创建重置缓存
func NewResetCache(client *redis.Client) *ResetCache {
	return &ResetCache{client: client}
}

func (c *ResetCache) SaveToken(ctx context.Context, token string, userID int64, ttl time.Duration) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return c.client.Set(ctx, fmt.Sprintf(resetTokenKey, token), userID, ttl).Err()
}

// TakeToken 读取并删除令牌，令牌只能使用一次
func (c *ResetCache) TakeToken(ctx context.Context, token string) (int64, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}
	val, err := c.client.GetDel(ctx, fmt.Sprintf(resetTokenKey, token)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, reset.ErrNotFound
		}
		return 0, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, reset.ErrNotFound
	}
	return id, nil
}

func (c *ResetCache) DeleteToken(ctx context.Context, token string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return c.client.Del(ctx, fmt.Sprintf(resetTokenKey, token)).Err()
}

// SaveCode 保存验证码哈希并清零尝试次数
func (c *ResetCache) SaveCode(ctx context.Context, userID int64, hash string, ttl time.Duration) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	key := fmt.Sprintf(resetCodeKey, userID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "hash", hash, "attempts", 0)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *ResetCache) Code(ctx context.Context, userID int64) (string, int, error) {
	if c.client == nil {
		return "", 0, fmt.Errorf("Redis client not initialized")
	}
	fields, err := c.client.HGetAll(ctx, fmt.Sprintf(resetCodeKey, userID)).Result()
	if err != nil {
		return "", 0, err
	}
	hash, ok := fields["hash"]
	if !ok {
		return "", 0, reset.ErrNotFound
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	return hash, attempts, nil
}

// FailAttempt 增加失败次数，保留原有过期时间
func (c *ResetCache) FailAttempt(ctx context.Context, userID int64) (int, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}
	key := fmt.Sprintf(resetCodeKey, userID)
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, reset.ErrNotFound
	}
	attempts, err := c.client.HIncrBy(ctx, key, "attempts", 1).Result()
	return int(attempts), err
}

func (c *ResetCache) DeleteCode(ctx context.Context, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return c.client.Del(ctx, fmt.Sprintf(resetCodeKey, userID)).Err()
}
