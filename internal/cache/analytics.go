package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AnalyticsCache 按用户缓存统计结果
// 每个用户有一个版本号，工时变更时 INCR 版本号，旧版本的缓存键自然失效
type AnalyticsCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewAnalyticsCache rdb 为 nil 时所有操作都是空操作
func NewAnalyticsCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *AnalyticsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AnalyticsCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *AnalyticsCache) enabled() bool {
	return c != nil && c.rdb != nil
}

func versionKey(userID int) string {
	return fmt.Sprintf("analytics:%d:version", userID)
}

func (c *AnalyticsCache) key(ctx context.Context, userID int, name string) (string, error) {
	v, err := c.rdb.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		v = 0
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("analytics:%d:v%d:%s", userID, v, name), nil
}

// Get 命中时把缓存解码到 dest 并返回 true
func (c *AnalyticsCache) Get(ctx context.Context, userID int, name string, dest any) bool {
	if !c.enabled() {
		return false
	}
	key, err := c.key(ctx, userID, name)
	if err != nil {
		c.logger.Warn("Analytics cache version lookup failed", zap.Int("user_id", userID), zap.Error(err))
		return false
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Analytics cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("Analytics cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set 写入缓存，失败只记日志
func (c *AnalyticsCache) Set(ctx context.Context, userID int, name string, value any) {
	if !c.enabled() {
		return
	}
	key, err := c.key(ctx, userID, name)
	if err != nil {
		c.logger.Warn("Analytics cache version lookup failed", zap.Int("user_id", userID), zap.Error(err))
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("Failed to encode analytics result", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate 让用户当前所有缓存失效
func (c *AnalyticsCache) Invalidate(ctx context.Context, userID int) {
	if !c.enabled() {
		return
	}
	if err := c.rdb.Incr(ctx, versionKey(userID)).Err(); err != nil {
		c.logger.Warn("Analytics cache invalidation failed", zap.Int("user_id", userID), zap.Error(err))
		return
	}
	c.logger.Debug("Analytics cache invalidated", zap.Int("user_id", userID))
}
