package redis

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSettingsKey 设置快照在 Redis 中的哈希键
const DefaultSettingsKey = "pubshare:settings"

// SettingsCache 多实例共享的设置快照缓存
//
// 快照保存为一个哈希，整体设置过期时间。Redis 不可用时视为未命中，
// 调用方回退到数据库读取。
type SettingsCache struct {
	client *Client
	key    string
	ttl    time.Duration
}

// NewSettingsCache 创建设置缓存
func NewSettingsCache(client *Client, ttl time.Duration) *SettingsCache {
	return &SettingsCache{client: client, key: DefaultSettingsKey, ttl: ttl}
}

// Get 读取缓存的原始设置
func (c *SettingsCache) Get(ctx context.Context) (map[string]string, bool) {
	values, err := c.client.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		c.client.log.Warn("failed to read settings cache", zap.Error(err))
		return nil, false
	}
	if len(values) == 0 {
		return nil, false
	}
	return values, true
}

// Set 写入原始设置
func (c *SettingsCache) Set(ctx context.Context, values map[string]string) {
	if len(values) == 0 {
		return
	}

	fields := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		fields = append(fields, k, v)
	}

	pipe := c.client.rdb.TxPipeline()
	pipe.Del(ctx, c.key)
	pipe.HSet(ctx, c.key, fields...)
	if c.ttl > 0 {
		pipe.Expire(ctx, c.key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.client.log.Warn("failed to write settings cache", zap.Error(err))
	}
}

// Invalidate 删除缓存的快照
func (c *SettingsCache) Invalidate(ctx context.Context) {
	if err := c.client.rdb.Del(ctx, c.key).Err(); err != nil {
		c.client.log.Warn("failed to invalidate settings cache", zap.Error(err))
	}
}

// Close 关闭底层连接
func (c *SettingsCache) Close() error {
	return c.client.Close()
}
