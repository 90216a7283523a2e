package cache

import (
	"context"
	"time"
)

const settingsKey = "settings"

// SettingsCache 进程内的设置快照缓存
type SettingsCache struct {
	local *LocalCache
}

// NewSettingsCache 创建设置缓存，ttl 为快照有效期
func NewSettingsCache(ttl time.Duration) *SettingsCache {
	return &SettingsCache{local: NewLocalCache(ttl)}
}

// Get 读取缓存的原始设置
func (c *SettingsCache) Get(_ context.Context) (map[string]string, bool) {
	val, ok := c.local.Get(settingsKey)
	if !ok {
		return nil, false
	}
	return copyValues(val.(map[string]string)), true
}

// Set 写入原始设置
func (c *SettingsCache) Set(_ context.Context, values map[string]string) {
	c.local.Set(settingsKey, copyValues(values), 0)
}

// Invalidate 设置修改后使缓存失效
func (c *SettingsCache) Invalidate(_ context.Context) {
	c.local.Delete(settingsKey)
}

// Close 释放后台清理协程
func (c *SettingsCache) Close() error {
	c.local.Close()
	return nil
}

func copyValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
