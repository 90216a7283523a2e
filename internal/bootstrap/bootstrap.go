// Package bootstrap 按配置组装存储、附件后端和设置缓存，供服务端和命令行工具共用。
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/cache"
	"github.com/zhiyuan411/public-share/internal/config"
	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/service"
	"github.com/zhiyuan411/public-share/internal/storage"
	"github.com/zhiyuan411/public-share/internal/storage/filesystem"
	"github.com/zhiyuan411/public-share/internal/storage/memory"
	redisstore "github.com/zhiyuan411/public-share/internal/storage/redis"
	s3store "github.com/zhiyuan411/public-share/internal/storage/s3"
	sqlstore "github.com/zhiyuan411/public-share/internal/storage/sql"
)

// Runtime 已初始化的底层组件
type Runtime struct {
	Store    *sqlstore.Store
	Blobs    storage.BlobStore
	Redis    *redisstore.Client // 未配置 Redis 时为 nil
	Settings *service.SettingsService

	closers []func() error
}

// Open 打开数据库（含自动迁移）、附件存储和设置缓存
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Runtime{}

	store, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	rt.closers = append(rt.closers, store.Close)

	blobs, err := OpenBlobStore(ctx, cfg, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Blobs = blobs

	settingsCache := rt.openSettingsCache(cfg, log)
	rt.Settings = service.NewSettingsService(store, settingsCache, log)

	return rt, nil
}

// OpenStore 根据 database 配置打开关系型存储
func OpenStore(cfg *config.Config, log *zap.Logger) (*sqlstore.Store, error) {
	log.Info("initializing database storage", zap.String("database_type", cfg.Database.Type))

	store, err := sqlstore.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Database.Type, err)
	}

	log.Info("database storage initialized successfully", zap.String("database_type", store.DriverName()))
	return store, nil
}

// OpenBlobStore 根据 storage.backend 创建附件存储
func OpenBlobStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "filesystem", "":
		dirs := map[string]string{
			domain.ImageKind.Dir: cfg.Storage.ImageDir,
			domain.FileKind.Dir:  cfg.Storage.FileDir,
		}
		store, err := filesystem.NewStore(cfg.Storage.Path, dirs)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize filesystem storage: %w", err)
		}
		log.Info("filesystem storage initialized", zap.String("path", store.BasePath()))
		return store, nil

	case "s3":
		store, err := s3store.New(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		log.Info("s3 storage initialized",
			zap.String("bucket", cfg.S3.Bucket),
			zap.String("endpoint", cfg.S3.Endpoint),
		)
		return store, nil

	case "memory":
		log.Warn("using memory blob storage, attachments are lost on restart")
		return memory.NewStore(), nil
	}

	return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
}

// openSettingsCache 优先使用 Redis，连接失败时回退到进程内缓存。
// settings.cache_ttl 为 0 时不缓存
func (rt *Runtime) openSettingsCache(cfg *config.Config, log *zap.Logger) service.SettingsCache {
	ttl := cfg.Settings.CacheTTL
	if ttl <= 0 {
		return nil
	}

	if cfg.Redis.Address != "" {
		client, err := redisstore.New(&cfg.Redis, log)
		if err == nil {
			rt.Redis = client
			rt.closers = append(rt.closers, client.Close)
			return redisstore.NewSettingsCache(client, ttl)
		}
		log.Warn("redis unavailable, falling back to local settings cache", zap.Error(err))
	}

	local := cache.NewSettingsCache(ttl)
	rt.closers = append(rt.closers, local.Close)
	return local
}

// Close 按打开的逆序释放资源
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
