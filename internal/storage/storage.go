package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/zhiyuan411/public-share/internal/domain"
)

var (
	// ErrBlobNotFound Blob 对象不存在
	ErrBlobNotFound = errors.New("blob not found")
	// ErrUnknownAssetKind 未知的附件类型
	ErrUnknownAssetKind = errors.New("unknown asset kind")
)

// PostRepository 定义帖子及其附件的数据存取操作。
//
// 附件操作以 domain.AssetKind 区分 images 与 files 两张表。
type PostRepository interface {
	CreatePost(ctx context.Context, post *domain.Post) error
	AttachAsset(ctx context.Context, kind domain.AssetKind, asset *domain.Asset) error
	ListPage(ctx context.Context, limit, offset int) ([]domain.Post, error)
	CountPosts(ctx context.Context) (int64, error)
	GetAssets(ctx context.Context, postID uint64, kind domain.AssetKind) ([]domain.Asset, error)
	GetAssetsForPosts(ctx context.Context, kind domain.AssetKind, postIDs []uint64) (map[uint64][]domain.Asset, error)
	DeleteAssetsByPost(ctx context.Context, kind domain.AssetKind, postID uint64) (int64, error)
	DeletePost(ctx context.Context, postID uint64) (bool, error) // 同时删除残留的附件记录

	// 过期清理
	ClearExpiredText(ctx context.Context, cutoff time.Time) (int64, error)
	ListExpiredAssets(ctx context.Context, kind domain.AssetKind, cutoff time.Time) ([]domain.Asset, error)
	DeleteAsset(ctx context.Context, kind domain.AssetKind, assetID uint64) (bool, error)
	DeleteOrphanPosts(ctx context.Context) (int64, error)

	// WithinTx 在单个事务中执行 fn，fn 返回错误时回滚
	WithinTx(ctx context.Context, fn func(repo PostRepository) error) error
}

// SettingsRepository 定义设置项的数据存取操作。
type SettingsRepository interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, name, value string) error
	// SeedSettings 写入缺失的设置项，已存在的值保持不变，返回写入数量
	SeedSettings(ctx context.Context, defaults map[string]string) (int, error)
}

// Store 聚合关系型存储的全部能力
type Store interface {
	PostRepository
	SettingsRepository
	Migrate(ctx context.Context) error
	Health() error
	Close() error
}

// BlobStore 定义附件二进制内容的存储操作。
//
// dir 为附件类型对应的目录（pic / file），name 为系统生成的存储文件名。
type BlobStore interface {
	// Store 写入内容并返回生成的存储文件名和实际写入的字节数，失败时不保留残留对象
	Store(ctx context.Context, dir, originalName string, r io.Reader) (string, int64, error)
	// Delete 删除对象，对象不存在时不返回错误
	Delete(ctx context.Context, dir, name string) error
	Exists(ctx context.Context, dir, name string) (bool, error)
	// Open 打开对象用于下载，对象不存在时返回 ErrBlobNotFound
	Open(ctx context.Context, dir, name string) (io.ReadCloser, error)
	Health() error
}
