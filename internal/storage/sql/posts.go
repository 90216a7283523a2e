package sql

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/storage"
)

// ========== Post Repository ==========

// CreatePost 创建帖子，ID 由数据库分配
func (s *Store) CreatePost(ctx context.Context, post *domain.Post) error {
	return s.db.WithContext(ctx).Create(post).Error
}

// AttachAsset 为帖子添加一条附件记录
func (s *Store) AttachAsset(ctx context.Context, kind domain.AssetKind, asset *domain.Asset) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Table(kind.Table).Create(asset).Error
}

// ListPage 按发布时间倒序分页查询帖子（不含附件）
func (s *Store) ListPage(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	var posts []domain.Post
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	return posts, err
}

// CountPosts 统计帖子总数
func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Post{}).Count(&count).Error
	return count, err
}

// GetAssets 获取帖子的某类附件，按上传顺序返回
func (s *Store) GetAssets(ctx context.Context, postID uint64, kind domain.AssetKind) ([]domain.Asset, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	var assets []domain.Asset
	err := s.db.WithContext(ctx).
		Table(kind.Table).
		Where("post_id = ?", postID).
		Order("id ASC").
		Find(&assets).Error
	return assets, err
}

// GetAssetsForPosts 批量获取多条帖子的某类附件
func (s *Store) GetAssetsForPosts(ctx context.Context, kind domain.AssetKind, postIDs []uint64) (map[uint64][]domain.Asset, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	result := make(map[uint64][]domain.Asset, len(postIDs))
	if len(postIDs) == 0 {
		return result, nil
	}

	var assets []domain.Asset
	err := s.db.WithContext(ctx).
		Table(kind.Table).
		Where("post_id IN ?", postIDs).
		Order("id ASC").
		Find(&assets).Error
	if err != nil {
		return nil, err
	}

	for _, asset := range assets {
		result[asset.PostID] = append(result[asset.PostID], asset)
	}
	return result, nil
}

// DeleteAssetsByPost 删除帖子的某类附件记录，返回删除数量
func (s *Store) DeleteAssetsByPost(ctx context.Context, kind domain.AssetKind, postID uint64) (int64, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}

	result := s.db.WithContext(ctx).
		Table(kind.Table).
		Where("post_id = ?", postID).
		Delete(&domain.Asset{})
	return result.RowsAffected, result.Error
}

// DeletePost 删除帖子及其残留的附件记录，帖子不存在时返回 false
func (s *Store) DeletePost(ctx context.Context, postID uint64) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, kind := range domain.AssetKinds() {
			if err := tx.Table(kind.Table).Where("post_id = ?", postID).Delete(&domain.Asset{}).Error; err != nil {
				return err
			}
		}

		result := tx.Delete(&domain.Post{}, postID)
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// ========== Expiry ==========

// ClearExpiredText 清空 cutoff 之前发布的帖子文本，返回清空数量
func (s *Store) ClearExpiredText(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.Post{}).
		Where("content IS NOT NULL AND created_at < ?", cutoff.UTC()).
		Update("content", gorm.Expr("NULL"))
	return result.RowsAffected, result.Error
}

// ListExpiredAssets 列出 cutoff 之前上传的某类附件
func (s *Store) ListExpiredAssets(ctx context.Context, kind domain.AssetKind, cutoff time.Time) ([]domain.Asset, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	var assets []domain.Asset
	err := s.db.WithContext(ctx).
		Table(kind.Table).
		Where("created_at < ?", cutoff.UTC()).
		Order("id ASC").
		Find(&assets).Error
	return assets, err
}

// DeleteAsset 删除单条附件记录，记录不存在时返回 false
func (s *Store) DeleteAsset(ctx context.Context, kind domain.AssetKind, assetID uint64) (bool, error) {
	if err := checkKind(kind); err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).
		Table(kind.Table).
		Where("id = ?", assetID).
		Delete(&domain.Asset{})
	return result.RowsAffected > 0, result.Error
}

// DeleteOrphanPosts 删除没有文本且没有任何附件的帖子
func (s *Store) DeleteOrphanPosts(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("(content IS NULL OR content = ?)", "").
		Where("NOT EXISTS (SELECT 1 FROM images WHERE images.post_id = posts.id)").
		Where("NOT EXISTS (SELECT 1 FROM files WHERE files.post_id = posts.id)").
		Delete(&domain.Post{})
	return result.RowsAffected, result.Error
}

// checkKind 只接受已知的附件类型，防止表名来自外部输入
func checkKind(kind domain.AssetKind) error {
	known, ok := domain.AssetKindByName(kind.Name)
	if !ok || known.Table != kind.Table {
		return storage.ErrUnknownAssetKind
	}
	return nil
}
