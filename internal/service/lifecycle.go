package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/pagination"
	"github.com/zhiyuan411/public-share/internal/security"
	"github.com/zhiyuan411/public-share/internal/storage"
)

var (
	// ErrEmptySubmission 没有文本也没有任何附件
	ErrEmptySubmission = errors.New("empty submission")
	// ErrStorageUnavailable 数据库或 Blob 存储不可用
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Notifier 接收留言板变更事件
type Notifier interface {
	NotifyPostCreated(postID uint64)
	NotifyPostDeleted(postID uint64)
	NotifySweep(report domain.SweepReport)
}

// Recorder 记录引擎指标
type Recorder interface {
	RecordSweep(report domain.SweepReport, duration time.Duration)
	RecordAssetStored(kind string, size int64)
	RecordAssetSkipped(kind, reason string)
	RecordPostCreated()
	RecordPostDeleted()
}

// CreateInput 定义发布帖子所需的输入。
type CreateInput struct {
	Content string
	Images  []domain.Upload
	Files   []domain.Upload
	Meta    domain.RequestMeta
}

// uploads 返回指定类型的上传列表
func (in CreateInput) uploads(kind domain.AssetKind) []domain.Upload {
	if kind.Name == domain.ImageKind.Name {
		return in.Images
	}
	return in.Files
}

// CreateResult 发布结果
type CreateResult struct {
	PostID  uint64                `json:"id"` // 0 表示没有保存任何内容
	Images  []domain.Asset        `json:"images"`
	Files   []domain.Asset        `json:"files"`
	Skipped []domain.SkippedAsset `json:"skipped"`
}

// Created 是否创建了帖子
func (r *CreateResult) Created() bool {
	return r.PostID != 0
}

// Engine 留言板内容生命周期引擎：入库、过期清理、删除与分页查询。
//
// 每个操作开始时读取一次设置快照并执行清理，之后的步骤只使用这份快照。
type Engine struct {
	repo         storage.PostRepository
	blobs        storage.BlobStore
	settings     *SettingsService
	log          *zap.Logger
	now          func() time.Time
	notifier     Notifier
	recorder     Recorder
	verifyImages bool
}

// Option 引擎可选配置
type Option func(*Engine)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier 设置事件通知
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRecorder 设置指标记录
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithImageVerification 是否校验图片内容
func WithImageVerification(enabled bool) Option {
	return func(e *Engine) { e.verifyImages = enabled }
}

// NewEngine 创建生命周期引擎。
func NewEngine(repo storage.PostRepository, blobs storage.BlobStore, settings *SettingsService, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		repo:         repo,
		blobs:        blobs,
		settings:     settings,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		verifyImages: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settings 返回当前设置快照
func (e *Engine) Settings(ctx context.Context) (domain.Settings, error) {
	settings, err := e.settings.Snapshot(ctx)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return settings, nil
}

// cycle 读取设置快照并执行一次清理
func (e *Engine) cycle(ctx context.Context) (domain.Settings, error) {
	settings, err := e.Settings(ctx)
	if err != nil {
		return settings, err
	}
	if _, err := e.sweep(ctx, settings); err != nil {
		return settings, err
	}
	return settings, nil
}

// ========== Sweep ==========

// Sweep 使用当前设置执行一次过期清理和孤立帖子清理。
func (e *Engine) Sweep(ctx context.Context) (domain.SweepReport, error) {
	settings, err := e.Settings(ctx)
	if err != nil {
		return domain.SweepReport{}, err
	}
	return e.sweep(ctx, settings)
}

func (e *Engine) sweep(ctx context.Context, settings domain.Settings) (domain.SweepReport, error) {
	var report domain.SweepReport
	start := time.Now()
	now := e.now()

	if ttl := settings.TextTTL(); ttl > 0 {
		n, err := e.repo.ClearExpiredText(ctx, now.Add(-ttl))
		if err != nil {
			return report, fmt.Errorf("%w: clear expired text: %w", ErrStorageUnavailable, err)
		}
		report.TextsCleared = n
	}

	for _, kind := range domain.AssetKinds() {
		ttl := kind.TTL(settings)
		if ttl <= 0 {
			continue
		}
		if err := e.sweepAssets(ctx, kind, now.Add(-ttl), &report); err != nil {
			return report, err
		}
	}

	orphans, err := e.repo.DeleteOrphanPosts(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: delete orphan posts: %w", ErrStorageUnavailable, err)
	}
	report.OrphansDeleted = orphans

	if e.recorder != nil {
		e.recorder.RecordSweep(report, time.Since(start))
	}
	if report.Changed() {
		e.log.Info("sweep reclaimed expired content",
			zap.Int64("texts", report.TextsCleared),
			zap.Int64("images", report.ImagesDeleted),
			zap.Int64("files", report.FilesDeleted),
			zap.Int64("orphans", report.OrphansDeleted),
			zap.Int64("blobFailures", report.BlobFailures),
		)
		if e.notifier != nil {
			e.notifier.NotifySweep(report)
		}
	}
	return report, nil
}

// sweepAssets 删除 cutoff 之前上传的某类附件：先删 Blob，再删记录
func (e *Engine) sweepAssets(ctx context.Context, kind domain.AssetKind, cutoff time.Time, report *domain.SweepReport) error {
	assets, err := e.repo.ListExpiredAssets(ctx, kind, cutoff)
	if err != nil {
		return fmt.Errorf("%w: list expired %s: %w", ErrStorageUnavailable, kind.Table, err)
	}

	for _, asset := range assets {
		if err := e.blobs.Delete(ctx, kind.Dir, asset.Filename); err != nil {
			// Blob 删除失败不阻止记录删除
			report.BlobFailures++
			e.log.Warn("failed to delete expired blob",
				zap.String("kind", kind.Name),
				zap.String("filename", asset.Filename),
				zap.Error(err),
			)
		}

		deleted, err := e.repo.DeleteAsset(ctx, kind, asset.ID)
		if err != nil {
			return fmt.Errorf("%w: delete expired %s: %w", ErrStorageUnavailable, kind.Name, err)
		}
		if deleted {
			report.AddAssets(kind, 1)
		}
	}
	return nil
}

// ========== Ingestion ==========

// Create 发布帖子。
//
// 超过大小上限、不是图片或写入失败的附件会被跳过，帖子和其余附件照常保存。
// 文本为空且所有附件都被跳过时不创建帖子。数据库写入失败时回滚并删除已写入的 Blob。
func (e *Engine) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	settings, err := e.cycle(ctx)
	if err != nil {
		return nil, err
	}

	content := domain.NormalizeContent(input.Content)
	if content == nil && len(input.Images) == 0 && len(input.Files) == 0 {
		return nil, ErrEmptySubmission
	}

	now := e.now()
	result := &CreateResult{}
	stored := make(map[string][]domain.Asset, 2)

	for _, kind := range domain.AssetKinds() {
		for _, upload := range input.uploads(kind) {
			asset, skipped := e.storeAsset(ctx, kind, settings, upload, now)
			if skipped != nil {
				result.Skipped = append(result.Skipped, *skipped)
				if e.recorder != nil {
					e.recorder.RecordAssetSkipped(kind.Name, skipped.Reason)
				}
				continue
			}
			stored[kind.Name] = append(stored[kind.Name], *asset)
		}
	}

	if content == nil && len(stored) == 0 {
		e.log.Info("submission discarded, nothing survived", zap.Int("skipped", len(result.Skipped)))
		return result, nil
	}

	post := &domain.Post{
		Content:     content,
		UserAgent:   truncate(input.Meta.UserAgent, 512),
		IPAddress:   truncate(input.Meta.IPAddress, 64),
		CreatedAt:   now,
		TextExpire:  domain.ExpiryAt(now, settings.TextTTL()),
		ImageExpire: domain.ExpiryAt(now, domain.ImageKind.TTL(settings)),
		FileExpire:  domain.ExpiryAt(now, domain.FileKind.TTL(settings)),
	}

	err = e.repo.WithinTx(ctx, func(repo storage.PostRepository) error {
		if err := repo.CreatePost(ctx, post); err != nil {
			return err
		}
		for _, kind := range domain.AssetKinds() {
			assets := stored[kind.Name]
			for i := range assets {
				assets[i].PostID = post.ID
				if err := repo.AttachAsset(ctx, kind, &assets[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		e.discardBlobs(ctx, stored)
		return nil, fmt.Errorf("%w: create post: %w", ErrStorageUnavailable, err)
	}

	result.PostID = post.ID
	result.Images = stored[domain.ImageKind.Name]
	result.Files = stored[domain.FileKind.Name]

	if e.recorder != nil {
		e.recorder.RecordPostCreated()
		for _, kind := range domain.AssetKinds() {
			for _, asset := range stored[kind.Name] {
				e.recorder.RecordAssetStored(kind.Name, asset.Size)
			}
		}
	}
	if e.notifier != nil {
		e.notifier.NotifyPostCreated(post.ID)
	}

	e.log.Info("post created",
		zap.Uint64("postID", post.ID),
		zap.Int("images", len(result.Images)),
		zap.Int("files", len(result.Files)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// storeAsset 按附件类型的规则写入单个上传，返回待入库的记录或跳过原因
func (e *Engine) storeAsset(ctx context.Context, kind domain.AssetKind, settings domain.Settings, upload domain.Upload, now time.Time) (*domain.Asset, *domain.SkippedAsset) {
	skip := func(reason string) *domain.SkippedAsset {
		return &domain.SkippedAsset{Kind: kind.Name, Name: upload.Name, Reason: reason}
	}

	limit := kind.MaxBytes(settings)
	if limit > 0 && upload.Size > limit {
		return nil, skip(domain.SkipTooLarge)
	}

	body := upload.Body
	if body == nil {
		return nil, skip(domain.SkipWriteFailed)
	}

	if kind.SniffImage && e.verifyImages {
		replay, contentType, ok, err := security.SniffImage(body)
		if err != nil {
			e.log.Warn("failed to read upload", zap.String("name", upload.Name), zap.Error(err))
			return nil, skip(domain.SkipWriteFailed)
		}
		if !ok {
			e.log.Info("upload rejected, not an image",
				zap.String("name", upload.Name),
				zap.String("contentType", contentType),
			)
			return nil, skip(domain.SkipNotImage)
		}
		body = replay
	}

	if limit > 0 {
		// 多读一个字节用于判断实际大小是否超限
		body = io.LimitReader(body, limit+1)
	}

	name, written, err := e.blobs.Store(ctx, kind.Dir, upload.Name, body)
	if err != nil {
		e.log.Warn("failed to store upload",
			zap.String("kind", kind.Name),
			zap.String("name", upload.Name),
			zap.Error(err),
		)
		return nil, skip(domain.SkipWriteFailed)
	}

	if limit > 0 && written > limit {
		e.deleteBlob(ctx, kind, name)
		return nil, skip(domain.SkipTooLarge)
	}

	return &domain.Asset{
		Filename:     name,
		OriginalName: security.DisplayName(upload.Name),
		Size:         written,
		CreatedAt:    now,
	}, nil
}

// discardBlobs 删除事务回滚后不再被引用的 Blob
func (e *Engine) discardBlobs(ctx context.Context, stored map[string][]domain.Asset) {
	ctx = context.WithoutCancel(ctx)
	for _, kind := range domain.AssetKinds() {
		for _, asset := range stored[kind.Name] {
			e.deleteBlob(ctx, kind, asset.Filename)
		}
	}
}

func (e *Engine) deleteBlob(ctx context.Context, kind domain.AssetKind, name string) {
	if err := e.blobs.Delete(ctx, kind.Dir, name); err != nil {
		e.log.Warn("failed to delete blob",
			zap.String("kind", kind.Name),
			zap.String("filename", name),
			zap.Error(err),
		)
	}
}

// ========== Deletion ==========

// Delete 删除帖子：依次删除图片、文件（先 Blob 后记录），最后删除帖子记录。
// 帖子不存在时返回 false，不视为错误。
func (e *Engine) Delete(ctx context.Context, postID uint64) (bool, error) {
	if _, err := e.cycle(ctx); err != nil {
		return false, err
	}

	for _, kind := range domain.AssetKinds() {
		assets, err := e.repo.GetAssets(ctx, postID, kind)
		if err != nil {
			return false, fmt.Errorf("%w: list %s: %w", ErrStorageUnavailable, kind.Table, err)
		}
		for _, asset := range assets {
			e.deleteBlob(ctx, kind, asset.Filename)
		}
		if _, err := e.repo.DeleteAssetsByPost(ctx, kind, postID); err != nil {
			return false, fmt.Errorf("%w: delete %s: %w", ErrStorageUnavailable, kind.Table, err)
		}
	}

	deleted, err := e.repo.DeletePost(ctx, postID)
	if err != nil {
		return false, fmt.Errorf("%w: delete post: %w", ErrStorageUnavailable, err)
	}
	if !deleted {
		return false, nil
	}

	if e.recorder != nil {
		e.recorder.RecordPostDeleted()
	}
	if e.notifier != nil {
		e.notifier.NotifyPostDeleted(postID)
	}
	e.log.Info("post deleted", zap.Uint64("postID", postID))
	return true, nil
}

// ========== Listing ==========

// List 分页查询帖子及其附件，page 会被限制在有效范围内。
func (e *Engine) List(ctx context.Context, page int) (*domain.Page, error) {
	settings, err := e.cycle(ctx)
	if err != nil {
		return nil, err
	}

	total, err := e.repo.CountPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count posts: %w", ErrStorageUnavailable, err)
	}

	window := pagination.Compute(total, settings.ItemsPerPage, page)
	posts, err := e.repo.ListPage(ctx, window.PageSize, window.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list posts: %w", ErrStorageUnavailable, err)
	}

	ids := make([]uint64, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}

	for _, kind := range domain.AssetKinds() {
		byPost, err := e.repo.GetAssetsForPosts(ctx, kind, ids)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", ErrStorageUnavailable, kind.Table, err)
		}
		for i := range posts {
			posts[i].SetAssets(kind, byPost[posts[i].ID])
		}
	}

	if !settings.ShowUserInfo {
		for i := range posts {
			posts[i].UserAgent = ""
			posts[i].IPAddress = ""
		}
	}

	return &domain.Page{
		Posts:        posts,
		Page:         window.Page,
		PageSize:     window.PageSize,
		TotalPages:   window.TotalPages,
		Total:        window.Total,
		ShowUserInfo: settings.ShowUserInfo,
	}, nil
}

// truncate 按字节截断字符串，不截断多字节字符
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && (s[max]&0xC0) == 0x80 {
		max--
	}
	return s[:max]
}
