package domain

import (
	"strings"
	"time"
)

// Post 表示留言板上的一条帖子。
//
// 文本、图片、文件三类内容各自独立过期；文本过期后 Content 被置空，
// 当 Content 为空且没有任何附件时，帖子成为孤立帖子并被清理。
type Post struct {
	ID          uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Content     *string    `json:"content" gorm:"type:text"`                  // 文本内容，过期或未填写时为 nil
	UserAgent   string     `json:"userAgent,omitempty" gorm:"type:varchar(512)"` // 发布者 User-Agent
	IPAddress   string     `json:"ipAddress,omitempty" gorm:"type:varchar(64)"`  // 发布者地址
	CreatedAt   time.Time  `json:"createdAt" gorm:"index;not null"`
	TextExpire  *time.Time `json:"textExpire"`  // nil 表示永不过期
	ImageExpire *time.Time `json:"imageExpire"` // nil 表示永不过期
	FileExpire  *time.Time `json:"fileExpire"`  // nil 表示永不过期

	Images []Asset `json:"images" gorm:"-"`
	Files  []Asset `json:"files" gorm:"-"`
}

// HasContent 判断帖子是否仍保留文本内容
func (p *Post) HasContent() bool {
	return p.Content != nil && *p.Content != ""
}

// IsOrphan 判断帖子是否已无任何内容
func (p *Post) IsOrphan() bool {
	return !p.HasContent() && len(p.Images) == 0 && len(p.Files) == 0
}

// SetAssets 设置指定类型的附件列表
func (p *Post) SetAssets(kind AssetKind, assets []Asset) {
	if kind.Name == ImageKind.Name {
		p.Images = assets
		return
	}
	p.Files = assets
}

// NormalizeContent 将空白文本统一为 nil，避免产生只含空白的帖子
func NormalizeContent(content string) *string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return &content
}

// RequestMeta 发布请求的来源信息，由传输层显式传入引擎
type RequestMeta struct {
	UserAgent string
	IPAddress string
}

// Page 分页查询结果
type Page struct {
	Posts        []Post `json:"posts"`
	Page         int    `json:"page"`
	PageSize     int    `json:"pageSize"`
	TotalPages   int    `json:"totalPages"`
	Total        int64  `json:"total"`
	ShowUserInfo bool   `json:"showUserInfo"` // 为 false 时 Posts 中的发布者信息已清空
}

// SweepReport 一次过期清理的统计结果
type SweepReport struct {
	TextsCleared   int64 `json:"textsCleared"`
	ImagesDeleted  int64 `json:"imagesDeleted"`
	FilesDeleted   int64 `json:"filesDeleted"`
	OrphansDeleted int64 `json:"orphansDeleted"`
	BlobFailures   int64 `json:"blobFailures"`
}

// Changed 判断本次清理是否产生了变更
func (r SweepReport) Changed() bool {
	return r.TextsCleared > 0 || r.ImagesDeleted > 0 || r.FilesDeleted > 0 || r.OrphansDeleted > 0
}

// AddAssets 按类型累加删除的附件数量
func (r *SweepReport) AddAssets(kind AssetKind, n int64) {
	if kind.Name == ImageKind.Name {
		r.ImagesDeleted += n
		return
	}
	r.FilesDeleted += n
}
