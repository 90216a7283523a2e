package domain

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// Asset 表示帖子附带的一个图片或文件。
//
// 每条记录独占 Blob 存储中的一个对象，对象的生命周期与记录绑定。
type Asset struct {
	ID           uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	PostID       uint64    `json:"postId" gorm:"index;not null"`              // 所属帖子ID
	Filename     string    `json:"filename" gorm:"type:varchar(255);not null"` // 系统生成的存储文件名
	OriginalName string    `json:"originalName" gorm:"type:varchar(255)"`      // 客户端提供的原始文件名，仅用于展示
	Size         int64     `json:"size"`                                       // 大小（字节）
	CreatedAt    time.Time `json:"createdAt" gorm:"index;not null"`
}

// Image 图片附件表（images）
type Image struct {
	Asset
}

// File 文件附件表（files）
type File struct {
	Asset
}

// AssetKind 描述一类附件：名称、存储目录、大小上限和过期天数对应的设置项。
//
// 图片与文件只在这些参数上不同，引擎和仓储对两者使用同一套实现。
type AssetKind struct {
	Name       string // image / file
	Dir        string // Blob 存储目录
	Table      string // 数据库表名
	MaxSizeKey string // 大小上限设置项（MiB）
	TTLKey     string // 过期天数设置项
	SniffImage bool   // 是否校验内容为图片
}

var (
	// ImageKind 图片附件
	ImageKind = AssetKind{
		Name:       "image",
		Dir:        "pic",
		Table:      "images",
		MaxSizeKey: SettingMaxImageSize,
		TTLKey:     SettingImageExpireDays,
		SniffImage: true,
	}

	// FileKind 文件附件
	FileKind = AssetKind{
		Name:       "file",
		Dir:        "file",
		Table:      "files",
		MaxSizeKey: SettingMaxFileSize,
		TTLKey:     SettingFileExpireDays,
	}
)

// AssetKinds 返回所有附件类型，顺序即清理与删除的顺序
func AssetKinds() []AssetKind {
	return []AssetKind{ImageKind, FileKind}
}

// AssetKindByName 根据名称查找附件类型
func AssetKindByName(name string) (AssetKind, bool) {
	for _, kind := range AssetKinds() {
		if kind.Name == name {
			return kind, true
		}
	}
	return AssetKind{}, false
}

// MaxBytes 返回当前设置下该类附件的大小上限（字节），0 表示不限制
func (k AssetKind) MaxBytes(s Settings) int64 {
	mib := int64(s.Int(k.MaxSizeKey))
	if mib <= 0 {
		return 0
	}
	if mib > math.MaxInt64>>20 {
		return math.MaxInt64
	}
	return mib << 20
}

// TTL 返回当前设置下该类附件的生存时间，0 表示永不过期
func (k AssetKind) TTL(s Settings) time.Duration {
	return Days(s.Int(k.TTLKey))
}

// Upload 一个待入库的上传文件
type Upload struct {
	Name string    // 客户端文件名
	Size int64     // 声明大小（字节）
	Body io.Reader // 文件内容
}

// SkippedAsset 入库时被跳过的附件
type SkippedAsset struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// 附件被跳过的原因
const (
	SkipTooLarge    = "too_large"
	SkipNotImage    = "not_image"
	SkipWriteFailed = "write_failed"
)

// FormatSize 将字节数格式化为便于阅读的字符串，如 "1.5 MB"
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	units := []string{"Bytes", "KB", "MB", "GB", "TB"}
	value := float64(bytes)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}

	text := fmt.Sprintf("%.2f", value)
	text = strings.TrimRight(strings.TrimRight(text, "0"), ".")
	return text + " " + units[i]
}
