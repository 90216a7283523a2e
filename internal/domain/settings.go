package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// 设置项名称
const (
	SettingItemsPerPage    = "items_per_page"
	SettingShowUserInfo    = "show_user_info"
	SettingTextExpireDays  = "text_expire_days"
	SettingImageExpireDays = "image_expire_days"
	SettingFileExpireDays  = "file_expire_days"
	SettingMaxImageSize    = "max_image_size" // MiB
	SettingMaxFileSize     = "max_file_size"  // MiB
)

// 设置值上限
const (
	MaxExpireDays    = 36500   // 100 年
	MaxUploadSizeMiB = 1 << 20 // 1 TiB
)

// Setting 持久化的设置项（settings 表）
type Setting struct {
	Name  string `json:"name" gorm:"primaryKey;type:varchar(64)"`
	Value string `json:"value" gorm:"type:varchar(255)"`
}

// SettingDefinition 设置项定义
type SettingDefinition struct {
	Name    string
	Default int
	Min     int
	Max     int // 0 表示无上限
	Desc    string
}

// SettingDefinitions 返回所有设置项及其默认值
func SettingDefinitions() []SettingDefinition {
	return []SettingDefinition{
		{Name: SettingItemsPerPage, Default: 10, Min: 1, Max: 200, Desc: "每页显示的帖子数"},
		{Name: SettingShowUserInfo, Default: 1, Min: 0, Max: 1, Desc: "是否显示发布者信息（1 显示，0 隐藏）"},
		{Name: SettingTextExpireDays, Default: 0, Min: 0, Max: MaxExpireDays, Desc: "文本过期天数，0 为永不过期"},
		{Name: SettingImageExpireDays, Default: 0, Min: 0, Max: MaxExpireDays, Desc: "图片过期天数，0 为永不过期"},
		{Name: SettingFileExpireDays, Default: 0, Min: 0, Max: MaxExpireDays, Desc: "文件过期天数，0 为永不过期"},
		{Name: SettingMaxImageSize, Default: 0, Min: 0, Max: MaxUploadSizeMiB, Desc: "单张图片大小上限（MB），0 为不限制"},
		{Name: SettingMaxFileSize, Default: 0, Min: 0, Max: MaxUploadSizeMiB, Desc: "单个文件大小上限（MB），0 为不限制"},
	}
}

// LookupSetting 查找设置项定义
func LookupSetting(name string) (SettingDefinition, bool) {
	for _, def := range SettingDefinitions() {
		if def.Name == name {
			return def, true
		}
	}
	return SettingDefinition{}, false
}

// Parse 解析设置值，缺失、非数字或超出范围时返回默认值
func (d SettingDefinition) Parse(raw string, ok bool) int {
	if !ok {
		return d.Default
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || !d.Valid(n) {
		return d.Default
	}
	return n
}

// Valid 判断数值是否在允许范围内
func (d SettingDefinition) Valid(n int) bool {
	if n < d.Min {
		return false
	}
	if d.Max > 0 && n > d.Max {
		return false
	}
	return true
}

// DefaultSettingValues 返回默认设置的字符串形式，用于初始化 settings 表
func DefaultSettingValues() map[string]string {
	defs := SettingDefinitions()
	values := make(map[string]string, len(defs))
	for _, def := range defs {
		values[def.Name] = strconv.Itoa(def.Default)
	}
	return values
}

// Settings 一个请求周期内使用的设置快照，创建后不可修改
type Settings struct {
	ItemsPerPage    int  `json:"itemsPerPage"`
	ShowUserInfo    bool `json:"showUserInfo"`
	TextExpireDays  int  `json:"textExpireDays"`
	ImageExpireDays int  `json:"imageExpireDays"`
	FileExpireDays  int  `json:"fileExpireDays"`
	MaxImageSize    int  `json:"maxImageSize"` // MiB
	MaxFileSize     int  `json:"maxFileSize"`  // MiB
}

// DefaultSettings 返回全部使用默认值的快照
func DefaultSettings() Settings {
	return NewSettings(nil)
}

// NewSettings 从原始键值对构建设置快照
func NewSettings(raw map[string]string) Settings {
	get := func(name string) int {
		def, _ := LookupSetting(name)
		value, ok := raw[name]
		return def.Parse(value, ok)
	}

	return Settings{
		ItemsPerPage:    get(SettingItemsPerPage),
		ShowUserInfo:    get(SettingShowUserInfo) == 1,
		TextExpireDays:  get(SettingTextExpireDays),
		ImageExpireDays: get(SettingImageExpireDays),
		FileExpireDays:  get(SettingFileExpireDays),
		MaxImageSize:    get(SettingMaxImageSize),
		MaxFileSize:     get(SettingMaxFileSize),
	}
}

// Int 按名称读取数值设置，未知名称返回 0
func (s Settings) Int(name string) int {
	switch name {
	case SettingItemsPerPage:
		return s.ItemsPerPage
	case SettingShowUserInfo:
		if s.ShowUserInfo {
			return 1
		}
		return 0
	case SettingTextExpireDays:
		return s.TextExpireDays
	case SettingImageExpireDays:
		return s.ImageExpireDays
	case SettingFileExpireDays:
		return s.FileExpireDays
	case SettingMaxImageSize:
		return s.MaxImageSize
	case SettingMaxFileSize:
		return s.MaxFileSize
	}
	return 0
}

// TextTTL 文本生存时间，0 表示永不过期
func (s Settings) TextTTL() time.Duration {
	return Days(s.TextExpireDays)
}

// Values 返回快照的字符串形式
func (s Settings) Values() map[string]string {
	defs := SettingDefinitions()
	values := make(map[string]string, len(defs))
	for _, def := range defs {
		values[def.Name] = strconv.Itoa(s.Int(def.Name))
	}
	return values
}

const day = 24 * time.Hour

// Days 将天数换算为时长，超出 time.Duration 范围时取最大值
func Days(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	if int64(n) > math.MaxInt64/int64(day) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(n) * day
}

// ExpiryAt 计算过期时间点，ttl 为 0 时返回 nil
func ExpiryAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}
