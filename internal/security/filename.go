package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrInvalidFilename 存储文件名不合法
var ErrInvalidFilename = errors.New("invalid stored filename")

// maxFilenameBytes 存储文件名的最大字节数
const maxFilenameBytes = 200

// allowedRune 文件名允许的字符：字母数字、下划线、连字符、点以及汉字
func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.':
		return true
	case unicode.Is(unicode.Han, r):
		return true
	}
	return false
}

// SanitizeFilename 清理客户端提供的文件名，只保留安全字符集
func SanitizeFilename(name string) string {
	// 只取最后一段，丢弃客户端附带的路径
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	name = strings.Map(func(r rune) rune {
		if allowedRune(r) {
			return r
		}
		return -1
	}, name)

	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.Trim(name, ".")
	name = limitLength(name, maxFilenameBytes-32)

	if name == "" {
		return "unnamed"
	}
	return name
}

// GenerateStoredName 生成存储文件名：时间 + 随机前缀 + 清理后的原始文件名
func GenerateStoredName(originalName string, now time.Time) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%x%s_%s", now.UnixMicro(), token, SanitizeFilename(originalName))
}

// ValidateStoredName 校验存储文件名，防止通过下载接口访问任意路径
func ValidateStoredName(name string) error {
	if name == "" || len(name) > maxFilenameBytes {
		return ErrInvalidFilename
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") {
		return ErrInvalidFilename
	}
	for _, r := range name {
		if !allowedRune(r) {
			return ErrInvalidFilename
		}
	}
	return nil
}

// limitLength 按字节截断文件名，保留扩展名且不截断多字节字符
func limitLength(name string, maxLen int) string {
	if len(name) <= maxLen {
		return name
	}

	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	base := strings.TrimSuffix(name, ext)

	available := maxLen - len(ext)
	for len(base) > available {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}
	return base + ext
}

// maxDisplayNameBytes 原始文件名的最大保存长度
const maxDisplayNameBytes = 255

// DisplayName 整理客户端提供的原始文件名用于展示：去掉路径和控制字符并限制长度。
// 结果仍不可信，输出时需要转义。
func DisplayName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "unnamed"
	}
	return limitLength(name, maxDisplayNameBytes)
}
