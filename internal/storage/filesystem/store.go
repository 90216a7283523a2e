package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zhiyuan411/public-share/internal/security"
	"github.com/zhiyuan411/public-share/internal/storage"
)

// Store 文件系统 Blob 存储实现
//
// 目录结构: {basePath}/{subdir}/{storedName}，subdir 由逻辑目录（pic / file）映射而来。
type Store struct {
	basePath string
	dirs     map[string]string // 逻辑目录 -> 实际子目录
	now      func() time.Time
}

var _ storage.BlobStore = (*Store)(nil)

// NewStore 创建文件系统存储实例，dirs 为 nil 时逻辑目录即实际子目录
func NewStore(basePath string, dirs map[string]string) (*Store, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	// 确保基础目录存在，子目录在首次写入时创建
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	for logical, sub := range dirs {
		if _, err := SecureJoin(absPath, sub); err != nil {
			return nil, fmt.Errorf("invalid directory for %s: %w", logical, err)
		}
	}

	return &Store{
		basePath: absPath,
		dirs:     dirs,
		now:      time.Now,
	}, nil
}

// Store 写入内容，生成唯一的存储文件名。写入失败时删除不完整的文件
func (s *Store) Store(ctx context.Context, dir, originalName string, r io.Reader) (string, int64, error) {
	dirPath, err := s.dirPath(dir)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create directory: %w", err)
	}

	name := security.GenerateStoredName(originalName, s.now())
	target, err := SecureJoin(s.basePath, filepath.Join(s.relDir(dir), name))
	if err != nil {
		return "", 0, err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file: %w", err)
	}

	written, copyErr := io.Copy(f, storage.ContextReader(ctx, r))
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(target)
		if copyErr != nil {
			return "", 0, fmt.Errorf("failed to write file: %w", copyErr)
		}
		return "", 0, fmt.Errorf("failed to close file: %w", closeErr)
	}

	return name, written, nil
}

// Delete 删除文件，文件不存在时不返回错误
func (s *Store) Delete(_ context.Context, dir, name string) error {
	path, err := s.filePath(dir, name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists 检查文件是否存在
func (s *Store) Exists(_ context.Context, dir, name string) (bool, error) {
	path, err := s.filePath(dir, name)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Open 打开文件用于读取
func (s *Store) Open(_ context.Context, dir, name string) (io.ReadCloser, error) {
	path, err := s.filePath(dir, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Health 检查存储根目录是否可用
func (s *Store) Health() error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("storage path unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path is not a directory: %s", s.basePath)
	}
	return nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

func (s *Store) relDir(dir string) string {
	if sub, ok := s.dirs[dir]; ok {
		return sub
	}
	return dir
}

func (s *Store) dirPath(dir string) (string, error) {
	if s.dirs != nil {
		if _, ok := s.dirs[dir]; !ok {
			return "", fmt.Errorf("%w: %s", storage.ErrUnknownAssetKind, dir)
		}
	}
	if err := security.ValidateStoredName(dir); err != nil {
		return "", fmt.Errorf("invalid directory %q: %w", dir, err)
	}
	return SecureJoin(s.basePath, s.relDir(dir))
}

func (s *Store) filePath(dir, name string) (string, error) {
	if _, err := s.dirPath(dir); err != nil {
		return "", err
	}
	if err := security.ValidateStoredName(name); err != nil {
		return "", err
	}
	return SecureJoin(s.basePath, filepath.Join(s.relDir(dir), name))
}
