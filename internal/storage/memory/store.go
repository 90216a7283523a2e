package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/zhiyuan411/public-share/internal/security"
	"github.com/zhiyuan411/public-share/internal/storage"
)

// Store 使用内存保存附件内容，主要用于开发验证和测试。
type Store struct {
	mu    sync.RWMutex
	blobs map[string]map[string][]byte // dir -> name -> content
	now   func() time.Time
}

var _ storage.BlobStore = (*Store)(nil)

// NewStore 创建内存 Blob 存储
func NewStore() *Store {
	return &Store{
		blobs: make(map[string]map[string][]byte),
		now:   time.Now,
	}
}

// Store 读取全部内容后写入，读取失败时不保留任何对象
func (s *Store) Store(ctx context.Context, dir, originalName string, r io.Reader) (string, int64, error) {
	content, err := io.ReadAll(storage.ContextReader(ctx, r))
	if err != nil {
		return "", 0, err
	}

	name := security.GenerateStoredName(originalName, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blobs[dir] == nil {
		s.blobs[dir] = make(map[string][]byte)
	}
	s.blobs[dir][name] = content
	return name, int64(len(content)), nil
}

// Delete 删除对象，对象不存在时不返回错误
func (s *Store) Delete(_ context.Context, dir, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs[dir], name)
	return nil
}

// Exists 检查对象是否存在
func (s *Store) Exists(_ context.Context, dir, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blobs[dir][name]
	return ok, nil
}

// Open 返回对象内容的只读副本
func (s *Store) Open(_ context.Context, dir, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.blobs[dir][name]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Health 内存存储始终可用
func (s *Store) Health() error {
	return nil
}

// List 返回目录下的全部对象名，按名称排序
func (s *Store) List(dir string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.blobs[dir]))
	for name := range s.blobs[dir] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count 返回全部对象数量
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, objects := range s.blobs {
		total += len(objects)
	}
	return total
}
