package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/storage"
)

var (
	ErrUnknownSetting      = errors.New("unknown setting")
	ErrInvalidSettingValue = errors.New("invalid setting value")
)

// SettingsCache 设置快照缓存，可以是进程内缓存或 Redis
type SettingsCache interface {
	Get(ctx context.Context) (map[string]string, bool)
	Set(ctx context.Context, values map[string]string)
	Invalidate(ctx context.Context)
}

// SettingView 设置项的展示信息
type SettingView struct {
	Name    string `json:"name"`
	Value   int    `json:"value"`   // 生效值
	Raw     string `json:"raw"`     // 数据库中的原始值，未保存时为空
	Stored  bool   `json:"stored"`  // 是否已保存到数据库
	Default int    `json:"default"`
	Desc    string `json:"desc"`
}

// SettingsService 封装设置项的读取与修改。
type SettingsService struct {
	repo  storage.SettingsRepository
	cache SettingsCache
	log   *zap.Logger
}

// NewSettingsService 创建设置服务，cache 为 nil 时每次都读取数据库。
func NewSettingsService(repo storage.SettingsRepository, cache SettingsCache, log *zap.Logger) *SettingsService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettingsService{repo: repo, cache: cache, log: log}
}

// Snapshot 返回当前设置的不可变快照。
func (s *SettingsService) Snapshot(ctx context.Context) (domain.Settings, error) {
	raw, err := s.load(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return domain.NewSettings(raw), nil
}

// List 返回所有设置项及其生效值。
func (s *SettingsService) List(ctx context.Context) ([]SettingView, error) {
	raw, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	defs := domain.SettingDefinitions()
	views := make([]SettingView, 0, len(defs))
	for _, def := range defs {
		value, ok := raw[def.Name]
		views = append(views, SettingView{
			Name:    def.Name,
			Value:   def.Parse(value, ok),
			Raw:     value,
			Stored:  ok,
			Default: def.Default,
			Desc:    def.Desc,
		})
	}
	return views, nil
}

// Set 校验并保存设置项。
func (s *SettingsService) Set(ctx context.Context, name, value string) error {
	def, ok := domain.LookupSetting(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}

	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || !def.Valid(n) {
		return fmt.Errorf("%w: %s=%q", ErrInvalidSettingValue, name, value)
	}

	if err := s.repo.SaveSetting(ctx, name, strconv.Itoa(n)); err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	s.invalidate(ctx)

	s.log.Info("setting updated", zap.String("name", name), zap.Int("value", n))
	return nil
}

// Reset 将指定设置项恢复为默认值，names 为空时恢复全部。
func (s *SettingsService) Reset(ctx context.Context, names ...string) error {
	defaults := domain.DefaultSettingValues()
	if len(names) == 0 {
		for name := range defaults {
			names = append(names, name)
		}
	}

	for _, name := range names {
		value, ok := defaults[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, name)
		}
		if err := s.repo.SaveSetting(ctx, name, value); err != nil {
			return fmt.Errorf("failed to reset setting: %w", err)
		}
	}
	s.invalidate(ctx)
	return nil
}

// Seed 写入缺失的默认设置，已有的值保持不变。
func (s *SettingsService) Seed(ctx context.Context) (int, error) {
	n, err := s.repo.SeedSettings(ctx, domain.DefaultSettingValues())
	if err != nil {
		return n, fmt.Errorf("failed to seed settings: %w", err)
	}
	if n > 0 {
		s.invalidate(ctx)
	}
	return n, nil
}

func (s *SettingsService) load(ctx context.Context) (map[string]string, error) {
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx); ok {
			return raw, nil
		}
	}

	raw, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, raw)
	}
	return raw, nil
}

func (s *SettingsService) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}
