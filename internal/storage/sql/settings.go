package sql

import (
	"context"
	"sort"

	"gorm.io/gorm/clause"

	"github.com/zhiyuan411/public-share/internal/domain"
)

// ========== Settings Repository ==========

// LoadSettings 读取全部设置项
func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	var rows []domain.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Name] = row.Value
	}
	return values, nil
}

// SaveSetting 写入设置项，已存在时覆盖
func (s *Store) SaveSetting(ctx context.Context, name, value string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&domain.Setting{Name: name, Value: value}).Error
}

// SeedSettings 写入缺失的设置项，返回新写入的数量
func (s *Store) SeedSettings(ctx context.Context, defaults map[string]string) (int, error) {
	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	sort.Strings(names)

	existing, err := s.LoadSettings(ctx)
	if err != nil {
		return 0, err
	}

	seeded := 0
	for _, name := range names {
		if _, ok := existing[name]; ok {
			continue
		}
		result := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.Setting{Name: name, Value: defaults[name]})
		if result.Error != nil {
			return seeded, result.Error
		}
		seeded += int(result.RowsAffected)
	}
	return seeded, nil
}
