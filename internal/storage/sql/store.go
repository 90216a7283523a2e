package sql

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zhiyuan411/public-share/internal/config"
	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/storage"
)

// 支持的数据库类型
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// sqliteParams 启用外键、WAL 模式和繁忙等待，提升 SQLite 并发性能
const sqliteParams = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

// Store 基于 GORM 的关系型存储实现（支持 SQLite、PostgreSQL 和 MySQL）
type Store struct {
	db         *gorm.DB
	driverName string
}

var _ storage.Store = (*Store)(nil)

// PoolOptions 连接池参数
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open 根据配置打开数据库并执行自动迁移
func Open(cfg config.DatabaseConfig) (*Store, error) {
	driverName := strings.ToLower(cfg.Type)
	if driverName == "" {
		driverName = DriverSQLite
	}

	dialector, err := dialectorFor(driverName, cfg.DSN)
	if err != nil {
		return nil, err
	}

	pool := PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if driverName == DriverSQLite {
		// SQLite 只允许单连接写入
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}

	store, err := NewStoreWithDialector(dialector, pool)
	if err != nil {
		return nil, err
	}
	store.driverName = driverName

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// dialectorFor 根据驱动类型创建 GORM dialector
func dialectorFor(driverName, dsn string) (gorm.Dialector, error) {
	switch driverName {
	case DriverSQLite:
		if dsn == "" {
			dsn = "./data/board.db"
		}
		if !strings.HasPrefix(dsn, "file:") {
			// 自动创建数据库目录
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqliteParams
		}
		return sqlite.Open(dsn), nil

	case DriverPostgres:
		connConfig, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
		connConfig.RuntimeParams["timezone"] = "UTC"
		return postgres.New(postgres.Config{Conn: stdlib.OpenDB(*connConfig)}), nil

	case DriverMySQL:
		mysqlConfig, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// created_at 比较依赖 time.Time 的正确解析
		mysqlConfig.ParseTime = true
		mysqlConfig.Loc = time.UTC
		if mysqlConfig.Params == nil {
			mysqlConfig.Params = map[string]string{}
		}
		if _, ok := mysqlConfig.Params["charset"]; !ok {
			mysqlConfig.Params["charset"] = "utf8mb4"
		}
		return mysql.Open(mysqlConfig.FormatDSN()), nil
	}

	return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", driverName)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例（不执行迁移）
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolOptions) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return &Store{db: db, driverName: dialector.Name()}, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&domain.Post{},
		&domain.Image{},
		&domain.File{},
		&domain.Setting{},
	)
}

// DriverName 返回数据库驱动类型
func (s *Store) DriverName() string {
	return s.driverName
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithinTx 在事务中执行 fn，fn 内只能使用传入的 repo
func (s *Store) WithinTx(ctx context.Context, fn func(repo storage.PostRepository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, driverName: s.driverName})
	})
}
