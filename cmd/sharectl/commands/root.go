// Package commands 实现 sharectl 运维命令行。
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/bootstrap"
	"github.com/zhiyuan411/public-share/internal/config"
	"github.com/zhiyuan411/public-share/internal/logger"
)

// version 构建时通过 -ldflags 注入
var version = "dev"

// options 全局参数
type options struct {
	dbType     string
	dsn        string
	verbose    bool
	jsonOutput bool
}

// NewRootCommand 创建 sharectl 根命令
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "sharectl",
		Short: "Public share board administration tool",
		Long: `sharectl manages the database behind the public share board.

Configuration is read from PUBSHARE_* environment variables and .env files,
the same way the server reads it. --db-type and --dsn override the database section.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.dbType, "db-type", "", "Database type override (sqlite, postgres, mysql)")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "Database DSN override")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	root.AddCommand(
		newMigrateCommand(opts),
		newSettingsCommand(opts),
		newSweepCommand(opts),
	)
	return root
}

// Execute 运行根命令
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open 加载配置并初始化存储
func (o *options) open(ctx context.Context) (*bootstrap.Runtime, *config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.dbType != "" {
		cfg.Database.Type = o.dbType
	}
	if o.dsn != "" {
		cfg.Database.DSN = o.dsn
	}

	logCfg := cfg.Log
	logCfg.File = ""
	if o.verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "warn"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return rt, cfg, log, nil
}

func (o *options) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
