package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhiyuan411/public-share/internal/bootstrap"
	"github.com/zhiyuan411/public-share/internal/config"
	"github.com/zhiyuan411/public-share/internal/health"
	"github.com/zhiyuan411/public-share/internal/logger"
	"github.com/zhiyuan411/public-share/internal/middleware"
	"github.com/zhiyuan411/public-share/internal/monitoring"
	"github.com/zhiyuan411/public-share/internal/service"
	httptransport "github.com/zhiyuan411/public-share/internal/transport/http"
	"github.com/zhiyuan411/public-share/internal/websocket"
)

// version 构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

// main 启动留言板 HTTP 服务。
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run 返回前按逆序释放所有资源
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting public share server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize storage", zap.Error(err))
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer rt.Close()

	seeded, err := rt.Settings.Seed(ctx)
	if err != nil {
		log.Error("failed to seed settings", zap.Error(err))
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	if seeded > 0 {
		log.Info("default settings written", zap.Int("count", seeded))
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	healthChecker := health.NewHealthChecker(rt.Store, rt.Blobs, log)
	if rt.Redis != nil {
		healthChecker.AddPinger("redis", rt.Redis)
	}

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)
	wsHub.OnClientCount(metrics.UpdateWSClients)

	var limiter *middleware.IPRateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		defer limiter.Close()
	}

	engine := service.NewEngine(rt.Store, rt.Blobs, rt.Settings, log,
		service.WithNotifier(wsHub),
		service.WithRecorder(metrics),
		service.WithImageVerification(cfg.Upload.VerifyImages),
	)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		Engine:       engine,
		Blobs:        rt.Blobs,
		WebSocketHub: wsHub,
		Health:       healthChecker,
		Metrics:      metrics,
		RateLimiter:  limiter,
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时过期清理 goroutine
	if cfg.Sweep.Interval > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(cfg.Sweep.Interval)
			defer ticker.Stop()

			log.Info("starting expiry sweep task", zap.Duration("interval", cfg.Sweep.Interval))

			for {
				select {
				case <-groupCtx.Done():
					log.Info("sweep task stopped")
					return nil
				case <-ticker.C:
					if _, err := engine.Sweep(groupCtx); err != nil {
						log.Error("scheduled sweep failed", zap.Error(err))
					}
				}
			}
		})
	}

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("server error", zap.Error(err))
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server exited cleanly")
	return nil
}
