package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const checkTimeout = 5 * time.Second

// Pinger 可探测连通性的依赖，例如 Redis
type Pinger interface {
	Ping(ctx context.Context) error
}

// Component 需要检查的组件
type Component interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	checks map[string]healthcheck.Check
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，store 和 blobs 为就绪检查的必需组件
func NewHealthChecker(store, blobs Component, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		checks: make(map[string]healthcheck.Check),
		logger: logger,
	}

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	hc.AddReadinessCheck("database", store.Health)
	hc.AddReadinessCheck("blobs", blobs.Health)
	return hc
}

// AddReadinessCheck 添加就绪检查，超时视为失败
func (hc *HealthChecker) AddReadinessCheck(name string, check healthcheck.Check) {
	check = healthcheck.Timeout(check, checkTimeout)
	hc.checks[name] = check
	hc.health.AddReadinessCheck(name, check)
}

// AddPinger 添加基于 Ping 的就绪检查
func (hc *HealthChecker) AddPinger(name string, p Pinger) {
	hc.AddReadinessCheck(name, PingCheck(p))
}

// Handler 返回健康检查处理器，提供 /live 和 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部就绪检查并返回各组件状态
func (hc *HealthChecker) CheckHealth() map[string]string {
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	for _, name := range names {
		if err := hc.checks[name](); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = fmt.Sprintf("ERROR: %v", err)
			continue
		}
		results[name] = "OK"
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// PingCheck 将 Pinger 转换为健康检查
func PingCheck(p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		return p.Ping(ctx)
	}
}
