package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zhiyuan411/public-share/internal/monitoring"
)

// MonitoringMiddleware 监控中间件
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
	started time.Time
}

// NewMonitoringMiddleware 创建监控中间件
func NewMonitoringMiddleware(metrics *monitoring.Metrics) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		started: time.Now(),
	}
}

// HTTPMetrics HTTP 指标中间件
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		c.Next()

		// 未匹配路由统一归到一个标签，避免标签数量失控
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		status := c.Writer.Status()
		mm.metrics.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(status),
			time.Since(start),
			requestSize,
			int64(c.Writer.Size()),
		)

		if status == http.StatusTooManyRequests {
			mm.metrics.RecordRateLimitBlock()
		}
		mm.metrics.UpdateSystemUptime(time.Since(mm.started))
	}
}
