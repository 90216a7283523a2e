package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhiyuan411/public-share/internal/domain"
)

const namespace = "pubshare"

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 帖子指标
	PostsCreated prometheus.Counter
	PostsDeleted prometheus.Counter

	// 附件指标
	AssetsStored  *prometheus.CounterVec
	AssetsSkipped *prometheus.CounterVec
	AssetSize     *prometheus.HistogramVec

	// 清理指标
	SweepRuns      prometheus.Counter
	SweepDuration  prometheus.Histogram
	SweepReclaimed *prometheus.CounterVec
	BlobFailures   prometheus.Counter

	// 系统指标
	SystemUptime prometheus.Gauge
	WSClients    prometheus.Gauge

	// 错误指标
	PanicsTotal     prometheus.Counter
	RateLimitBlocks prometheus.Counter
}

// NewMetrics 创建监控指标并注册到独立的注册表
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		PostsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_created_total",
			Help:      "Total number of posts created",
		}),

		PostsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_deleted_total",
			Help:      "Total number of posts deleted on request",
		}),

		AssetsStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assets_stored_total",
				Help:      "Total number of stored attachments",
			},
			[]string{"kind"},
		),

		AssetsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assets_skipped_total",
				Help:      "Total number of attachments skipped during ingestion",
			},
			[]string{"kind", "reason"},
		),

		AssetSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "asset_size_bytes",
				Help:      "Stored attachment size in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 20),
			},
			[]string{"kind"},
		),

		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Total number of expiry sweeps",
		}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Expiry sweep duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),

		SweepReclaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_reclaimed_total",
				Help:      "Total number of items reclaimed by sweeps",
			},
			[]string{"type"},
		),

		BlobFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_blob_failures_total",
			Help:      "Total number of blob deletions that failed during sweeps",
		}),

		SystemUptime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_uptime_seconds",
			Help:      "System uptime in seconds",
		}),

		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket clients",
		}),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_total",
			Help:      "Total number of recovered panics",
		}),

		RateLimitBlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_blocks_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordPostCreated 记录帖子创建
func (m *Metrics) RecordPostCreated() {
	m.PostsCreated.Inc()
}

// RecordPostDeleted 记录帖子删除
func (m *Metrics) RecordPostDeleted() {
	m.PostsDeleted.Inc()
}

// RecordAssetStored 记录附件入库
func (m *Metrics) RecordAssetStored(kind string, size int64) {
	m.AssetsStored.WithLabelValues(kind).Inc()
	m.AssetSize.WithLabelValues(kind).Observe(float64(size))
}

// RecordAssetSkipped 记录被跳过的附件
func (m *Metrics) RecordAssetSkipped(kind, reason string) {
	m.AssetsSkipped.WithLabelValues(kind, reason).Inc()
}

// RecordSweep 记录一次清理
func (m *Metrics) RecordSweep(report domain.SweepReport, duration time.Duration) {
	m.SweepRuns.Inc()
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepReclaimed.WithLabelValues("text").Add(float64(report.TextsCleared))
	m.SweepReclaimed.WithLabelValues("image").Add(float64(report.ImagesDeleted))
	m.SweepReclaimed.WithLabelValues("file").Add(float64(report.FilesDeleted))
	m.SweepReclaimed.WithLabelValues("orphan").Add(float64(report.OrphansDeleted))
	m.BlobFailures.Add(float64(report.BlobFailures))
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock() {
	m.RateLimitBlocks.Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateWSClients 更新 WebSocket 连接数
func (m *Metrics) UpdateWSClients(count int) {
	m.WSClients.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
