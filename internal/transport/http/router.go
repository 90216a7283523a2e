package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/config"
	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/health"
	"github.com/zhiyuan411/public-share/internal/middleware"
	"github.com/zhiyuan411/public-share/internal/monitoring"
	"github.com/zhiyuan411/public-share/internal/service"
	"github.com/zhiyuan411/public-share/internal/storage"
	"github.com/zhiyuan411/public-share/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	Engine       *service.Engine
	Blobs        storage.BlobStore
	WebSocketHub *websocket.Hub            // 可选
	Health       *health.HealthChecker     // 可选
	Metrics      *monitoring.Metrics       // 可选
	RateLimiter  *middleware.IPRateLimiter // 可选，nil 时写接口不限流
	Logger       *zap.Logger
}

// applyTrustedProxies 配置可信代理。列表为空或无效时不信任任何代理，
// ClientIP 始终取连接地址
func applyTrustedProxies(router *gin.Engine, proxies []string, log *zap.Logger) {
	if len(proxies) == 0 {
		_ = router.SetTrustedProxies(nil)
		return
	}
	if err := router.SetTrustedProxies(proxies); err != nil {
		log.Warn("invalid trusted proxies, proxy headers ignored",
			zap.Strings("trusted_proxies", proxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.MaxMultipartMemory = multipartMemory
	applyTrustedProxies(router, deps.Config.Server.TrustedProxies, log)

	var onPanic func()
	if deps.Metrics != nil {
		onPanic = deps.Metrics.RecordPanic
	}
	router.Use(middleware.RecoveryHandler(log, onPanic))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(middleware.NewMonitoringMiddleware(deps.Metrics).HTTPMetrics())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	allowAll := len(corsConfig.AllowOrigins) == 0
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(gincors.New(corsConfig))

	posts := NewPostHandler(deps.Engine, log)
	blobs := NewBlobHandler(deps.Blobs, log)
	writeLimit := middleware.RateLimit(deps.RateLimiter)

	// 健康检查
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// 附件下载
	router.GET("/"+domain.ImageKind.Dir+"/:filename", blobs.serve(domain.ImageKind))
	router.GET("/"+domain.FileKind.Dir+"/:filename", blobs.serve(domain.FileKind))

	v1 := router.Group("/v1")
	{
		v1.GET("/posts", posts.listPosts)
		v1.POST("/posts", writeLimit, middleware.BodySizeLimit(deps.Config.Upload.MaxBodySize), posts.createPost)
		v1.DELETE("/posts/:id", writeLimit, posts.deletePost)
		v1.GET("/settings", posts.getSettings)

		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
