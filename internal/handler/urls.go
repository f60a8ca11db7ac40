package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"BeaconRelay/internal/alerts"
	"BeaconRelay/internal/location"
	"BeaconRelay/internal/realtime"
	"BeaconRelay/pkg/cache"
	"BeaconRelay/pkg/middleware"
	ws "BeaconRelay/pkg/websocket"
)

// Handlers HTTP入口：REST接口、WebSocket升级与运维端点
type Handlers struct {
	db       *gorm.DB
	store    *location.Store
	engine   *alerts.Engine
	registry *realtime.Registry
	limiter  *middleware.RateLimiter
	wsOps    *ws.Handler
	appCache cache.Cache
}

func NewHandlers(db *gorm.DB, store *location.Store, engine *alerts.Engine, registry *realtime.Registry, limiter *middleware.RateLimiter, wsOps *ws.Handler, appCache cache.Cache) *Handlers {
	return &Handlers{
		db:       db,
		store:    store,
		engine:   engine,
		registry: registry,
		limiter:  limiter,
		wsOps:    wsOps,
		appCache: appCache,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	// 运维端点不走限流
	engine.GET("/health", h.HealthCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.wsOps != nil {
		engine.GET(ws.RouteWebSocketStats, h.wsOps.GetStats)
		engine.GET(ws.RouteWebSocketHealth, h.wsOps.HealthCheck)
	}

	// 实时入口
	if h.registry != nil {
		engine.GET(ws.RouteWebSocket, h.registry.HandleConnection)
	}

	api := engine.Group("/api")
	if h.limiter != nil {
		api.Use(h.limiter.Middleware())
	}

	h.registerLocationRoutes(api)
	h.registerAlertRoutes(api)
	h.registerSystemRoutes(api)
}

func (h *Handlers) registerLocationRoutes(r *gin.RouterGroup) {
	loc := r.Group("/location")
	{
		loc.POST("/update", h.UpdateLocation)

		loc.GET("/current/:userId", h.CurrentLocation)

		loc.GET("/history/:userId", h.LocationHistory)

		loc.GET("/stats/:userId", h.LocationStats)

		loc.GET("/nearby", h.NearbyUsers)
	}
}

func (h *Handlers) registerAlertRoutes(r *gin.RouterGroup) {
	// 弱网下终端会重发紧急请求，幂等窗口拦住重复提交
	panicChain := make([]gin.HandlerFunc, 0, 2)
	if h.appCache != nil {
		panicChain = append(panicChain, middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{}, h.appCache))
	}
	panicChain = append(panicChain, h.CreatePanicAlert)
	r.POST("/alert/panic", panicChain...)

	al := r.Group("/alerts")
	// 处置动作全部落审计
	al.Use(middleware.OperatorAuditMiddleware(h.db))
	{
		al.GET("/active", h.ActiveAlerts)

		al.GET("/stats", h.AlertStats)

		al.GET("/search", h.SearchAlerts)

		al.GET("/user/:userId", h.AlertsByUser)

		al.GET("/:id", h.AlertByID)

		al.POST("/:id/acknowledge", h.AcknowledgeAlert)

		al.POST("/:id/resolve", h.ResolveAlert)

		al.POST("/:id/responding", h.MarkResponding)

		al.POST("/:id/false-alarm", h.MarkFalseAlarm)

		al.POST("/:id/assign", h.AssignOperator)

		al.POST("/:id/notes", h.AppendNotes)
	}
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("/system")
	{
		system.POST("/rate-limiter/config", h.UpdateRateLimiterConfig)
	}
}
