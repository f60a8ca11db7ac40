package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"BeaconRelay/internal/alerts"
	handlers "BeaconRelay/internal/handler"
	"BeaconRelay/internal/location"
	"BeaconRelay/internal/models"
	"BeaconRelay/internal/realtime"
	"BeaconRelay/pkg/backup"
	"BeaconRelay/pkg/cache"
	"BeaconRelay/pkg/config"
	"BeaconRelay/pkg/database"
	"BeaconRelay/pkg/geocode"
	"BeaconRelay/pkg/logger"
	"BeaconRelay/pkg/metrics"
	"BeaconRelay/pkg/middleware"
	"BeaconRelay/pkg/notification"
	"BeaconRelay/pkg/scheduler"
	ws "BeaconRelay/pkg/websocket"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.GlobalConfig

	logger.Init(cfg.Log)
	defer logger.Sync()

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 数据库
	db, err := database.Open(cfg.DBDriver, cfg.DSN, database.DefaultPoolConfig())
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	gateway := database.NewGateway(db)
	defer gateway.Close()

	if err := db.AutoMigrate(
		&models.Alert{},
		&models.CurrentLocation{},
		&models.LocationHistory{},
		&middleware.OperatorAudit{},
	); err != nil {
		logger.Error("failed to migrate schema", zap.Error(err))
		os.Exit(1)
	}

	// 缓存
	appCache, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Error("failed to init cache", zap.Error(err))
		os.Exit(1)
	}
	defer appCache.Close()

	// 逆地理编码，带缓存层
	resolver := geocode.NewCached(
		geocode.NewGoogle(geocode.GoogleConfig{APIKey: cfg.GeocodeAPIKey}),
		appCache,
		cfg.GeocodeCacheTTL,
	)

	// 升级通报
	var escalator notification.Escalator
	if wh := notification.NewWebhookEscalator(notification.WebhookConfig{URL: cfg.EscalationURL}); wh != nil {
		escalator = wh
	}
	dispatcher := notification.NewDispatcher(escalator, cfg.EscalationQueueSize, logger.L())
	defer dispatcher.Close()

	m := metrics.NewMetrics()
	dispatcher.SetObserver(m.IncEscalation)

	store := location.NewStore(db, resolver, logger.L())
	engine := alerts.NewEngine(db, resolver, dispatcher, logger.L())

	// 实时链路
	wsCfg := ws.LoadConfigFromEnv()
	wsCfg.HeartbeatInterval = cfg.HeartbeatInterval
	wsCfg.MaxConnections = cfg.MaxConnections
	if err := ws.ValidateConfig(wsCfg); err != nil {
		logger.Error("invalid websocket config", zap.Error(err))
		os.Exit(1)
	}
	hub := ws.NewHub(wsCfg)
	defer hub.Close()

	registry := realtime.NewRegistry(hub, store, engine, nil, logger.L(), m)
	registry.StartHeartbeat(cfg.HeartbeatInterval)
	defer registry.Stop()

	// 限流
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       cfg.RateLimit,
		Identifier: "ip",
		AddHeaders: true,
		SkipPaths:  []string{"/health", "/metrics", "/ws"},
	}, nil).WithObserver(middleware.NewPrometheusObserver())

	// 轨迹定期清理
	cr := scheduler.NewCron(nil)
	if _, err := cr.AddWithCtx(cfg.PurgeSchedule, func(ctx context.Context) {
		rows, err := store.PurgeOlderThan(ctx, cfg.LocationRetentionDays)
		if err != nil {
			logger.Error("history purge failed", zap.Error(err))
			return
		}
		m.AddPurgedHistory(rows)
		if rows > 0 {
			logger.Info("purged location history", zap.Int64("rows", rows))
		}
	}); err != nil {
		logger.Error("invalid purge schedule", zap.Error(err))
		os.Exit(1)
	}
	// 数据库定期备份
	if cfg.BackupPath != "" {
		if _, err := cr.AddWithCtx(cfg.BackupSchedule, func(ctx context.Context) {
			backup.Run(cfg)
		}); err != nil {
			logger.Error("invalid backup schedule", zap.Error(err))
			os.Exit(1)
		}
	}
	cr.Start()
	defer cr.Stop()

	// 数据库健康探测
	probe := scheduler.New()
	probe.Every(5*time.Minute, scheduler.FuncJob(func(ctx context.Context) {
		if err := gateway.HealthCheck(ctx); err != nil {
			logger.Error("database health check failed", zap.Error(err))
		}
	}))
	defer probe.Stop()

	// HTTP
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogMiddleware(), metrics.Middleware(m))

	h := handlers.NewHandlers(db, store, engine, registry, limiter, ws.NewHandler(hub), appCache)
	h.Register(r)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
