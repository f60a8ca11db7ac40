package config

import (
	"log"
	"os"
	"time"

	"BeaconRelay/pkg/cache"
	"BeaconRelay/pkg/logger"
	"BeaconRelay/pkg/util"
)

// config/config.go
type Config struct {
	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`
	Log      logger.LogConfig
	Cache    cache.Config
	Addr     string `env:"ADDR"`
	Mode     string `env:"MODE"`

	// 实时连接
	HeartbeatInterval time.Duration `env:"WS_HEARTBEAT_INTERVAL"`
	MaxConnections    int64         `env:"WS_MAX_CONNECTIONS"`

	// 地址解析（逆地理编码）
	GeocodeAPIKey   string        `env:"GEOCODE_API_KEY"`
	GeocodeCacheTTL time.Duration `env:"GEOCODE_CACHE_TTL"`

	// 升级通报（下游回调）
	EscalationURL       string `env:"ESCALATION_URL"`
	EscalationQueueSize int    `env:"ESCALATION_QUEUE_SIZE"`

	// 位置历史保留天数
	LocationRetentionDays int    `env:"LOCATION_RETENTION_DAYS"`
	PurgeSchedule         string `env:"PURGE_SCHEDULE"`

	// 限流
	RateLimit string `env:"RATE_LIMIT"`

	// 数据库备份；BackupPath为空时不启用
	BackupPath     string `env:"BACKUP_PATH"`
	BackupSchedule string `env:"BACKUP_SCHEDULE"`
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)
	if err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		DBDriver: util.GetEnv("DB_DRIVER"),
		DSN:      util.GetEnv("DSN"),
		Addr:     util.GetEnv("ADDR", ":3001"),
		Mode:     util.GetEnv("MODE"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Cache: cache.Config{
			Type: util.GetEnv("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:     util.GetEnv("REDIS_ADDR", "localhost:6379"),
				Password: util.GetEnv("REDIS_PASSWORD"),
				DB:       int(util.GetIntEnv("REDIS_DB")),
				PoolSize: int(util.GetIntEnv("REDIS_POOL_SIZE", 10)),
			},
			Local: cache.LocalConfig{
				DefaultExpiration: util.GetDurationEnv("LOCAL_CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
				CleanupInterval:   util.GetDurationEnv("LOCAL_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},
		HeartbeatInterval:     util.GetDurationEnv("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		MaxConnections:        util.GetIntEnv("WS_MAX_CONNECTIONS", 100000),
		GeocodeAPIKey:         util.GetEnv("GEOCODE_API_KEY"),
		GeocodeCacheTTL:       util.GetDurationEnv("GEOCODE_CACHE_TTL", time.Hour),
		EscalationURL:         util.GetEnv("ESCALATION_URL"),
		EscalationQueueSize:   int(util.GetIntEnv("ESCALATION_QUEUE_SIZE", 256)),
		LocationRetentionDays: int(util.GetIntEnv("LOCATION_RETENTION_DAYS", 30)),
		PurgeSchedule:         util.GetEnv("PURGE_SCHEDULE", "0 * * * *"),
		RateLimit:             util.GetEnv("RATE_LIMIT", "300-M"),
		BackupPath:            util.GetEnv("BACKUP_PATH"),
		BackupSchedule:        util.GetEnv("BACKUP_SCHEDULE", "0 3 * * *"),
	}
	return nil
}
