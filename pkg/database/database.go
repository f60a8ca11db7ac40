package database

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig 默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// Open 按驱动打开数据库并应用连接池配置
func Open(driver, dsn string, pool PoolConfig) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	db, err := createDatabaseInstance(cfg, driver, dsn)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
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
	return db, nil
}

func createDatabaseInstance(cfg *gorm.Config, driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "pg":
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	if dsn == "" {
		dsn = "file::memory:"
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}

// Gateway 持久层网关：单语句执行、事务与健康检查，不含业务逻辑
type Gateway struct {
	db *gorm.DB
}

// NewGateway 创建网关
func NewGateway(db *gorm.DB) *Gateway {
	return &Gateway{db: db}
}

// DB 返回底层gorm实例
func (g *Gateway) DB() *gorm.DB { return g.db }

// Execute 执行写语句，返回受影响行数
func (g *Gateway) Execute(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	result := g.db.WithContext(ctx).Exec(sql, args...)
	return result.RowsAffected, result.Error
}

// Query 执行读语句并扫描到dest
func (g *Gateway) Query(ctx context.Context, dest interface{}, sql string, args ...interface{}) error {
	return g.db.WithContext(ctx).Raw(sql, args...).Scan(dest).Error
}

// Transaction 在一个连接内执行fn：成功提交，出错回滚，连接必定归还
func (g *Gateway) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

// HealthCheck 检查存活，不改变任何状态
func (g *Gateway) HealthCheck(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接池
func (g *Gateway) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
