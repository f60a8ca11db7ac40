package backup

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"BeaconRelay/pkg/config"
	"BeaconRelay/pkg/logger"
)

// Execute 根据配置执行一次数据库备份。
// 警报与轨迹数据是事故回溯的依据，备份文件按时间戳命名、只增不删
func Execute(cfg *config.Config) error {
	switch cfg.DBDriver {
	case "", "sqlite":
		dst := filepath.Join(cfg.BackupPath, fmt.Sprintf("beacon_backup_%s.db", time.Now().Format("20060102_150405")))
		return backupSQLite(cfg.DSN, dst)
	case "mysql":
		dst := filepath.Join(cfg.BackupPath, fmt.Sprintf("beacon_backup_%s.sql", time.Now().Format("20060102_150405")))
		return backupMySQL(cfg.DSN, dst)
	default:
		return fmt.Errorf("unsupported DB_DRIVER for backup: %s", cfg.DBDriver)
	}
}

// Run 给调度器用的入口：执行并记录结果
func Run(cfg *config.Config) {
	if err := Execute(cfg); err != nil {
		logger.Warn("database backup failed", zap.Error(err))
		return
	}
	logger.Info("database backup completed")
}

// backupSQLite 文件级拷贝备份
func backupSQLite(src, dst string) error {
	// SQLite的DSN可能带参数，剥掉query部分取文件路径
	if i := strings.IndexByte(src, '?'); i >= 0 {
		src = src[:i]
	}
	src = strings.TrimPrefix(src, "file:")

	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening source database: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return fmt.Errorf("error copying data: %w", err)
	}

	logger.Info("sqlite backup written", zap.String("path", dst))
	return nil
}

// backupMySQL 通过mysqldump导出
func backupMySQL(dsn, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	cmd := exec.Command("mysqldump", "--result-file="+dst, dsn)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to backup mysql database: %w", err)
	}

	logger.Info("mysql backup written", zap.String("path", dst))
	return nil
}
