package util

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// LoadEnv 根据环境名加载 .env 文件（如 .env.development）
// 已存在的环境变量不会被覆盖
func LoadEnv(env string) error {
	filename := ".env"
	if env != "" {
		filename = ".env." + env
	}

	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// GetEnv 获取字符串环境变量
func GetEnv(key string, def ...string) string {
	v := os.Getenv(key)
	if v == "" && len(def) > 0 {
		return def[0]
	}
	return v
}

// GetIntEnv 获取整数环境变量，非法值返回默认值
func GetIntEnv(key string, def ...int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		if len(def) > 0 {
			return def[0]
		}
		return 0
	}
	return cast.ToInt64(v)
}

// GetBoolEnv 获取布尔环境变量
func GetBoolEnv(key string) bool {
	return cast.ToBool(os.Getenv(key))
}

// GetDurationEnv 获取时间间隔环境变量（如 "30s"、"5m"）
func GetDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d := cast.ToDuration(v)
	if d <= 0 {
		return def
	}
	return d
}
