package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"BeaconRelay/pkg/cache"
)

// IdempotencyConfig 幂等窗口配置。
// 终端在弱网下会重发紧急请求，靠幂等键在窗口内拦住重复提交
type IdempotencyConfig struct {
	HeaderName string        // 幂等键请求头，默认 Idempotency-Key
	TTL        time.Duration // 重复请求的拒绝窗口
}

// IdempotencyMiddleware 基于缓存的幂等拦截。
// 无显式幂等键时退化为请求体哈希
func IdempotencyMiddleware(cfg IdempotencyConfig, store cache.Cache) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			// 兜底以请求体哈希作为幂等键
			b, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(strings.NewReader(string(b)))
			h := sha256.Sum256(b)
			key = hex.EncodeToString(h[:])
		}
		key = "idem:" + c.FullPath() + ":" + key

		ctx := c.Request.Context()
		if store.Exists(ctx, key) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		_ = store.Set(ctx, key, time.Now().UnixMilli(), cfg.TTL)

		c.Next()
	}
}
