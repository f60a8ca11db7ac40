package middleware

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"BeaconRelay/pkg/logger"
)

// OperatorAudit 接警员操作审计。警报处置动作必须可回溯，
// 与警报本身一样只追加、永不删除
type OperatorAudit struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OperatorID uint      `gorm:"index" json:"operatorId"`
	AlertID    string    `gorm:"index;size:36" json:"alertId"`
	Action     string    `gorm:"size:40" json:"action"` // 路由最后一段：acknowledge/resolve/...
	Method     string    `gorm:"size:10" json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	IPAddress  string    `gorm:"size:45" json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// OperatorAuditMiddleware 记录警报处置类写操作。
// 审计失败只记日志，不阻断处置动作
func OperatorAuditMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "GET" {
			c.Next()
			return
		}

		// 从请求体里提取operatorId，读完要还回去
		var operatorID uint
		if c.Request.Body != nil {
			b, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(strings.NewReader(string(b)))
			var probe struct {
				OperatorID uint `json:"operatorId"`
			}
			_ = json.Unmarshal(b, &probe)
			operatorID = probe.OperatorID
		}

		c.Next()

		path := c.FullPath()
		entry := OperatorAudit{
			OperatorID: operatorID,
			AlertID:    c.Param("id"),
			Action:     path[strings.LastIndexByte(path, '/')+1:],
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Status:     c.Writer.Status(),
			IPAddress:  c.ClientIP(),
			UserAgent:  c.GetHeader("User-Agent"),
		}
		if err := db.Create(&entry).Error; err != nil {
			logger.Warn("failed to record operator audit",
				zap.String("path", entry.Path),
				zap.Error(err))
		}
	}
}
