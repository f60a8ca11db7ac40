package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"BeaconRelay/internal/alerts"
	"BeaconRelay/internal/location"
	"BeaconRelay/pkg/metrics"
	"BeaconRelay/pkg/scheduler"
	ws "BeaconRelay/pkg/websocket"
)

// 会话角色
const (
	RoleUser     = "user"
	RoleOperator = "operator"
)

// OperatorsRoom 所有接警员共享的房间
const OperatorsRoom = "operators"

// UserRoom 用户私有房间，定向推送只进这里
func UserRoom(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// Authenticator 校验会话凭证，返回会话角色。
// userType是客户端声明的角色，实现方负责裁定
type Authenticator func(ctx context.Context, userID uint, token, userType string) (string, error)

// AllowAll 开发环境用的宽松校验：非零用户加非空token即通过，角色取声明值
func AllowAll(ctx context.Context, userID uint, token, userType string) (string, error) {
	if userID == 0 {
		return "", fmt.Errorf("missing user id")
	}
	if token == "" {
		return "", fmt.Errorf("missing token")
	}
	if userType == RoleOperator {
		return RoleOperator, nil
	}
	return RoleUser, nil
}

// Session 一条已认证的WebSocket会话
type Session struct {
	Conn     *ws.Connection
	UserID   uint
	Role     string
	AuthedAt time.Time
}

// IsOperator 是否接警员会话
func (s *Session) IsOperator() bool {
	return s.Role == RoleOperator
}

// Registry 实时会话注册表：认证、房间编排、事件分发与心跳。
// 房间成员关系只由持有连接的会话自己修改
type Registry struct {
	hub    *ws.Hub
	store  *location.Store
	engine *alerts.Engine
	auth   Authenticator
	logger *zap.Logger
	m      *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session // 连接ID -> 会话

	heartbeat   *scheduler.Scheduler
	opTimeout   time.Duration
	lastDropped int64
}

// NewRegistry 创建会话注册表
func NewRegistry(hub *ws.Hub, store *location.Store, engine *alerts.Engine, auth Authenticator, logger *zap.Logger, m *metrics.Metrics) *Registry {
	if auth == nil {
		auth = AllowAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		hub:       hub,
		store:     store,
		engine:    engine,
		auth:      auth,
		logger:    logger,
		m:         m,
		sessions:  make(map[string]*Session),
		opTimeout: 10 * time.Second,
	}
}

// HandleConnection 处理WebSocket升级请求，gin路由入口
func (r *Registry) HandleConnection(c *gin.Context) {
	_, err := ws.HandleWebSocket(r.hub, c.Writer, c.Request, r.onMessage, r.onClose)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", zap.Error(err))
	}
}

// StartHeartbeat 周期性向所有连接广播心跳与在线统计
func (r *Registry) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r.heartbeat = scheduler.New()
	r.heartbeat.Every(interval, scheduler.FuncJob(func(ctx context.Context) {
		users, operators := r.connectedCounts()
		r.hub.Broadcast(&ws.Message{
			Type: ws.MessageTypeHeartbeat,
			Data: gin.H{
				"timestamp":          time.Now().UnixMilli(),
				"connectedUsers":     users,
				"connectedOperators": operators,
			},
		})
		if r.m != nil {
			r.m.SetConnectedSessions(users + operators)
			// 背压丢弃只上报增量
			dropped := r.hub.GetDroppedCount()
			if delta := dropped - r.lastDropped; delta > 0 {
				r.m.IncDroppedMessages(delta)
				r.lastDropped = dropped
			}
		}
	}))
}

// Stop 停止心跳调度
func (r *Registry) Stop() {
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
}

// SessionCount 已认证会话数
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// connectedCounts 按角色统计已认证会话
func (r *Registry) connectedCounts() (users, operators int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.IsOperator() {
			operators++
		} else {
			users++
		}
	}
	return users, operators
}

// session 查找连接对应的已认证会话
func (r *Registry) session(conn *ws.Connection) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[conn.ID]
}

// putSession 登记已认证会话，重复认证覆盖旧会话
func (r *Registry) putSession(sess *Session) {
	r.mu.Lock()
	r.sessions[sess.Conn.ID] = sess
	r.mu.Unlock()
}

// onClose 连接断开时清理会话
func (r *Registry) onClose(conn *ws.Connection) {
	r.mu.Lock()
	sess, ok := r.sessions[conn.ID]
	delete(r.sessions, conn.ID)
	r.mu.Unlock()

	if ok {
		r.logger.Info("session disconnected",
			zap.String("conn_id", conn.ID),
			zap.Uint("user_id", sess.UserID),
			zap.String("role", sess.Role))
	}
}

// opContext 每次业务操作的独立超时上下文
func (r *Registry) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.opTimeout)
}
