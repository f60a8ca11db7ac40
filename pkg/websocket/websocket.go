package websocket

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Room      string      `json:"room,omitempty"`
}

// Connection 表示一个WebSocket连接
// UserID在认证前为空，认证后由Hub.BindUser绑定
type Connection struct {
	ID       string
	UserID   string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	LastPing time.Time
	IsAlive  bool
	mu       sync.RWMutex
	Rooms    map[string]bool

	// 消息与断开回调，由上层会话注册
	onMessage func(*Connection, []byte)
	onClose   func(*Connection)
}

// Hub 管理所有WebSocket连接
type Hub struct {
	// 注册的连接
	connections map[string]*Connection
	// 用户ID到连接ID的映射
	userConnections map[string]map[string]bool
	// 房间到连接ID的映射
	roomConnections map[string]map[string]bool
	// 广播消息通道
	broadcast chan *Message
	// 注册连接通道
	register chan *Connection
	// 注销连接通道
	unregister chan *Connection
	// 连接计数
	connectionCount int64
	// 丢弃消息计数（背压触发时累加）
	droppedCount int64
	// 配置
	config *Config
	// 互斥锁
	mu sync.RWMutex
	// 上下文
	ctx    context.Context
	cancel context.CancelFunc

	// 分片降低全量广播时的锁竞争
	shardCount int
	shardConns []map[string]*Connection
	shardLocks []sync.RWMutex

	// 广播worker池
	broadcastJobs chan broadcastJob
}

type broadcastJob struct {
	shard int
	data  []byte
}

// Config WebSocket配置
type Config struct {
	// 最大连接数
	MaxConnections int64
	// 心跳间隔
	HeartbeatInterval time.Duration
	// 连接超时时间
	ConnectionTimeout time.Duration
	// 消息缓冲区大小
	MessageBufferSize int
	// 读缓冲区大小
	ReadBufferSize int
	// 写缓冲区大小
	WriteBufferSize int
	// 最大消息大小
	MaxMessageSize int
	// 消息队列大小
	MessageQueueSize int
	// 分片数量
	ShardCount int
	// 广播worker数量
	BroadcastWorkerCount int
	// 发送缓冲区满时是否丢弃
	DropOnFull bool
	// 慢消费者策略：背压触发时直接断开
	CloseOnBackpressure bool
	// 发送阻塞超时（用于非 DropOnFull 模式）
	SendTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:       DefaultMaxConnections,
		HeartbeatInterval:    DefaultHeartbeatInterval * time.Second,
		ConnectionTimeout:    DefaultConnectionTimeout * time.Second,
		MessageBufferSize:    DefaultMessageBufferSize,
		ReadBufferSize:       DefaultReadBufferSize,
		WriteBufferSize:      DefaultWriteBufferSize,
		MaxMessageSize:       DefaultMaxMessageSize,
		MessageQueueSize:     DefaultMessageQueueSize,
		ShardCount:           16,
		BroadcastWorkerCount: 8,
		DropOnFull:           true,
		CloseOnBackpressure:  false,
		SendTimeout:          50 * time.Millisecond,
	}
}

// NewHub 创建新的Hub实例
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		connections:     make(map[string]*Connection),
		userConnections: make(map[string]map[string]bool),
		roomConnections: make(map[string]map[string]bool),
		broadcast:       make(chan *Message, config.MessageQueueSize),
		register:        make(chan *Connection, 1000),
		unregister:      make(chan *Connection, 1000),
		config:          config,
		ctx:             ctx,
		cancel:          cancel,
	}

	if hub.config.ShardCount <= 0 {
		hub.config.ShardCount = 1
	}
	hub.shardCount = hub.config.ShardCount
	hub.shardConns = make([]map[string]*Connection, hub.shardCount)
	hub.shardLocks = make([]sync.RWMutex, hub.shardCount)
	for i := 0; i < hub.shardCount; i++ {
		hub.shardConns[i] = make(map[string]*Connection)
	}

	if hub.config.BroadcastWorkerCount <= 0 {
		hub.config.BroadcastWorkerCount = 1
	}
	hub.broadcastJobs = make(chan broadcastJob, hub.config.MessageQueueSize)
	for i := 0; i < hub.config.BroadcastWorkerCount; i++ {
		go hub.broadcastWorker()
	}

	go hub.run()
	return hub
}

// run Hub主循环
func (h *Hub) run() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case message := <-h.broadcast:
			// 单次序列化减少重复开销
			if message.Timestamp == 0 {
				message.Timestamp = time.Now().Unix()
			}
			data, err := json.Marshal(message)
			if err != nil {
				logrus.Errorf("消息序列化失败: %v", err)
				continue
			}
			h.mu.RLock()
			switch {
			case message.To != "":
				h.sendToUser(message.To, data)
			case message.Room != "":
				h.sendToRoom(message.Room, data)
			default:
				h.enqueueBroadcastAll(data)
			}
			h.mu.RUnlock()
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

// Broadcast 消息入队，不阻塞调用方；队列满时丢弃并计数
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		atomic.AddInt64(&h.droppedCount, 1)
		logrus.Warnf("广播队列已满，消息被丢弃: %s", message.Type)
	}
}

// SendToUser 发送消息给某用户的所有连接
func (h *Hub) SendToUser(userID string, message *Message) {
	message.To = userID
	h.Broadcast(message)
}

// SendToRoom 发送消息给某房间的所有连接
func (h *Hub) SendToRoom(room string, message *Message) {
	message.Room = room
	h.Broadcast(message)
}

// registerConnection 注册连接
func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 检查最大连接数
	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		conn.Conn.Close()
		logrus.Warnf("达到最大连接数限制: %d", h.config.MaxConnections)
		return
	}

	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.connectionCount, 1)

	// 放入分片
	sh := h.shardIndex(conn.ID)
	h.shardLocks[sh].Lock()
	h.shardConns[sh][conn.ID] = conn
	h.shardLocks[sh].Unlock()

	if conn.UserID != "" {
		if h.userConnections[conn.UserID] == nil {
			h.userConnections[conn.UserID] = make(map[string]bool)
		}
		h.userConnections[conn.UserID][conn.ID] = true
	}

	for room := range conn.Rooms {
		if h.roomConnections[room] == nil {
			h.roomConnections[room] = make(map[string]bool)
		}
		h.roomConnections[room][conn.ID] = true
	}

	logrus.Infof("WebSocket连接已注册: %s, 当前连接数: %d",
		conn.ID, atomic.LoadInt64(&h.connectionCount))
}

// unregisterConnection 注销连接
func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()

	if _, exists := h.connections[conn.ID]; !exists {
		h.mu.Unlock()
		return
	}

	delete(h.connections, conn.ID)
	atomic.AddInt64(&h.connectionCount, -1)

	// 从分片移除
	sh := h.shardIndex(conn.ID)
	h.shardLocks[sh].Lock()
	delete(h.shardConns[sh], conn.ID)
	h.shardLocks[sh].Unlock()

	if conn.UserID != "" && h.userConnections[conn.UserID] != nil {
		delete(h.userConnections[conn.UserID], conn.ID)
		if len(h.userConnections[conn.UserID]) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}

	for room := range conn.Rooms {
		if h.roomConnections[room] != nil {
			delete(h.roomConnections[room], conn.ID)
			if len(h.roomConnections[room]) == 0 {
				delete(h.roomConnections, room)
			}
		}
	}

	close(conn.Send)
	h.mu.Unlock()

	if conn.onClose != nil {
		conn.onClose(conn)
	}

	logrus.Infof("WebSocket连接已注销: %s, 当前连接数: %d",
		conn.ID, atomic.LoadInt64(&h.connectionCount))
}

// BindUser 认证通过后把连接绑定到用户，重复认证先解绑旧用户
func (h *Hub) BindUser(conn *Connection, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.UserID != "" && h.userConnections[conn.UserID] != nil {
		delete(h.userConnections[conn.UserID], conn.ID)
		if len(h.userConnections[conn.UserID]) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}

	conn.UserID = userID
	if h.userConnections[userID] == nil {
		h.userConnections[userID] = make(map[string]bool)
	}
	h.userConnections[userID][conn.ID] = true
}

// sendToUser 调用方需持有h.mu读锁
func (h *Hub) sendToUser(userID string, data []byte) {
	if connections, exists := h.userConnections[userID]; exists {
		for connID := range connections {
			if conn, ok := h.connections[connID]; ok && conn.IsAlive {
				h.trySend(conn, data, func() { logrus.Warnf("用户 %s 的连接 %s 发送缓冲区已满", userID, connID) })
			}
		}
	}
}

// sendToRoom 调用方需持有h.mu读锁
func (h *Hub) sendToRoom(room string, data []byte) {
	if connections, exists := h.roomConnections[room]; exists {
		for connID := range connections {
			if conn, ok := h.connections[connID]; ok && conn.IsAlive {
				h.trySend(conn, data, func() { logrus.Warnf("房间 %s 的连接 %s 发送缓冲区已满", room, connID) })
			}
		}
	}
}

// checkHeartbeats 检查心跳
func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		if now.Sub(conn.LastPing) > h.config.ConnectionTimeout {
			logrus.Warnf("连接 %s 心跳超时，准备关闭", conn.ID)
			conn.IsAlive = false
			conn.Conn.Close()
		}
	}
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetDroppedCount 获取因背压丢弃的消息数
func (h *Hub) GetDroppedCount() int64 {
	return atomic.LoadInt64(&h.droppedCount)
}

// GetUserConnections 获取用户的连接数
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if connections, exists := h.userConnections[userID]; exists {
		return len(connections)
	}
	return 0
}

// GetRoomConnections 获取房间的连接数
func (h *Hub) GetRoomConnections(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if connections, exists := h.roomConnections[room]; exists {
		return len(connections)
	}
	return 0
}

// Close 关闭Hub
func (h *Hub) Close() {
	h.cancel()

	// 关闭所有连接
	h.mu.Lock()
	for _, conn := range h.connections {
		conn.Conn.Close()
	}
	h.mu.Unlock()

	logrus.Info("WebSocket Hub已关闭")
}

// shardIndex 计算分片索引
func (h *Hub) shardIndex(id string) int {
	if h.shardCount <= 1 {
		return 0
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(id))
	return int(hasher.Sum32() % uint32(h.shardCount))
}

// enqueueBroadcastAll 将广播任务按分片入队
func (h *Hub) enqueueBroadcastAll(data []byte) {
	for i := 0; i < h.shardCount; i++ {
		select {
		case h.broadcastJobs <- broadcastJob{shard: i, data: data}:
		default:
			atomic.AddInt64(&h.droppedCount, 1)
			logrus.Warnf("广播作业队列已满，消息被丢弃")
		}
	}
}

// broadcastWorker 广播worker
func (h *Hub) broadcastWorker() {
	for job := range h.broadcastJobs {
		h.shardLocks[job.shard].RLock()
		for _, conn := range h.shardConns[job.shard] {
			if conn.IsAlive {
				h.trySend(conn, job.data, func() { logrus.Debugf("连接 %s 发送缓冲区满，已按策略处理", conn.ID) })
			}
		}
		h.shardLocks[job.shard].RUnlock()
	}
}

// trySend 背压策略
func (h *Hub) trySend(conn *Connection, data []byte, onDrop func()) {
	if h.config.DropOnFull {
		select {
		case conn.Send <- data:
		default:
			atomic.AddInt64(&h.droppedCount, 1)
			onDrop()
			if h.config.CloseOnBackpressure {
				conn.Conn.Close()
			}
		}
		return
	}
	// 非丢弃模式：限定等待时长
	timeout := h.config.SendTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	select {
	case conn.Send <- data:
	case <-time.After(timeout):
		atomic.AddInt64(&h.droppedCount, 1)
		onDrop()
		if h.config.CloseOnBackpressure {
			conn.Conn.Close()
		}
	}
}
