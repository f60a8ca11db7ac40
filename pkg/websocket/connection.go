package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// newUpgrader 根据配置创建WebSocket升级器
func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			// 在生产环境中应该检查Origin
			return true
		},
	}
}

// HandleWebSocket 升级HTTP连接并注册到Hub。
// onMessage处理入站消息，onClose在连接注销后回调，两者都可为nil
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request,
	onMessage func(*Connection, []byte), onClose func(*Connection)) (*Connection, error) {
	upgrader := newUpgrader(hub.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("WebSocket升级失败: %v", err)
		return nil, err
	}

	connection := &Connection{
		ID:        generateConnectionID(),
		Conn:      conn,
		Send:      make(chan []byte, hub.config.MessageBufferSize),
		Hub:       hub,
		LastPing:  time.Now(),
		IsAlive:   true,
		Rooms:     make(map[string]bool),
		onMessage: onMessage,
		onClose:   onClose,
	}

	hub.register <- connection

	go connection.writePump()
	go connection.readPump()
	return connection, nil
}

// generateConnectionID 生成唯一的连接ID
func generateConnectionID() string {
	return fmt.Sprintf("conn_%d", time.Now().UnixNano())
}

// readPump 读取消息的协程
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(int64(c.Hub.config.MaxMessageSize))
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket读取错误: %v", err)
			}
			break
		}

		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()

		if c.onMessage != nil {
			c.onMessage(c, message)
		}
	}
}

// writePump 发送消息的协程
func (c *Connection) writePump() {
	interval := c.Hub.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// 将队列中的其他消息也一起发送
			n := len(c.Send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给当前连接，缓冲区满时返回错误
func (c *Connection) SendMessage(message *Message) error {
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return fmt.Errorf(ErrSendBufferFull)
	}
}

// JoinRoom 加入房间
func (c *Connection) JoinRoom(room string) {
	c.mu.Lock()
	c.Rooms[room] = true
	c.mu.Unlock()

	c.Hub.mu.Lock()
	if c.Hub.roomConnections[room] == nil {
		c.Hub.roomConnections[room] = make(map[string]bool)
	}
	c.Hub.roomConnections[room][c.ID] = true
	c.Hub.mu.Unlock()
}

// LeaveRoom 离开房间
func (c *Connection) LeaveRoom(room string) {
	c.mu.Lock()
	delete(c.Rooms, room)
	c.mu.Unlock()

	c.Hub.mu.Lock()
	if c.Hub.roomConnections[room] != nil {
		delete(c.Hub.roomConnections[room], c.ID)
		if len(c.Hub.roomConnections[room]) == 0 {
			delete(c.Hub.roomConnections, room)
		}
	}
	c.Hub.mu.Unlock()
}

// InRoom 检查是否在指定房间中
func (c *Connection) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rooms[room]
}

// GetRooms 获取连接所属的房间
func (c *Connection) GetRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.Rooms))
	for room := range c.Rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
