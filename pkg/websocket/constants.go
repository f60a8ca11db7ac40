package websocket

// WebSocket消息类型常量
const (
	// 客户端 -> 服务端
	MessageTypeAuthenticate     = "authenticate"
	MessageTypeLocationFix      = "location_fix"
	MessageTypePanicAlert       = "panic_alert"
	MessageTypeAcknowledgeAlert = "acknowledge_alert"
	MessageTypeResolveAlert     = "resolve_alert"
	MessageTypeRequestLocation  = "request_user_location"

	// 服务端 -> 客户端
	MessageTypeAuthenticated       = "authenticated"
	MessageTypeAuthError           = "auth_error"
	MessageTypeLocationUpdated     = "location_updated"
	MessageTypeLocationError       = "location_error"
	MessageTypeAlertCreated        = "alert_created"
	MessageTypeAlertError          = "alert_error"
	MessageTypeNewPanicAlert       = "new_panic_alert"
	MessageTypeAlertAcknowledged   = "alert_acknowledged"
	MessageTypeAlertResolved       = "alert_resolved"
	MessageTypeUserLocationUpdated = "user_location_updated"
	MessageTypeUserLocation        = "user_location"
	MessageTypeActiveAlerts        = "active_alerts"
	MessageTypeHeartbeat           = "heartbeat"
	MessageTypeError               = "error"

	// 默认配置值
	DefaultMaxConnections    = 100000
	DefaultHeartbeatInterval = 30
	DefaultConnectionTimeout = 60
	DefaultMessageBufferSize = 256
	DefaultMessageQueueSize  = 1000
	DefaultReadBufferSize    = 1024
	DefaultWriteBufferSize   = 1024
	DefaultMaxMessageSize    = 4096

	// 环境变量配置键
	EnvWebSocketMaxConnections      = "WEBSOCKET_MAX_CONNECTIONS"
	EnvWebSocketHeartbeatInterval   = "WEBSOCKET_HEARTBEAT_INTERVAL"
	EnvWebSocketConnectionTimeout   = "WEBSOCKET_CONNECTION_TIMEOUT"
	EnvWebSocketMessageBufferSize   = "WEBSOCKET_MESSAGE_BUFFER_SIZE"
	EnvWebSocketMessageQueueSize    = "WEBSOCKET_MESSAGE_QUEUE_SIZE"
	EnvWebSocketShardCount          = "WEBSOCKET_SHARD_COUNT"
	EnvWebSocketBroadcastWorkers    = "WEBSOCKET_BROADCAST_WORKERS"
	EnvWebSocketDropOnFull          = "WEBSOCKET_DROP_ON_FULL"
	EnvWebSocketReadBufferSize      = "WEBSOCKET_READ_BUFFER_SIZE"
	EnvWebSocketWriteBufferSize     = "WEBSOCKET_WRITE_BUFFER_SIZE"
	EnvWebSocketMaxMessageSize      = "WEBSOCKET_MAX_MESSAGE_SIZE"
	EnvWebSocketCloseOnBackpressure = "WEBSOCKET_CLOSE_ON_BACKPRESSURE"
	EnvWebSocketSendTimeoutMs       = "WEBSOCKET_SEND_TIMEOUT_MS"

	// 错误消息
	ErrConnectionLimitExceeded = "连接数已达到上限"
	ErrInvalidMessageType      = "无效的消息类型"
	ErrInvalidMessageData      = "无效的消息数据"
	ErrConnectionClosed        = "连接已关闭"
	ErrSendBufferFull          = "发送缓冲区已满"

	// 路由路径
	RouteWebSocket       = "/ws"
	RouteWebSocketStats  = "/ws/stats"
	RouteWebSocketHealth = "/ws/health"
)
