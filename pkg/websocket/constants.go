package websocket

// WebSocket消息类型常量
const (
	// 系统消息类型
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
	MessageTypeWelcome = "welcome"
	MessageTypeError   = "error"

	// 业务消息类型：一条 alert 消息对应一条新警报
	MessageTypeAlert       = "alert"
	MessageTypeAlertUpdate = "alert_update"

	// 推送分组
	GroupDoctors = "doctors"
	GroupAdmins  = "admins"

	// 默认配置值
	DefaultMaxConnections    = 10000
	DefaultHeartbeatInterval = 30
	DefaultConnectionTimeout = 60
	DefaultMessageBufferSize = 64
	DefaultMessageQueueSize  = 1000
	DefaultReadBufferSize    = 1024
	DefaultWriteBufferSize   = 4096
	DefaultMaxMessageSize    = 512

	// 环境变量配置键
	EnvWebSocketMaxConnections      = "WEBSOCKET_MAX_CONNECTIONS"
	EnvWebSocketHeartbeatInterval   = "WEBSOCKET_HEARTBEAT_INTERVAL"
	EnvWebSocketConnectionTimeout   = "WEBSOCKET_CONNECTION_TIMEOUT"
	EnvWebSocketMessageBufferSize   = "WEBSOCKET_MESSAGE_BUFFER_SIZE"
	EnvWebSocketMessageQueueSize    = "WEBSOCKET_MESSAGE_QUEUE_SIZE"
	EnvWebSocketEnableCompression   = "WEBSOCKET_ENABLE_COMPRESSION"
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
	ErrUnauthenticated         = "未认证的用户"
	ErrQueueFull               = "推送队列已满"
	ErrHubClosed               = "推送中心已关闭"

	// 路由路径
	RouteWebSocket       = "/ws"
	RouteWebSocketStats  = "/ws/stats"
	RouteWebSocketHealth = "/ws/health"
)
