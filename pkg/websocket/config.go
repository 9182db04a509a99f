package websocket

import (
	"fmt"
	"time"

	"MediLink/pkg/util"
)

// Config WebSocket配置
type Config struct {
	// 最大连接数
	MaxConnections int64
	// 心跳间隔
	HeartbeatInterval time.Duration
	// 连接超时时间
	ConnectionTimeout time.Duration
	// 每个连接的发送缓冲
	MessageBufferSize int
	// Hub 投递队列大小
	MessageQueueSize int
	// 读缓冲区大小
	ReadBufferSize int
	// 写缓冲区大小
	WriteBufferSize int
	// 最大入站消息大小
	MaxMessageSize int
	// 是否启用压缩
	EnableCompression bool
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
		MessageQueueSize:     DefaultMessageQueueSize,
		ReadBufferSize:       DefaultReadBufferSize,
		WriteBufferSize:      DefaultWriteBufferSize,
		MaxMessageSize:       DefaultMaxMessageSize,
		EnableCompression:    false,
		ShardCount:           8,
		BroadcastWorkerCount: 4,
		// 警报不能静默丢弃，缓冲满时限时等待
		DropOnFull:          false,
		CloseOnBackpressure: true,
		SendTimeout:         200 * time.Millisecond,
	}
}

// LoadConfigFromEnv 从环境变量加载WebSocket配置
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if maxConnections := util.GetIntEnv(EnvWebSocketMaxConnections); maxConnections > 0 {
		config.MaxConnections = maxConnections
	}

	if heartbeatInterval := util.GetIntEnv(EnvWebSocketHeartbeatInterval); heartbeatInterval > 0 {
		config.HeartbeatInterval = time.Duration(heartbeatInterval) * time.Second
	}

	if connectionTimeout := util.GetIntEnv(EnvWebSocketConnectionTimeout); connectionTimeout > 0 {
		config.ConnectionTimeout = time.Duration(connectionTimeout) * time.Second
	}

	if messageBufferSize := util.GetIntEnv(EnvWebSocketMessageBufferSize); messageBufferSize > 0 {
		config.MessageBufferSize = int(messageBufferSize)
	}

	if messageQueueSize := util.GetIntEnv(EnvWebSocketMessageQueueSize); messageQueueSize > 0 {
		config.MessageQueueSize = int(messageQueueSize)
	}

	if shardCount := util.GetIntEnv(EnvWebSocketShardCount); shardCount > 0 {
		config.ShardCount = int(shardCount)
	}

	if workerCount := util.GetIntEnv(EnvWebSocketBroadcastWorkers); workerCount > 0 {
		config.BroadcastWorkerCount = int(workerCount)
	}

	if util.GetEnv(EnvWebSocketEnableCompression) != "" {
		config.EnableCompression = util.GetBoolEnv(EnvWebSocketEnableCompression)
	}

	if util.GetEnv(EnvWebSocketDropOnFull) != "" {
		config.DropOnFull = util.GetBoolEnv(EnvWebSocketDropOnFull)
	}

	if readBuf := util.GetIntEnv(EnvWebSocketReadBufferSize); readBuf > 0 {
		config.ReadBufferSize = int(readBuf)
	}

	if writeBuf := util.GetIntEnv(EnvWebSocketWriteBufferSize); writeBuf > 0 {
		config.WriteBufferSize = int(writeBuf)
	}

	if maxMsg := util.GetIntEnv(EnvWebSocketMaxMessageSize); maxMsg > 0 {
		config.MaxMessageSize = int(maxMsg)
	}

	if util.GetEnv(EnvWebSocketCloseOnBackpressure) != "" {
		config.CloseOnBackpressure = util.GetBoolEnv(EnvWebSocketCloseOnBackpressure)
	}

	if sendTimeoutMs := util.GetIntEnv(EnvWebSocketSendTimeoutMs); sendTimeoutMs > 0 {
		config.SendTimeout = time.Duration(sendTimeoutMs) * time.Millisecond
	}

	return config
}

// ValidateConfig 验证WebSocket配置
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("配置不能为空")
	}

	if config.MaxConnections <= 0 {
		return fmt.Errorf("最大连接数必须大于0")
	}

	if config.HeartbeatInterval <= 0 {
		return fmt.Errorf("心跳间隔必须大于0")
	}

	if config.ConnectionTimeout <= 0 {
		return fmt.Errorf("连接超时时间必须大于0")
	}

	if config.MessageBufferSize <= 0 {
		return fmt.Errorf("消息缓冲区大小必须大于0")
	}

	if config.MessageQueueSize <= 0 {
		return fmt.Errorf("消息队列大小必须大于0")
	}

	if config.ShardCount <= 0 {
		return fmt.Errorf("分片数量必须大于0")
	}

	if config.BroadcastWorkerCount <= 0 {
		return fmt.Errorf("广播worker数量必须大于0")
	}

	if config.ReadBufferSize <= 0 || config.WriteBufferSize <= 0 {
		return fmt.Errorf("读/写缓冲区大小必须大于0")
	}

	if config.MaxMessageSize <= 0 {
		return fmt.Errorf("最大消息大小必须大于0")
	}

	// 心跳间隔应该小于连接超时时间
	if config.HeartbeatInterval >= config.ConnectionTimeout {
		return fmt.Errorf("心跳间隔必须小于连接超时时间")
	}

	if config.CloseOnBackpressure && !config.DropOnFull && config.SendTimeout <= 0 {
		return fmt.Errorf("启用背压断连时必须设置 send timeout")
	}

	return nil
}

// GetConfigSummary 获取配置摘要
func GetConfigSummary(config *Config) map[string]interface{} {
	return map[string]interface{}{
		"max_connections":       config.MaxConnections,
		"heartbeat_interval":    config.HeartbeatInterval.String(),
		"connection_timeout":    config.ConnectionTimeout.String(),
		"message_buffer_size":   config.MessageBufferSize,
		"message_queue_size":    config.MessageQueueSize,
		"max_message_size":      config.MaxMessageSize,
		"enable_compression":    config.EnableCompression,
		"shard_count":           config.ShardCount,
		"broadcast_workers":     config.BroadcastWorkerCount,
		"drop_on_full":          config.DropOnFull,
		"close_on_backpressure": config.CloseOnBackpressure,
		"send_timeout":          config.SendTimeout.String(),
	}
}

// CloneConfig 克隆配置
func CloneConfig(config *Config) *Config {
	if config == nil {
		return nil
	}
	c := *config
	return &c
}
