package websocket

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"MediLink/pkg/errors"
	"MediLink/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	To        string      `json:"to,omitempty"`
	Group     string      `json:"group,omitempty"`
}

// Connection 表示一个医生端推送连接
type Connection struct {
	ID     string
	UserID string
	Role   string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	mu       sync.RWMutex
	lastPing time.Time
	Groups   map[string]bool

	alive     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(hub *Hub, conn *websocket.Conn, userID, role string) *Connection {
	c := &Connection{
		ID:       generateConnectionID(),
		UserID:   userID,
		Role:     role,
		Conn:     conn,
		Send:     make(chan []byte, hub.config.MessageBufferSize),
		Hub:      hub,
		lastPing: time.Now(),
		Groups:   make(map[string]bool),
		done:     make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// IsAlive 连接是否仍可写
func (c *Connection) IsAlive() bool {
	return c.alive.Load()
}

// close 只执行一次；Send 通道不关闭，写协程通过 done 退出
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.done)
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleSince(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Sub(c.lastPing)
}

// Hub 管理所有推送连接，按用户与分组索引
type Hub struct {
	connections      map[string]*Connection
	userConnections  map[string]map[string]bool
	groupConnections map[string]map[string]bool
	mu               sync.RWMutex

	broadcast  chan *Message
	register   chan *Connection
	unregister chan *Connection

	connectionCount int64
	config          *Config
	metrics         *metrics.Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// 分片降低全量广播时的锁竞争
	shardCount int
	shardConns []map[string]*Connection
	shardLocks []sync.RWMutex

	broadcastJobs chan broadcastJob
}

type broadcastJob struct {
	shard int
	data  []byte
}

// NewHub 创建新的Hub实例
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	config = CloneConfig(config)
	if config.ShardCount <= 0 {
		config.ShardCount = 1
	}
	if config.BroadcastWorkerCount <= 0 {
		config.BroadcastWorkerCount = 1
	}
	if config.MessageQueueSize <= 0 {
		config.MessageQueueSize = DefaultMessageQueueSize
	}
	if config.MessageBufferSize <= 0 {
		config.MessageBufferSize = DefaultMessageBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		connections:      make(map[string]*Connection),
		userConnections:  make(map[string]map[string]bool),
		groupConnections: make(map[string]map[string]bool),
		broadcast:        make(chan *Message, config.MessageQueueSize),
		register:         make(chan *Connection, 256),
		unregister:       make(chan *Connection, 256),
		config:           config,
		ctx:              ctx,
		cancel:           cancel,
		shardCount:       config.ShardCount,
		broadcastJobs:    make(chan broadcastJob, config.MessageQueueSize),
	}

	hub.shardConns = make([]map[string]*Connection, hub.shardCount)
	hub.shardLocks = make([]sync.RWMutex, hub.shardCount)
	for i := 0; i < hub.shardCount; i++ {
		hub.shardConns[i] = make(map[string]*Connection)
	}

	for i := 0; i < config.BroadcastWorkerCount; i++ {
		go hub.broadcastWorker()
	}

	go hub.run()
	return hub
}

// SetMetrics 绑定指标，nil 表示不采集
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.mu.Lock()
	h.metrics = m
	h.mu.Unlock()
}

// Publish 投递消息，不阻塞调用方；队列满时返回可重试错误
func (h *Hub) Publish(message *Message) error {
	if h.ctx.Err() != nil {
		return errors.WithCode(http.StatusServiceUnavailable, ErrHubClosed)
	}
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().Unix()
	}
	select {
	case h.broadcast <- message:
		return nil
	default:
		return errors.WithCode(http.StatusServiceUnavailable, ErrQueueFull)
	}
}

// PublishAlert 向所有在线医生推送新警报
func (h *Hub) PublishAlert(alert interface{}) error {
	return h.Publish(&Message{Type: MessageTypeAlert, Group: GroupDoctors, Data: alert})
}

// PublishAlertUpdate 推送警报状态或响应变更
func (h *Hub) PublishAlertUpdate(alert interface{}) error {
	return h.Publish(&Message{Type: MessageTypeAlertUpdate, Group: GroupDoctors, Data: alert})
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
			h.dispatch(message)
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

// dispatch 单次序列化后按目标分发
func (h *Hub) dispatch(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("消息序列化失败: %v", err)
		return
	}
	if m := h.getMetrics(); m != nil {
		m.RecordPushMessage(message.Type)
	}

	switch {
	case message.To != "":
		h.sendToAll(h.collect(h.userConnections, message.To), data)
	case message.Group != "":
		h.sendToAll(h.collect(h.groupConnections, message.Group), data)
	default:
		h.enqueueBroadcastAll(data)
	}
}

// collect 在读锁内取出目标连接，发送在锁外进行
func (h *Hub) collect(index map[string]map[string]bool, key string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := index[key]
	conns := make([]*Connection, 0, len(ids))
	for id := range ids {
		if conn, ok := h.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (h *Hub) sendToAll(conns []*Connection, data []byte) {
	for _, conn := range conns {
		h.trySend(conn, data)
	}
}

// registerConnection 注册连接
func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		conn.close()
		logrus.Warnf("%s: %d", ErrConnectionLimitExceeded, h.config.MaxConnections)
		return
	}

	h.connections[conn.ID] = conn
	n := atomic.AddInt64(&h.connectionCount, 1)

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

	conn.mu.RLock()
	for group := range conn.Groups {
		if h.groupConnections[group] == nil {
			h.groupConnections[group] = make(map[string]bool)
		}
		h.groupConnections[group][conn.ID] = true
	}
	conn.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.SetPushConnections(n)
	}
	logrus.Infof("推送连接已注册: %s, 用户: %s, 当前连接数: %d", conn.ID, conn.UserID, n)
}

// unregisterConnection 注销连接
func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ID]; !exists {
		conn.close()
		return
	}
	delete(h.connections, conn.ID)
	n := atomic.AddInt64(&h.connectionCount, -1)

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

	conn.mu.RLock()
	for group := range conn.Groups {
		if h.groupConnections[group] != nil {
			delete(h.groupConnections[group], conn.ID)
			if len(h.groupConnections[group]) == 0 {
				delete(h.groupConnections, group)
			}
		}
	}
	conn.mu.RUnlock()

	conn.close()
	if h.metrics != nil {
		h.metrics.SetPushConnections(n)
	}
	logrus.Infof("推送连接已注销: %s, 当前连接数: %d", conn.ID, n)
}

// checkHeartbeats 关闭超时未响应 pong 的连接，注销由读协程完成
func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		if conn.idleSince(now) > h.config.ConnectionTimeout {
			logrus.Warnf("连接 %s 心跳超时，准备关闭", conn.ID)
			conn.close()
		}
	}
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetUserConnections 获取用户的连接数
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// GetGroupConnections 获取组的连接数
func (h *Hub) GetGroupConnections(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groupConnections[group])
}

// Close 关闭Hub与全部连接，可重复调用
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.cancel()

		h.mu.Lock()
		for _, conn := range h.connections {
			conn.close()
		}
		h.mu.Unlock()

		logrus.Info("WebSocket Hub已关闭")
	})
}

func (h *Hub) getMetrics() *metrics.Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metrics
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
			logrus.Warnf("广播作业队列已满，消息被丢弃")
		}
	}
}

// broadcastWorker 广播worker
func (h *Hub) broadcastWorker() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case job := <-h.broadcastJobs:
			h.shardLocks[job.shard].RLock()
			conns := make([]*Connection, 0, len(h.shardConns[job.shard]))
			for _, conn := range h.shardConns[job.shard] {
				conns = append(conns, conn)
			}
			h.shardLocks[job.shard].RUnlock()
			h.sendToAll(conns, job.data)
		}
	}
}

// trySend 背压策略：丢弃或限时等待，超限按配置断开慢消费者
func (h *Hub) trySend(conn *Connection, data []byte) {
	if !conn.IsAlive() {
		return
	}
	if h.config.DropOnFull {
		select {
		case conn.Send <- data:
			return
		case <-conn.done:
			return
		default:
		}
	} else {
		timeout := h.config.SendTimeout
		if timeout <= 0 {
			timeout = 50 * time.Millisecond
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case conn.Send <- data:
			return
		case <-conn.done:
			return
		case <-timer.C:
		}
	}

	logrus.Warnf("连接 %s 发送缓冲区已满", conn.ID)
	if m := h.getMetrics(); m != nil {
		m.RecordPushDropped()
	}
	if h.config.CloseOnBackpressure {
		conn.close()
	}
}
