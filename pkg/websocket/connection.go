package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

// newUpgrader 根据配置创建WebSocket升级器
func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		// 身份由 token 校验，跨源由网关控制
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: cfg.EnableCompression,
	}
}

// HandleWebSocket 升级连接并加入 Hub；groups 为连接初始所属分组
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID, role string, groups ...string) {
	if hub.ctx.Err() != nil {
		http.Error(w, ErrHubClosed, http.StatusServiceUnavailable)
		return
	}

	upgrader := newUpgrader(hub.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("WebSocket升级失败: %v", err)
		return
	}
	if hub.config.EnableCompression {
		conn.EnableWriteCompression(true)
	}

	connection := newConnection(hub, conn, userID, role)
	for _, g := range groups {
		connection.Groups[g] = true
	}

	// 欢迎消息先入缓冲，写协程启动后立即发出
	_ = connection.SendMessage(&Message{
		Type:      MessageTypeWelcome,
		Data:      map[string]string{"connection_id": connection.ID, "user_id": userID},
		Timestamp: time.Now().Unix(),
	})

	select {
	case hub.register <- connection:
	case <-hub.ctx.Done():
		connection.close()
		return
	}

	go connection.writePump()
	go connection.readPump()
}

// generateConnectionID 生成唯一的连接ID
func generateConnectionID() string {
	return "conn_" + uuid.NewString()
}

// readPump 读取消息的协程；医生端只发送心跳
func (c *Connection) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.ctx.Done():
		}
		c.close()
	}()

	c.Conn.SetReadLimit(int64(c.Hub.config.MaxMessageSize))
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket读取错误: %v", err)
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
		c.handleMessage(message)
	}
}

// writePump 发送消息的协程，每条消息一个文本帧
func (c *Connection) writePump() {
	interval := c.Hub.config.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval * time.Second
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		logrus.Debugf("消息解析失败: %v", err)
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.touch()
		_ = c.SendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now().Unix()})
	default:
		logrus.Warnf("未知的消息类型: %s", msg.Type)
	}
}

// SendMessage 发送消息给当前连接
func (c *Connection) SendMessage(message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return fmt.Errorf("连接 %s 发送缓冲区已满", c.ID)
	}
}

// JoinGroup 加入组
func (c *Connection) JoinGroup(groupName string) {
	c.mu.Lock()
	c.Groups[groupName] = true
	c.mu.Unlock()

	c.Hub.mu.Lock()
	if _, registered := c.Hub.connections[c.ID]; registered {
		if c.Hub.groupConnections[groupName] == nil {
			c.Hub.groupConnections[groupName] = make(map[string]bool)
		}
		c.Hub.groupConnections[groupName][c.ID] = true
	}
	c.Hub.mu.Unlock()
}

// LeaveGroup 离开组
func (c *Connection) LeaveGroup(groupName string) {
	c.mu.Lock()
	delete(c.Groups, groupName)
	c.mu.Unlock()

	c.Hub.mu.Lock()
	if c.Hub.groupConnections[groupName] != nil {
		delete(c.Hub.groupConnections[groupName], c.ID)
		if len(c.Hub.groupConnections[groupName]) == 0 {
			delete(c.Hub.groupConnections, groupName)
		}
	}
	c.Hub.mu.Unlock()
}

// IsInGroup 检查是否在指定组中
func (c *Connection) IsInGroup(groupName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Groups[groupName]
}
