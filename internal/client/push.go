package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"MediLink/internal/models"
	"MediLink/pkg/errors"
	"MediLink/pkg/logger"
	ws "MediLink/pkg/websocket"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PushEvent 推送通道收到的一条警报
type PushEvent struct {
	Update bool
	Alert  *models.EmergencyAlert
}

type pushFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// PushSubscriber 医生端推送订阅；断线后指数退避重连，错误只记录不中断
type PushSubscriber struct {
	client     *Client
	dialer     *websocket.Dialer
	onEvent    func(PushEvent)
	onError    func(error)
	minBackoff time.Duration
	maxBackoff time.Duration

	connected atomic.Bool
	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPushSubscriber onError 可为 nil
func NewPushSubscriber(c *Client, onEvent func(PushEvent), onError func(error)) *PushSubscriber {
	return &PushSubscriber{
		client:     c,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		onEvent:    onEvent,
		onError:    onError,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// SetBackoff 调整重连间隔
func (p *PushSubscriber) SetBackoff(min, max time.Duration) {
	p.minBackoff, p.maxBackoff = min, max
}

func (p *PushSubscriber) Connected() bool { return p.connected.Load() }

// Start 后台维持连接，直到 ctx 结束或 Close
func (p *PushSubscriber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

// Close 关闭连接并等待后台协程退出
func (p *PushSubscriber) Close() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.conn != nil {
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = p.conn.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *PushSubscriber) loop(ctx context.Context) {
	backoff := p.minBackoff
	for ctx.Err() == nil {
		started := time.Now()
		err := p.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("push channel disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
			if p.onError != nil {
				p.onError(err)
			}
		}
		// 连接维持过一段时间就重置退避
		if time.Since(started) > p.maxBackoff {
			backoff = p.minBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

// session 一次连接的完整生命周期
func (p *PushSubscriber) session(ctx context.Context) error {
	target, err := p.url()
	if err != nil {
		return err
	}
	conn, resp, err := p.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return errors.FromStatus(resp.StatusCode, "push channel handshake rejected")
		}
		return errors.Transient(err, "dial push channel")
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	p.connected.Store(true)
	logger.Info("push channel connected")

	defer func() {
		p.connected.Store(false)
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return errors.Transient(err, "read push channel")
		}
		p.handle(data)
	}
}

func (p *PushSubscriber) handle(data []byte) {
	var frame pushFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Debug("push frame ignored", zap.Error(err))
		return
	}
	switch frame.Type {
	case ws.MessageTypeAlert, ws.MessageTypeAlertUpdate:
		var alert models.EmergencyAlert
		if err := json.Unmarshal(frame.Data, &alert); err != nil || alert.ID == "" {
			logger.Warn("malformed alert frame", zap.Error(err))
			return
		}
		if p.onEvent != nil {
			p.onEvent(PushEvent{Update: frame.Type == ws.MessageTypeAlertUpdate, Alert: &alert})
		}
	case ws.MessageTypeWelcome, ws.MessageTypePong:
	default:
		logger.Debug("unknown push frame", zap.String("type", frame.Type))
	}
}

// url http(s)://host -> ws(s)://host/ws?token=
func (p *PushSubscriber) url() (string, error) {
	token := p.client.Token()
	if token == "" {
		return "", errors.WithCode(http.StatusUnauthorized, "push channel requires a signed-in doctor")
	}
	u, err := url.Parse(p.client.BaseURL())
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + ws.RouteWebSocket
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
