// Package notification 新警报提醒：按权限分发到各通道，全部不可用时退化为应用内计数
package notification

import (
	"context"
	"sync"
	"sync/atomic"

	"MediLink/pkg/logger"

	"go.uber.org/zap"
)

// Permission 通道授权状态
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Message 一条提醒
type Message struct {
	Title  string
	Body   string
	Tag    string // 推送受众标签，空表示全部
	Sound  bool
	Urgent bool
	Extras map[string]interface{}
}

// Notifier 提醒通道
type Notifier interface {
	Name() string
	Permission() Permission
	Notify(ctx context.Context, msg Message) error
}

// PermissionRequester 可以向用户申请授权的通道
type PermissionRequester interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

// Dispatcher 依次投递到已授权的通道；没有任何通道投递成功时记一次应用内提醒
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers []Notifier
	inApp     atomic.Int64
	onInApp   func(Message)
}

func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

func (d *Dispatcher) Add(n Notifier) {
	d.mu.Lock()
	d.notifiers = append(d.notifiers, n)
	d.mu.Unlock()
}

// OnInApp 退化为应用内提醒时回调
func (d *Dispatcher) OnInApp(fn func(Message)) {
	d.mu.Lock()
	d.onInApp = fn
	d.mu.Unlock()
}

// RequestPermissions 对仍是 default 的通道申请授权；拒绝不算错误
func (d *Dispatcher) RequestPermissions(ctx context.Context) {
	d.mu.RLock()
	notifiers := append([]Notifier(nil), d.notifiers...)
	d.mu.RUnlock()
	for _, n := range notifiers {
		r, ok := n.(PermissionRequester)
		if !ok || n.Permission() != PermissionDefault {
			continue
		}
		p, err := r.RequestPermission(ctx)
		if err != nil {
			logger.Debug("notification permission request failed", zap.String("notifier", n.Name()), zap.Error(err))
			continue
		}
		logger.Debug("notification permission", zap.String("notifier", n.Name()), zap.String("permission", string(p)))
	}
}

// Dispatch 返回投递成功的通道数
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) int {
	d.mu.RLock()
	notifiers := append([]Notifier(nil), d.notifiers...)
	onInApp := d.onInApp
	d.mu.RUnlock()

	delivered := 0
	for _, n := range notifiers {
		if n.Permission() != PermissionGranted {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			logger.Warn("notification failed", zap.String("notifier", n.Name()), zap.Error(err))
			continue
		}
		delivered++
	}
	if delivered == 0 {
		d.inApp.Add(1)
		if onInApp != nil {
			onInApp(msg)
		}
	}
	return delivered
}

// InApp 只能在应用内提示的提醒数
func (d *Dispatcher) InApp() int64 { return d.inApp.Load() }

func (d *Dispatcher) ResetInApp() { d.inApp.Store(0) }
