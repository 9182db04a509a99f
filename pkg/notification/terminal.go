package notification

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Terminal 控制台通道，响铃代替提示音
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	sound bool
	perm  Permission
}

func NewTerminal(w io.Writer, sound bool) *Terminal {
	return &Terminal{w: w, sound: sound, perm: PermissionDefault}
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Permission() Permission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perm
}

// RequestPermission 有输出目标即授权
func (t *Terminal) RequestPermission(ctx context.Context) (Permission, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		t.perm = PermissionDenied
	} else {
		t.perm = PermissionGranted
	}
	return t.perm, nil
}

// Deny 用户关闭桌面提醒
func (t *Terminal) Deny() {
	t.mu.Lock()
	t.perm = PermissionDenied
	t.mu.Unlock()
}

func (t *Terminal) Notify(ctx context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sound && msg.Sound {
		if _, err := io.WriteString(t.w, "\a"); err != nil {
			return err
		}
	}
	prefix := "*"
	if msg.Urgent {
		prefix = "!!"
	}
	_, err := fmt.Fprintf(t.w, "%s %s: %s\n", prefix, msg.Title, msg.Body)
	return err
}
