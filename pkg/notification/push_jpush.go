package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"MediLink/pkg/errors"
)

const defaultJPushEndpoint = "https://api.jpush.cn/v3/push"

type JPushConfig struct {
	AppKey       string
	MasterSecret string
	Endpoint     string
	Timeout      time.Duration
}

// JPushClient 发送接口，便于在测试里替换
type JPushClient interface {
	Push(ctx context.Context, title, content string, audience interface{}, extras map[string]interface{}) error
}

// JPush 医生手机端推送，离线医生也能收到新警报
type JPush struct {
	cfg JPushConfig
	cli JPushClient
}

// NewJPush cli 为空时使用 REST 客户端
func NewJPush(cfg JPushConfig, cli JPushClient) *JPush {
	if cli == nil && cfg.AppKey != "" {
		cli = NewJPushHTTPClient(cfg)
	}
	return &JPush{cfg: cfg, cli: cli}
}

func (j *JPush) Name() string { return "jpush" }

// Permission 未配置凭据视为拒绝
func (j *JPush) Permission() Permission {
	if j.cli == nil {
		return PermissionDenied
	}
	return PermissionGranted
}

func (j *JPush) Notify(ctx context.Context, msg Message) error {
	if msg.Tag == "" {
		return j.PushToAll(ctx, msg.Title, msg.Body, msg.Extras)
	}
	return j.PushToTags(ctx, []string{msg.Tag}, msg.Title, msg.Body, msg.Extras)
}

func (j *JPush) PushToAlias(ctx context.Context, alias []string, title, content string, extras map[string]interface{}) error {
	if j.cli == nil {
		return errors.New("jpush client not configured")
	}
	return j.cli.Push(ctx, title, content, map[string]interface{}{"alias": alias}, extras)
}

func (j *JPush) PushToTags(ctx context.Context, tags []string, title, content string, extras map[string]interface{}) error {
	if j.cli == nil {
		return errors.New("jpush client not configured")
	}
	return j.cli.Push(ctx, title, content, map[string]interface{}{"tag": tags}, extras)
}

func (j *JPush) PushToAll(ctx context.Context, title, content string, extras map[string]interface{}) error {
	if j.cli == nil {
		return errors.New("jpush client not configured")
	}
	return j.cli.Push(ctx, title, content, "all", extras)
}

// JPushHTTPClient 极光 v3 REST 接口
type JPushHTTPClient struct {
	cfg  JPushConfig
	http *http.Client
}

func NewJPushHTTPClient(cfg JPushConfig) *JPushHTTPClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultJPushEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &JPushHTTPClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type jpushPayload struct {
	Platform     string                 `json:"platform"`
	Audience     interface{}            `json:"audience"`
	Notification map[string]interface{} `json:"notification"`
}

func (c *JPushHTTPClient) Push(ctx context.Context, title, content string, audience interface{}, extras map[string]interface{}) error {
	body, err := json.Marshal(jpushPayload{
		Platform: "all",
		Audience: audience,
		Notification: map[string]interface{}{
			"alert":   content,
			"android": map[string]interface{}{"alert": content, "title": title, "extras": extras},
			"ios":     map[string]interface{}{"alert": content, "sound": "default", "extras": extras},
		},
	})
	if err != nil {
		return errors.Wrap(err, "encode jpush payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build jpush request")
	}
	req.SetBasicAuth(c.cfg.AppKey, c.cfg.MasterSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Transient(err, "jpush request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.FromStatus(resp.StatusCode, fmt.Sprintf("jpush: %s", bytes.TrimSpace(detail)))
	}
	return nil
}
