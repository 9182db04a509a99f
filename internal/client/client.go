package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"MediLink/internal/hospital"
	"MediLink/internal/models"
	"MediLink/pkg/config"
	"MediLink/pkg/constant"
	"MediLink/pkg/errors"
	"MediLink/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 错误上下文键
const (
	CtxRetryAfter = "retry_after"
	CtxRemaining  = "remaining"
)

// API 客户端访问服务端的全部接口；feed、trigger、responder 只依赖这个接口
type API interface {
	SubmitAlert(ctx context.Context, sub *models.AlertSubmission, idemKey string) (*models.EmergencyAlert, error)
	ListAlerts(ctx context.Context, params ListParams) ([]models.EmergencyAlert, error)
	GetAlert(ctx context.Context, id string) (*models.EmergencyAlert, error)
	RespondToAlert(ctx context.Context, id string, req *models.RespondRequest, idemKey string) (*models.EmergencyAlert, error)
	MarkAlertRead(ctx context.Context, id string) error
	UnreadCount(ctx context.Context) (int64, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*models.User, error)
	SearchHospitals(ctx context.Context, q HospitalQuery) ([]hospital.Result, error)
}

// ListParams 列表查询；Lat/Lng 都有时服务端计算距离
type ListParams struct {
	Lat, Lng *float64
	Statuses []models.AlertStatus
	Limit    int
}

// HospitalQuery 医院检索参数
type HospitalQuery struct {
	Text          string
	Lat, Lng      *float64
	RadiusKm      float64
	EmergencyOnly bool
	Specialty     string
	Limit         int
}

// Session 登录结果
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Field   string          `json:"field,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client HTTP 实现
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration

	mu    sync.RWMutex
	token string
	lang  string
}

var _ API = (*Client)(nil)

func New(cfg config.ClientConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// NewIdempotencyKey 每次用户操作生成一个，重试时复用
func NewIdempotencyKey() string {
	return uuid.NewString()
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetLanguage 服务端按此语言返回错误文案
func (c *Client) SetLanguage(lang string) {
	c.mu.Lock()
	c.lang = lang
	c.mu.Unlock()
}

func (c *Client) SubmitAlert(ctx context.Context, sub *models.AlertSubmission, idemKey string) (*models.EmergencyAlert, error) {
	var alert models.EmergencyAlert
	if err := c.do(ctx, http.MethodPost, "/api/alerts", nil, sub, &alert, idemKey); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (c *Client) ListAlerts(ctx context.Context, params ListParams) ([]models.EmergencyAlert, error) {
	q := url.Values{}
	if params.Lat != nil && params.Lng != nil {
		q.Set("lat", strconv.FormatFloat(*params.Lat, 'f', -1, 64))
		q.Set("lng", strconv.FormatFloat(*params.Lng, 'f', -1, 64))
	}
	for _, s := range params.Statuses {
		q.Add("status", string(s))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	var alerts []models.EmergencyAlert
	if err := c.do(ctx, http.MethodGet, "/api/alerts", q, nil, &alerts, ""); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) GetAlert(ctx context.Context, id string) (*models.EmergencyAlert, error) {
	var alert models.EmergencyAlert
	if err := c.do(ctx, http.MethodGet, "/api/alerts/"+url.PathEscape(id), nil, nil, &alert, ""); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (c *Client) RespondToAlert(ctx context.Context, id string, req *models.RespondRequest, idemKey string) (*models.EmergencyAlert, error) {
	var alert models.EmergencyAlert
	if err := c.do(ctx, http.MethodPost, "/api/alerts/"+url.PathEscape(id)+"/respond", nil, req, &alert, idemKey); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (c *Client) MarkAlertRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/alerts/"+url.PathEscape(id)+"/read", nil, nil, nil, "")
}

func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/alerts/unread-count", nil, nil, &out, ""); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Login 成功后自动携带令牌
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, body, &s, ""); err != nil {
		return nil, err
	}
	c.SetToken(s.Token)
	return &s, nil
}

// Logout 无论服务端是否成功都丢弃本地令牌
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil, "")
	c.SetToken("")
	return err
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &u, ""); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) SearchHospitals(ctx context.Context, hq HospitalQuery) ([]hospital.Result, error) {
	q := url.Values{}
	if hq.Text != "" {
		q.Set("q", hq.Text)
	}
	if hq.Lat != nil && hq.Lng != nil {
		q.Set("lat", strconv.FormatFloat(*hq.Lat, 'f', -1, 64))
		q.Set("lng", strconv.FormatFloat(*hq.Lng, 'f', -1, 64))
	}
	if hq.RadiusKm > 0 {
		q.Set("radius", strconv.FormatFloat(hq.RadiusKm, 'f', -1, 64))
	}
	if hq.EmergencyOnly {
		q.Set("emergency", "true")
	}
	if hq.Specialty != "" {
		q.Set("specialty", hq.Specialty)
	}
	if hq.Limit > 0 {
		q.Set("limit", strconv.Itoa(hq.Limit))
	}
	var results []hospital.Result
	if err := c.do(ctx, http.MethodGet, "/api/hospitals", q, nil, &results, ""); err != nil {
		return nil, err
	}
	return results, nil
}

// do 发送请求并解析统一响应；非 2xx 转成分类错误，网络错误一律 Transient
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}, idemKey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(b)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	token, lang := c.token, c.lang
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set(constant.HeaderAuthorization, constant.BearerPrefix+token)
	}
	if lang != "" {
		req.Header.Set(constant.HeaderAcceptLanguage, lang)
	}
	if idemKey != "" {
		req.Header.Set(constant.HeaderIdempotencyKey, idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return errors.Transient(err, fmt.Sprintf("%s %s failed", method, path))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.Transient(err, "read response")
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return errors.Wrap(err, "decode response")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp, &env)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode response data")
		}
	}
	return nil
}

func statusError(resp *http.Response, env *envelope) error {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	e := errors.FromStatus(resp.StatusCode, msg)
	e.Field = env.Field
	if ra := resp.Header.Get(constant.HeaderRetryAfter); ra != "" {
		e = e.WithContext(CtxRetryAfter, ra)
	}
	if len(env.Data) > 0 {
		var extra struct {
			Remaining *int `json:"remaining"`
		}
		if json.Unmarshal(env.Data, &extra) == nil && extra.Remaining != nil {
			e = e.WithContext(CtxRemaining, strconv.Itoa(*extra.Remaining))
		}
	}
	return e
}

// RetryAfter 从 423/429 错误里取出等待时长
func RetryAfter(err error) (time.Duration, bool) {
	e, ok := errors.As(err)
	if !ok {
		return 0, false
	}
	for _, kv := range e.Context {
		if kv.Key == CtxRetryAfter {
			if secs, err := strconv.Atoi(kv.Value); err == nil {
				return time.Duration(secs) * time.Second, true
			}
		}
	}
	return 0, false
}
