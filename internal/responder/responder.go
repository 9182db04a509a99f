// Package responder 医生对警报的响应：乐观补丁、提交、确认或回滚
package responder

import (
	"context"
	"time"

	"MediLink/internal/client"
	"MediLink/internal/feed"
	"MediLink/internal/models"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
	"MediLink/pkg/logger"

	"go.uber.org/zap"
)

// Feed responder 只通过补丁接口和重新同步改动工作集，*feed.Feed 满足
type Feed interface {
	CanRespond(alertID string) bool
	BeginResponse(alertID string, resp models.DoctorResponse) error
	ConfirmResponse(alertID string, server *models.EmergencyAlert)
	FailResponse(alertID string, err error)
	DropResponse(alertID string)
	Refresh(ctx context.Context) error
}

var _ Feed = (*feed.Feed)(nil)

type Recorder struct {
	api     client.API
	feed    Feed
	timeout time.Duration
	lang    string
}

func New(api client.API, f Feed, timeout time.Duration, lang string) *Recorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if lang == "" {
		lang = "en"
	}
	return &Recorder{api: api, feed: f, timeout: timeout, lang: lang}
}

// CanRespond 没有已确认或待确认的响应，且警报未关闭
func (r *Recorder) CanRespond(alertID string) bool {
	return r.feed.CanRespond(alertID)
}

// Respond 先打补丁让响应按钮立即消失，再调用接口。
// 成功合并服务端记录；409 是权威拒绝，撤掉补丁并重新拉取列表；
// 其他失败保留原列表，按钮恢复可用
func (r *Recorder) Respond(ctx context.Context, alertID string, kind models.ResponseType, message, eta string) (*models.EmergencyAlert, error) {
	req := &models.RespondRequest{ResponseType: kind, Message: message, EstimatedArrival: eta}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	patch := models.DoctorResponse{
		ResponseType:     req.ResponseType,
		Message:          req.Message,
		EstimatedArrival: req.EstimatedArrival,
		ResponseTime:     time.Now(),
	}
	if err := r.feed.BeginResponse(alertID, patch); err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	alert, err := r.api.RespondToAlert(rctx, alertID, req, client.NewIdempotencyKey())
	if err == nil {
		r.feed.ConfirmResponse(alertID, alert)
		logger.Info("alert response recorded",
			zap.String("alert_id", alertID),
			zap.String("response_type", string(kind)))
		return alert, nil
	}

	if errors.IsKind(err, errors.KindRejected) {
		r.feed.DropResponse(alertID)
		logger.Info("alert response rejected, resyncing", zap.String("alert_id", alertID), zap.Error(err))
		if rerr := r.feed.Refresh(context.WithoutCancel(ctx)); rerr != nil {
			logger.Debug("resync after rejection failed", zap.Error(rerr))
		}
		return nil, err
	}

	if k := errors.KindOf(err); k == errors.KindValidation || k == errors.KindPermission {
		r.feed.FailResponse(alertID, err)
		return nil, err
	}
	failed := errors.Transient(err, i18n.MsgResponseFailed)
	r.feed.FailResponse(alertID, failed)
	logger.Warn("alert response failed", zap.String("alert_id", alertID), zap.Error(err))
	return nil, failed
}

// Message 错误的用户可见文本
func (r *Recorder) Message(err error) string {
	e, ok := errors.As(err)
	if !ok {
		return i18n.T(r.lang, i18n.MsgResponseFailed, nil)
	}
	data := map[string]interface{}{"Field": e.Field}
	for _, kv := range e.Context {
		data[kv.Key] = kv.Value
	}
	return i18n.T(r.lang, e.Message, data)
}
