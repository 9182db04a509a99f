package handlers

import (
	"context"
	"strings"
	"time"

	"MediLink/internal/models"
	"MediLink/pkg/constant"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
	"MediLink/pkg/logger"
	"MediLink/pkg/notification"
	"MediLink/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const defaultAlertListLimit = 200

// handleSubmitAlert 提交警报；未登录时按访客处理，必须带姓名和电话
func (h *Handlers) handleSubmitAlert(c *gin.Context) {
	var sub models.AlertSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		h.fail(c, errors.Validation("body", i18n.MsgFieldRequired))
		return
	}
	user := models.CurrentUser(c)
	sub.Normalize()
	if err := sub.Validate(user == nil); err != nil {
		h.fail(c, err)
		return
	}

	alert, err := models.CreateAlert(h.db, &sub, user)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.RecordAlertSubmitted(string(alert.Type), string(alert.Urgency), user == nil)
	h.publish(alert, false)
	h.notifyDoctors(alert)

	logger.Info("alert submitted",
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.String("urgency", string(alert.Urgency)),
		zap.Bool("guest", user == nil),
		zap.Bool("located", alert.Location != nil))
	response.Created(c, h.t(c, i18n.MsgAlertSent), alert)
}

// handleListAlerts 医生端全量列表；带 lat/lng 时附带距离
func (h *Handlers) handleListAlerts(c *gin.Context) {
	opts := models.ListOptions{Limit: cast.ToInt(c.DefaultQuery("limit", "0"))}
	if opts.Limit <= 0 || opts.Limit > defaultAlertListLimit {
		opts.Limit = defaultAlertListLimit
	}
	if s := c.QueryArray("status"); len(s) > 0 {
		for _, v := range s {
			opts.Statuses = append(opts.Statuses, models.AlertStatus(v))
		}
	}
	if hours := cast.ToFloat64(c.Query("sinceHours")); hours > 0 {
		opts.Since = time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	}

	alerts, err := models.ListAlerts(h.db, opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	if lat, lng, ok := queryPoint(c); ok {
		for i := range alerts {
			alerts[i].Distance = alerts[i].DistanceKm(lat, lng)
		}
	}
	response.Success(c, "success", alerts)
}

// handleGetAlert 医生可查看任意警报，患者只能查看自己的
func (h *Handlers) handleGetAlert(c *gin.Context) {
	alert, err := models.GetAlert(h.db, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	user := models.CurrentUser(c)
	if !user.IsDoctor() && alert.RequesterID != user.ID {
		h.fail(c, errors.Permission("insufficient permissions"))
		return
	}
	if lat, lng, ok := queryPoint(c); ok {
		alert.Distance = alert.DistanceKm(lat, lng)
	}
	response.Success(c, "success", alert)
}

// handleRespond 医生响应；每位医生对同一警报只能响应一次
func (h *Handlers) handleRespond(c *gin.Context) {
	var req models.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.Validation("body", i18n.MsgFieldRequired))
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}

	doctor := models.CurrentUser(c)
	alert, err := models.RecordResponse(h.db, c.Param("id"), doctor, &req)
	if err != nil {
		outcome := "error"
		if e, ok := errors.As(err); ok {
			switch e.Message {
			case i18n.MsgResponseDuplicate:
				outcome = "duplicate"
			case i18n.MsgAlertStale:
				outcome = "stale"
			}
		}
		h.metrics.RecordAlertResponse(string(req.ResponseType), outcome)
		h.fail(c, err)
		return
	}

	h.metrics.RecordAlertResponse(string(req.ResponseType), "accepted")
	if len(alert.DoctorResponses) == 1 {
		h.metrics.ObserveFirstResponse(alert.DoctorResponses[0].ResponseTime.Sub(alert.CreatedAt))
	}
	h.publish(alert, true)

	logger.Info("alert response recorded",
		zap.String("alert_id", alert.ID),
		zap.String("doctor_id", doctor.ID),
		zap.String("response_type", string(req.ResponseType)))
	response.Success(c, "success", alert)
}

// handleMarkRead 幂等
func (h *Handlers) handleMarkRead(c *gin.Context) {
	user := models.CurrentUser(c)
	if err := models.MarkAlertRead(h.db, c.Param("id"), user.ID); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, "success", nil)
}

func (h *Handlers) handleUnreadCount(c *gin.Context) {
	user := models.CurrentUser(c)
	n, err := models.UnreadCount(h.db, user.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, "success", gin.H{"count": n})
}

type statusRequest struct {
	Status models.AlertStatus `json:"status"`
}

// handleUpdateStatus 管理员将警报置为 RESOLVED / CANCELLED
func (h *Handlers) handleUpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.Validation("status", i18n.MsgFieldRequired))
		return
	}
	alert, err := models.UpdateAlertStatus(h.db, c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.RecordStatusChange(string(alert.Status))
	h.publish(alert, true)
	response.Success(c, "success", alert)
}

// publish 推送失败只记日志，医生端轮询会补上
func (h *Handlers) publish(alert *models.EmergencyAlert, update bool) {
	if h.hub == nil {
		return
	}
	var err error
	if update {
		err = h.hub.PublishAlertUpdate(alert)
	} else {
		err = h.hub.PublishAlert(alert)
	}
	if err != nil {
		logger.Warn("publish alert failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}

// notifyDoctors 手机推送给打了医生标签的设备，在线医生另有 WebSocket 消息
func (h *Handlers) notifyDoctors(alert *models.EmergencyAlert) {
	if h.notifier == nil {
		return
	}
	title, body := alert.Summary()
	msg := notification.Message{
		Title:  title,
		Body:   body,
		Tag:    strings.ToLower(constant.RoleDoctor),
		Sound:  true,
		Urgent: alert.Urgency == models.UrgencyCritical,
		Extras: map[string]interface{}{"alertId": alert.ID},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if h.notifier.Dispatch(ctx, msg) == 0 {
			logger.Debug("no notification channel delivered", zap.String("alert_id", alert.ID))
		}
	}()
}

// queryPoint 解析 ?lat=&lng=，任一缺失或越界视为未提供
func queryPoint(c *gin.Context) (float64, float64, bool) {
	if c.Query("lat") == "" || c.Query("lng") == "" {
		return 0, 0, false
	}
	lat, err := cast.ToFloat64E(c.Query("lat"))
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	lng, err := cast.ToFloat64E(c.Query("lng"))
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}
