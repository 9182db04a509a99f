package models

import (
	stderrors "errors"
	"net/http"
	"time"

	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AlertRead 医生已读记录
type AlertRead struct {
	ID      uint      `gorm:"primaryKey"`
	AlertID string    `gorm:"size:36;uniqueIndex:idx_alert_reader"`
	UserID  string    `gorm:"size:36;uniqueIndex:idx_alert_reader"`
	ReadAt  time.Time `gorm:"autoCreateTime"`
}

// ListOptions 列表查询条件
type ListOptions struct {
	Statuses []AlertStatus
	Since    time.Time
	Limit    int
}

func preloadResponses(db *gorm.DB) *gorm.DB {
	return db.Order("response_time ASC, id ASC")
}

// CreateAlert 创建警报；requester 为 nil 时按访客保存
func CreateAlert(db *gorm.DB, sub *AlertSubmission, requester *User) (*EmergencyAlert, error) {
	now := time.Now()
	info := RequesterInfo{Guest: requester == nil}
	if requester != nil {
		info.UserID = requester.ID
		info.Name = requester.Name
		info.Phone = requester.Phone
		info.Email = requester.Email
	} else if sub.Guest != nil {
		info.Name = sub.Guest.Name
		info.Phone = sub.Guest.Phone
		info.MedicalFlags = sub.Guest.MedicalFlags
	}
	reported := sub.Timestamp
	if reported.IsZero() || reported.After(now) {
		reported = now
	}
	alert := &EmergencyAlert{
		ID:              uuid.NewString(),
		Type:            sub.Type,
		Urgency:         sub.Urgency,
		Status:          AlertStatusActive,
		Location:        sub.Location,
		Description:     sub.Description,
		Symptoms:        datatypes.JSONSlice[string](sub.Symptoms),
		Consciousness:   sub.Consciousness,
		Breathing:       sub.Breathing,
		Bleeding:        sub.Bleeding,
		Duration:        sub.Duration,
		RequesterInfo:   datatypes.NewJSONType(info),
		ReportedAt:      reported,
		CreatedAt:       now,
		DoctorResponses: []DoctorResponse{},
	}
	if requester != nil {
		alert.RequesterID = requester.ID
	}
	if err := db.Create(alert).Error; err != nil {
		return nil, errors.Wrap(err, "create alert")
	}
	return alert, nil
}

// GetAlert 按 id 取警报，不存在时返回 404
func GetAlert(db *gorm.DB, id string) (*EmergencyAlert, error) {
	var alert EmergencyAlert
	err := db.Preload("DoctorResponses", preloadResponses).Where("id = ?", id).First(&alert).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithCode(http.StatusNotFound, "alert not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get alert")
	}
	return &alert, nil
}

// ListAlerts 最新的在前
func ListAlerts(db *gorm.DB, opts ListOptions) ([]EmergencyAlert, error) {
	q := db.Preload("DoctorResponses", preloadResponses).Order("created_at DESC")
	if len(opts.Statuses) > 0 {
		q = q.Where("status IN ?", opts.Statuses)
	}
	if !opts.Since.IsZero() {
		q = q.Where("created_at >= ?", opts.Since)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var alerts []EmergencyAlert
	if err := q.Find(&alerts).Error; err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	return alerts, nil
}

// RecordResponse 记录医生响应；重复响应和已结束警报都返回 409
func RecordResponse(db *gorm.DB, alertID string, doctor *User, req *RespondRequest) (*EmergencyAlert, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		var alert EmergencyAlert
		if err := tx.Where("id = ?", alertID).First(&alert).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.WithCode(http.StatusNotFound, "alert not found")
			}
			return err
		}
		if alert.Status.Closed() {
			return errors.Rejected(http.StatusConflict, i18n.MsgAlertStale)
		}
		var n int64
		if err := tx.Model(&DoctorResponse{}).Where("alert_id = ? AND doctor_id = ?", alertID, doctor.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.Rejected(http.StatusConflict, i18n.MsgResponseDuplicate)
		}
		resp := DoctorResponse{
			AlertID:          alertID,
			DoctorID:         doctor.ID,
			DoctorName:       doctor.Name,
			ResponseType:     req.ResponseType,
			Message:          req.Message,
			EstimatedArrival: req.EstimatedArrival,
			ResponseTime:     time.Now(),
		}
		if err := tx.Create(&resp).Error; err != nil {
			// 并发的第二次写入由唯一索引拦下
			if stderrors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.Rejected(http.StatusConflict, i18n.MsgResponseDuplicate)
			}
			return err
		}
		if alert.Status == AlertStatusActive {
			return tx.Model(&EmergencyAlert{}).Where("id = ? AND status = ?", alertID, AlertStatusActive).
				Update("status", AlertStatusResponded).Error
		}
		return nil
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.Wrap(err, "record response")
	}
	return GetAlert(db, alertID)
}

// UpdateAlertStatus 管理员结束警报
func UpdateAlertStatus(db *gorm.DB, alertID string, status AlertStatus) (*EmergencyAlert, error) {
	if !status.Closed() {
		return nil, errors.Validation("status", i18n.MsgFieldRequired)
	}
	res := db.Model(&EmergencyAlert{}).
		Where("id = ? AND status IN ?", alertID, []AlertStatus{AlertStatusActive, AlertStatusResponded}).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "update alert status")
	}
	if res.RowsAffected == 0 {
		// 区分不存在与已结束
		if _, err := GetAlert(db, alertID); err != nil {
			return nil, err
		}
		return nil, errors.Rejected(http.StatusConflict, i18n.MsgAlertStale)
	}
	return GetAlert(db, alertID)
}

// MarkAlertRead 幂等
func MarkAlertRead(db *gorm.DB, alertID, userID string) error {
	if _, err := GetAlert(db, alertID); err != nil {
		return err
	}
	read := AlertRead{AlertID: alertID, UserID: userID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&read).Error; err != nil {
		return errors.Wrap(err, "mark alert read")
	}
	return nil
}

// UnreadCount 角标计数：ACTIVE、未读且未响应
func UnreadCount(db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.Model(&EmergencyAlert{}).
		Where("status = ?", AlertStatusActive).
		Where("id NOT IN (?)", db.Model(&AlertRead{}).Select("alert_id").Where("user_id = ?", userID)).
		Where("id NOT IN (?)", db.Model(&DoctorResponse{}).Select("alert_id").Where("doctor_id = ?", userID)).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "count unread alerts")
	}
	return n, nil
}
