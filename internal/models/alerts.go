package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"

	"github.com/blevesearch/bleve/v2/geo"
	"gorm.io/datatypes"
)

type AlertType string

const (
	AlertTypeMedical          AlertType = "MEDICAL"
	AlertTypeCardiac          AlertType = "CARDIAC"
	AlertTypeStroke           AlertType = "STROKE"
	AlertTypeBreathing        AlertType = "BREATHING"
	AlertTypeTrauma           AlertType = "TRAUMA"
	AlertTypeOverdose         AlertType = "OVERDOSE"
	AlertTypeBurn             AlertType = "BURN"
	AlertTypeAllergic         AlertType = "ALLERGIC"
	AlertTypeMental           AlertType = "MENTAL"
	AlertTypeOther            AlertType = "OTHER"
	AlertTypeGeneralEmergency AlertType = "GENERAL_EMERGENCY"
)

var alertTypes = map[AlertType]bool{
	AlertTypeMedical: true, AlertTypeCardiac: true, AlertTypeStroke: true, AlertTypeBreathing: true,
	AlertTypeTrauma: true, AlertTypeOverdose: true, AlertTypeBurn: true, AlertTypeAllergic: true,
	AlertTypeMental: true, AlertTypeOther: true, AlertTypeGeneralEmergency: true,
}

type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyLow      Urgency = "LOW"
)

var urgencies = map[Urgency]bool{UrgencyCritical: true, UrgencyHigh: true, UrgencyMedium: true, UrgencyLow: true}

type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "ACTIVE"
	AlertStatusResponded AlertStatus = "RESPONDED"
	AlertStatusResolved  AlertStatus = "RESOLVED"
	AlertStatusCancelled AlertStatus = "CANCELLED"
)

// Closed 已结束的警报不再接受响应
func (s AlertStatus) Closed() bool {
	return s == AlertStatusResolved || s == AlertStatusCancelled
}

type ResponseType string

const (
	ResponseResponding ResponseType = "RESPONDING"
	ResponseUnable     ResponseType = "UNABLE"
)

// Location 设备定位，定位失败时整个字段为 null
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`

	// Address 可选的地址描述，由定位方反查填写
	Address string `json:"address,omitempty"`
}

// GuestInfo 未登录用户在提交时填写的身份信息
type GuestInfo struct {
	Name         string   `json:"name"`
	Phone        string   `json:"phone"`
	MedicalFlags []string `json:"medicalFlags,omitempty"`
}

// RequesterInfo 求助者：登录用户引用或访客信息
type RequesterInfo struct {
	UserID       string   `json:"userId,omitempty"`
	Name         string   `json:"name,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Email        string   `json:"email,omitempty"`
	Guest        bool     `json:"guest"`
	MedicalFlags []string `json:"medicalFlags,omitempty"`
}

// EmergencyAlert 紧急警报
type EmergencyAlert struct {
	ID              string                            `json:"id" gorm:"primaryKey;size:36"`
	Type            AlertType                         `json:"type" gorm:"size:32;index"`
	Urgency         Urgency                           `json:"urgency" gorm:"size:16;index"`
	Status          AlertStatus                       `json:"status" gorm:"size:16;index"`
	Location        *Location                         `json:"location" gorm:"serializer:json"`
	Description     string                            `json:"description" gorm:"size:2048"`
	Symptoms        datatypes.JSONSlice[string]       `json:"symptoms"`
	Consciousness   string                            `json:"consciousness,omitempty" gorm:"size:64"`
	Breathing       string                            `json:"breathing,omitempty" gorm:"size:64"`
	Bleeding        string                            `json:"bleeding,omitempty" gorm:"size:64"`
	Duration        string                            `json:"duration,omitempty" gorm:"size:64"`
	RequesterID     string                            `json:"-" gorm:"size:36;index"`
	RequesterInfo   datatypes.JSONType[RequesterInfo] `json:"requesterInfo"`
	ReportedAt      time.Time                         `json:"timestamp"`
	CreatedAt       time.Time                         `json:"createdAt" gorm:"index"`
	UpdatedAt       time.Time                         `json:"updatedAt"`
	DoctorResponses []DoctorResponse                  `json:"doctorResponses" gorm:"foreignKey:AlertID"`
	Distance        *float64                          `json:"distance,omitempty" gorm:"-"`
}

// DoctorResponse 医生响应，(alert_id, doctor_id) 唯一
type DoctorResponse struct {
	ID               uint         `json:"-" gorm:"primaryKey"`
	AlertID          string       `json:"-" gorm:"size:36;uniqueIndex:idx_alert_doctor"`
	DoctorID         string       `json:"doctorId" gorm:"size:36;uniqueIndex:idx_alert_doctor"`
	DoctorName       string       `json:"doctorName" gorm:"size:128"`
	ResponseType     ResponseType `json:"responseType" gorm:"size:16"`
	Message          string       `json:"message,omitempty" gorm:"size:1024"`
	EstimatedArrival string       `json:"estimatedArrival,omitempty" gorm:"size:64"`
	ResponseTime     time.Time    `json:"responseTime"`
}

// HasResponded 医生是否已对该警报响应
func (a *EmergencyAlert) HasResponded(doctorID string) bool {
	for _, r := range a.DoctorResponses {
		if r.DoctorID == doctorID {
			return true
		}
	}
	return false
}

// UnreadFor 未读：仍为 ACTIVE 且该医生没有响应
func (a *EmergencyAlert) UnreadFor(doctorID string) bool {
	return a.Status == AlertStatusActive && !a.HasResponded(doctorID)
}

func (a *EmergencyAlert) RequesterName() string {
	return a.RequesterInfo.Data().Name
}

// Summary 提醒用的标题和正文
func (a *EmergencyAlert) Summary() (title, body string) {
	title = fmt.Sprintf("%s %s", a.Urgency, a.Type)
	parts := make([]string, 0, 3)
	if name := a.RequesterName(); name != "" {
		parts = append(parts, name)
	}
	if a.Distance != nil {
		parts = append(parts, fmt.Sprintf("%.1f km", *a.Distance))
	}
	if d := a.Description; d != "" {
		if r := []rune(d); len(r) > 80 {
			d = string(r[:80]) + "..."
		}
		parts = append(parts, d)
	}
	return title, strings.Join(parts, " · ")
}

// Clone 深拷贝，供客户端在锁外使用
func (a *EmergencyAlert) Clone() *EmergencyAlert {
	if a == nil {
		return nil
	}
	c := *a
	if a.Location != nil {
		loc := *a.Location
		c.Location = &loc
	}
	if a.Symptoms != nil {
		c.Symptoms = append(datatypes.JSONSlice[string]{}, a.Symptoms...)
	}
	if a.DoctorResponses != nil {
		c.DoctorResponses = append([]DoctorResponse{}, a.DoctorResponses...)
	}
	if a.Distance != nil {
		d := *a.Distance
		c.Distance = &d
	}
	return &c
}

// DistanceKm 到 (lat, lng) 的球面距离，无定位时返回 nil
func (a *EmergencyAlert) DistanceKm(lat, lng float64) *float64 {
	if a.Location == nil {
		return nil
	}
	d := geo.Haversin(a.Location.Longitude, a.Location.Latitude, lng, lat)
	return &d
}

// AlertSubmission 提交警报的请求体
type AlertSubmission struct {
	Type          AlertType  `json:"type"`
	Urgency       Urgency    `json:"urgency"`
	Location      *Location  `json:"location"`
	Description   string     `json:"description"`
	Symptoms      []string   `json:"symptoms,omitempty"`
	Consciousness string     `json:"consciousness,omitempty"`
	Breathing     string     `json:"breathing,omitempty"`
	Bleeding      string     `json:"bleeding,omitempty"`
	Duration      string     `json:"duration,omitempty"`
	Guest         *GuestInfo `json:"guest,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)

// ValidPhone 宽松的国际电话格式
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(strings.TrimSpace(phone))
}

// Normalize 补默认值
func (s *AlertSubmission) Normalize() {
	if s.Type == "" {
		s.Type = AlertTypeGeneralEmergency
	}
	if s.Urgency == "" {
		s.Urgency = UrgencyCritical
	}
	s.Description = strings.TrimSpace(s.Description)
	if s.Location != nil {
		s.Location.Address = strings.TrimSpace(s.Location.Address)
	}
}

// Validate guest 为 true 时要求访客姓名和电话；错误消息为 i18n 键
func (s *AlertSubmission) Validate(guest bool) error {
	if !alertTypes[s.Type] {
		return errors.Validation("type", i18n.MsgFieldRequired)
	}
	if !urgencies[s.Urgency] {
		return errors.Validation("urgency", i18n.MsgFieldRequired)
	}
	if loc := s.Location; loc != nil {
		if loc.Latitude < -90 || loc.Latitude > 90 {
			return errors.Validation("location.latitude", i18n.MsgLocationUnavailable)
		}
		if loc.Longitude < -180 || loc.Longitude > 180 {
			return errors.Validation("location.longitude", i18n.MsgLocationUnavailable)
		}
	}
	if guest {
		if s.Guest == nil || strings.TrimSpace(s.Guest.Name) == "" {
			return errors.Validation("guest.name", i18n.MsgFieldRequired)
		}
		if strings.TrimSpace(s.Guest.Phone) == "" {
			return errors.Validation("guest.phone", i18n.MsgFieldRequired)
		}
		if !ValidPhone(s.Guest.Phone) {
			return errors.Validation("guest.phone", i18n.MsgPhoneInvalid)
		}
	}
	return nil
}

// RespondRequest 医生响应请求体
type RespondRequest struct {
	ResponseType     ResponseType `json:"responseType"`
	Message          string       `json:"message,omitempty"`
	EstimatedArrival string       `json:"estimatedArrival,omitempty"`
}

// Validate UNABLE 时忽略留言和预计到达
func (r *RespondRequest) Validate() error {
	switch r.ResponseType {
	case ResponseResponding:
	case ResponseUnable:
		r.Message, r.EstimatedArrival = "", ""
	default:
		return errors.Validation("responseType", i18n.MsgFieldRequired)
	}
	r.Message = strings.TrimSpace(r.Message)
	r.EstimatedArrival = strings.TrimSpace(r.EstimatedArrival)
	if len(r.Message) > 1024 {
		r.Message = r.Message[:1024]
	}
	return nil
}
