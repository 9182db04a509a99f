// Package clienttest 提供内存版 client.API，供 feed、trigger、responder 的测试使用
package clienttest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"MediLink/internal/client"
	"MediLink/internal/hospital"
	"MediLink/internal/models"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"

	"github.com/google/uuid"
)

// Fake 按服务端语义维护警报；各 Err 字段非空时对应调用直接失败
type Fake struct {
	mu sync.Mutex

	Alerts      []models.EmergencyAlert
	Doctor      *models.User
	Unread      int64
	ListErr     error
	SubmitErr   error
	RespondErr  error
	MarkReadErr error
	// RespondGate 非空时响应调用阻塞到关闭
	RespondGate chan struct{}

	Submitted []models.AlertSubmission
	Responses int
	MarkReads int
	Lists     int
}

var _ client.API = (*Fake)(nil)

func (f *Fake) SubmitAlert(ctx context.Context, sub *models.AlertSubmission, idemKey string) (*models.EmergencyAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Submitted = append(f.Submitted, *sub)
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}
	a := models.EmergencyAlert{
		ID:          uuid.NewString(),
		Type:        sub.Type,
		Urgency:     sub.Urgency,
		Status:      models.AlertStatusActive,
		Location:    sub.Location,
		Description: sub.Description,
		CreatedAt:   time.Now(),
	}
	f.Alerts = append([]models.EmergencyAlert{a}, f.Alerts...)
	return &a, nil
}

// Add 模拟其他患者提交
func (f *Fake) Add(a models.EmergencyAlert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Alerts = append([]models.EmergencyAlert{a}, f.Alerts...)
}

func (f *Fake) SetListErr(err error) {
	f.mu.Lock()
	f.ListErr = err
	f.mu.Unlock()
}

func (f *Fake) ListAlerts(ctx context.Context, params client.ListParams) ([]models.EmergencyAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lists++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]models.EmergencyAlert, 0, len(f.Alerts))
	for i := range f.Alerts {
		a := f.Alerts[i].Clone()
		if params.Lat != nil && params.Lng != nil {
			a.Distance = a.DistanceKm(*params.Lat, *params.Lng)
		}
		out = append(out, *a)
	}
	return out, nil
}

func (f *Fake) GetAlert(ctx context.Context, id string) (*models.EmergencyAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Alerts {
		if f.Alerts[i].ID == id {
			return f.Alerts[i].Clone(), nil
		}
	}
	return nil, errors.FromStatus(http.StatusNotFound, "alert not found")
}

func (f *Fake) RespondToAlert(ctx context.Context, id string, req *models.RespondRequest, idemKey string) (*models.EmergencyAlert, error) {
	if gate := f.RespondGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errors.Transient(ctx.Err(), "respond")
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses++
	if f.RespondErr != nil {
		return nil, f.RespondErr
	}
	for i := range f.Alerts {
		a := &f.Alerts[i]
		if a.ID != id {
			continue
		}
		if a.Status.Closed() {
			return nil, errors.FromStatus(http.StatusConflict, i18n.MsgAlertStale)
		}
		if f.Doctor == nil {
			return nil, errors.FromStatus(http.StatusUnauthorized, "authentication required")
		}
		if a.HasResponded(f.Doctor.ID) {
			return nil, errors.FromStatus(http.StatusConflict, i18n.MsgResponseDuplicate)
		}
		a.DoctorResponses = append(a.DoctorResponses, models.DoctorResponse{
			DoctorID:         f.Doctor.ID,
			DoctorName:       f.Doctor.Name,
			ResponseType:     req.ResponseType,
			Message:          req.Message,
			EstimatedArrival: req.EstimatedArrival,
			ResponseTime:     time.Now(),
		})
		a.Status = models.AlertStatusResponded
		return a.Clone(), nil
	}
	return nil, errors.FromStatus(http.StatusNotFound, "alert not found")
}

func (f *Fake) MarkAlertRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MarkReads++
	return f.MarkReadErr
}

func (f *Fake) UnreadCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Unread, nil
}

func (f *Fake) Login(ctx context.Context, email, password string) (*client.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Doctor == nil {
		return nil, errors.FromStatus(http.StatusUnauthorized, i18n.MsgLoginFailed)
	}
	return &client.Session{Token: "fake", ExpiresAt: time.Now().Add(time.Hour), User: f.Doctor}, nil
}

func (f *Fake) Logout(ctx context.Context) error { return nil }

func (f *Fake) Me(ctx context.Context) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Doctor == nil {
		return nil, errors.FromStatus(http.StatusUnauthorized, "authentication required")
	}
	return f.Doctor, nil
}

func (f *Fake) SearchHospitals(ctx context.Context, q client.HospitalQuery) ([]hospital.Result, error) {
	return nil, nil
}

// Counts 并发安全地读取调用计数
func (f *Fake) Counts() (submitted, responses, markReads, lists int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Submitted), f.Responses, f.MarkReads, f.Lists
}

// Identity 固定身份，满足 feed.Identity
type Identity struct{ User *models.User }

func (i Identity) Current() *models.User { return i.User }
