package feed

import (
	"net/http"
	"time"

	"MediLink/internal/models"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
)

// PatchState 乐观响应的确认状态
type PatchState string

const (
	PatchPending   PatchState = "PENDING"
	PatchConfirmed PatchState = "CONFIRMED"
	PatchFailed    PatchState = "FAILED"
)

// Patch 本地乐观响应，不覆盖 alert.DoctorResponses，服务端记录出现后即丢弃；
// 丢弃后由 Feed.responded 继续屏蔽再次响应
type Patch struct {
	State    PatchState
	Response models.DoctorResponse
	Err      error
	At       time.Time
}

// holds 待确认或已确认的响应会屏蔽再次响应
func (p *Patch) holds() bool {
	return p != nil && (p.State == PatchPending || p.State == PatchConfirmed)
}

func (p *Patch) copy() *Patch {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// reconcilePatch 服务端记录里已有该医生的响应时以服务端为准；失败的补丁在下一次同步时清掉
func reconcilePatch(p *Patch, server *models.EmergencyAlert, doctor string) *Patch {
	if p == nil {
		return nil
	}
	if server.HasResponded(doctor) {
		return nil
	}
	if p.State == PatchFailed {
		return nil
	}
	return p
}

// BeginResponse 打上待确认补丁；已有响应或补丁时拒绝
func (f *Feed) BeginResponse(alertID string, resp models.DoctorResponse) error {
	doctor := f.doctorID()
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[alertID]
	if !ok {
		return errors.WithCode(http.StatusNotFound, "alert not found")
	}
	if doctor == "" {
		return errors.WithCode(http.StatusUnauthorized, "authentication required")
	}
	if f.hasResponded(e, doctor) {
		return errors.Rejected(http.StatusConflict, i18n.MsgResponseDuplicate)
	}
	if e.alert.Status.Closed() {
		return errors.Rejected(http.StatusConflict, i18n.MsgAlertStale)
	}
	resp.DoctorID = doctor
	e.patch = &Patch{State: PatchPending, Response: resp, At: f.now()}
	return nil
}

// ConfirmResponse 服务端已接受；合并返回的记录
func (f *Feed) ConfirmResponse(alertID string, server *models.EmergencyAlert) {
	f.mu.Lock()
	if e, ok := f.entries[alertID]; ok && e.patch != nil {
		e.patch.State = PatchConfirmed
		e.patch.Err = nil
		f.responded[respondedKey(alertID, e.patch.Response.DoctorID)] = true
	}
	f.mu.Unlock()
	if server != nil {
		f.Reconcile(SourceResponder, *server)
		return
	}
	f.changed()
}

// FailResponse 标记失败，列表本身不变，响应按钮重新可用
func (f *Feed) FailResponse(alertID string, err error) {
	f.mu.Lock()
	if e, ok := f.entries[alertID]; ok && e.patch != nil {
		e.patch.State = PatchFailed
		e.patch.Err = err
	}
	f.mu.Unlock()
	f.changed()
}

// DropResponse 服务端权威拒绝后撤掉补丁，等待重新同步
func (f *Feed) DropResponse(alertID string) {
	f.mu.Lock()
	if e, ok := f.entries[alertID]; ok {
		e.patch = nil
	}
	f.mu.Unlock()
	f.changed()
}
