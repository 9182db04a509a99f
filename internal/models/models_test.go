package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MediLink/pkg/auth"
	"MediLink/pkg/cache"
	"MediLink/pkg/config"
	"MediLink/pkg/constant"
	"MediLink/pkg/errors"
	"MediLink/pkg/i18n"
	"MediLink/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := util.InitDatabase(util.DBOptions{DSN: "file:" + name + "?mode=memory&cache=shared"})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func mustUser(t *testing.T, db *gorm.DB, email, role string) *User {
	u, err := CreateUser(db, email, "password123", strings.Split(email, "@")[0], "+1 555 0100", role)
	require.NoError(t, err)
	return u
}

func TestCreateAlertGuestAndUser(t *testing.T) {
	db := newTestDB(t)
	patient := mustUser(t, db, "pat@example.com", constant.RolePatient)

	sub := &AlertSubmission{Description: "chest pain", Symptoms: []string{"pain"}}
	sub.Normalize()
	require.NoError(t, sub.Validate(false))
	a, err := CreateAlert(db, sub, patient)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, AlertStatusActive, a.Status)
	assert.Equal(t, AlertTypeGeneralEmergency, a.Type)
	assert.Nil(t, a.Location)
	assert.Equal(t, patient.ID, a.RequesterInfo.Data().UserID)

	guest := &AlertSubmission{Guest: &GuestInfo{Name: "Ann", Phone: "+44 20 7946 0000"}, Location: &Location{Latitude: 51.5, Longitude: -0.12}}
	guest.Normalize()
	require.NoError(t, guest.Validate(true))
	g, err := CreateAlert(db, guest, nil)
	require.NoError(t, err)

	got, err := GetAlert(db, g.ID)
	require.NoError(t, err)
	assert.True(t, got.RequesterInfo.Data().Guest)
	assert.Equal(t, "Ann", got.RequesterName())
	require.NotNil(t, got.Location)
	assert.InDelta(t, 51.5, got.Location.Latitude, 1e-9)

	list, err := ListAlerts(db, ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, g.ID, list[0].ID)
}

func TestSubmissionValidation(t *testing.T) {
	s := &AlertSubmission{}
	s.Normalize()
	err := s.Validate(true)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	e, _ := errors.As(err)
	assert.Equal(t, "guest.name", e.Field)

	s.Guest = &GuestInfo{Name: "Bo", Phone: "abc"}
	e, _ = errors.As(s.Validate(true))
	assert.Equal(t, "guest.phone", e.Field)
	assert.Equal(t, i18n.MsgPhoneInvalid, e.Message)

	s.Type = "NOPE"
	e, _ = errors.As(s.Validate(false))
	assert.Equal(t, "type", e.Field)
}

func TestRecordResponseAtMostOncePerDoctor(t *testing.T) {
	db := newTestDB(t)
	doc := mustUser(t, db, "doc@example.com", constant.RoleDoctor)
	other := mustUser(t, db, "doc2@example.com", constant.RoleDoctor)
	sub := &AlertSubmission{}
	sub.Normalize()
	a, err := CreateAlert(db, sub, nil)
	require.NoError(t, err)

	updated, err := RecordResponse(db, a.ID, doc, &RespondRequest{ResponseType: ResponseResponding, EstimatedArrival: "10 min"})
	require.NoError(t, err)
	assert.Equal(t, AlertStatusResponded, updated.Status)
	require.Len(t, updated.DoctorResponses, 1)
	assert.True(t, updated.HasResponded(doc.ID))

	_, err = RecordResponse(db, a.ID, doc, &RespondRequest{ResponseType: ResponseUnable})
	assert.Equal(t, http.StatusConflict, errors.GetCode(err))
	assert.True(t, errors.IsKind(err, errors.KindRejected))

	updated, err = RecordResponse(db, a.ID, other, &RespondRequest{ResponseType: ResponseUnable, Message: "in surgery"})
	require.NoError(t, err)
	require.Len(t, updated.DoctorResponses, 2)
	assert.Equal(t, doc.ID, updated.DoctorResponses[0].DoctorID)
	assert.Empty(t, updated.DoctorResponses[1].Message)
}

func TestClosedAlertRejectsResponses(t *testing.T) {
	db := newTestDB(t)
	doc := mustUser(t, db, "doc@example.com", constant.RoleDoctor)
	sub := &AlertSubmission{}
	sub.Normalize()
	a, _ := CreateAlert(db, sub, nil)

	closed, err := UpdateAlertStatus(db, a.ID, AlertStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, AlertStatusResolved, closed.Status)

	_, err = UpdateAlertStatus(db, a.ID, AlertStatusCancelled)
	assert.Equal(t, http.StatusConflict, errors.GetCode(err))

	_, err = UpdateAlertStatus(db, "missing", AlertStatusCancelled)
	assert.Equal(t, http.StatusNotFound, errors.GetCode(err))

	_, err = RecordResponse(db, a.ID, doc, &RespondRequest{ResponseType: ResponseResponding})
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, i18n.MsgAlertStale, e.Message)
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	db := newTestDB(t)
	doc := mustUser(t, db, "doc@example.com", constant.RoleDoctor)
	var ids []string
	for i := 0; i < 3; i++ {
		sub := &AlertSubmission{}
		sub.Normalize()
		a, err := CreateAlert(db, sub, nil)
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	n, err := UnreadCount(db, doc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, MarkAlertRead(db, ids[0], doc.ID))
	require.NoError(t, MarkAlertRead(db, ids[0], doc.ID))
	_, err = RecordResponse(db, ids[1], doc, &RespondRequest{ResponseType: ResponseResponding})
	require.NoError(t, err)

	n, err = UnreadCount(db, doc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Error(t, MarkAlertRead(db, "missing", doc.ID))
}

func TestDistanceKm(t *testing.T) {
	a := &EmergencyAlert{}
	assert.Nil(t, a.DistanceKm(0, 0))

	a.Location = &Location{Latitude: 40.0, Longitude: -74.0}
	d := a.DistanceKm(40.0, -74.0)
	require.NotNil(t, d)
	assert.InDelta(t, 0, *d, 0.01)

	d = a.DistanceKm(41.0, -74.0)
	assert.InDelta(t, 111.2, *d, 1.0)
}

func TestUnreadForDerivation(t *testing.T) {
	a := &EmergencyAlert{Status: AlertStatusActive}
	assert.True(t, a.UnreadFor("d1"))
	a.DoctorResponses = []DoctorResponse{{DoctorID: "d1"}}
	assert.False(t, a.UnreadFor("d1"))
	assert.True(t, a.UnreadFor("d2"))
	a.Status = AlertStatusResponded
	assert.False(t, a.UnreadFor("d2"))
}

func TestCreateUserAndPassword(t *testing.T) {
	db := newTestDB(t)
	u := mustUser(t, db, "Doc@Example.com", constant.RoleDoctor)
	assert.Equal(t, "doc@example.com", u.Email)
	assert.True(t, CheckPassword(u, "password123"))
	assert.False(t, CheckPassword(u, "wrong"))

	_, err := CreateUser(db, "doc@example.com", "password123", "x", "", constant.RoleDoctor)
	assert.Equal(t, http.StatusConflict, errors.GetCode(err))

	_, err = CreateUser(db, "bad", "password123", "x", "", "")
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = CreateUser(db, "x@example.com", "password123", "x", "", "ROOT")
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestLoginGuardLocksAfterMaxAttempts(t *testing.T) {
	c := cache.NewGoCache(cache.LocalConfig{DefaultExpiration: time.Minute, CleanupInterval: time.Minute})
	g := NewLoginGuard(c, config.LockoutConfig{MaxAttempts: 3, Window: time.Minute, Duration: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		att, err := g.Fail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.False(t, att.Locked)
		assert.Equal(t, 2-i, att.Remaining)
	}
	locked, _ := g.Locked(ctx, "a@example.com")
	assert.False(t, locked)

	att, err := g.Fail(ctx, "A@example.com")
	require.NoError(t, err)
	assert.True(t, att.Locked)

	locked, retry := g.Locked(ctx, "a@example.com")
	assert.True(t, locked)
	assert.Greater(t, retry, time.Duration(0))

	g.Reset(ctx, "b@example.com")
	att, _ = g.Fail(ctx, "b@example.com")
	assert.Equal(t, 2, att.Remaining)
}

func TestWithAuthAndRoleRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	doc := mustUser(t, db, "doc@example.com", constant.RoleDoctor)
	pat := mustUser(t, db, "pat@example.com", constant.RolePatient)
	tokens := auth.NewTokenService("s", time.Hour)

	r := gin.New()
	r.Use(WithAuth(db, tokens))
	r.GET("/me", AuthRequired, func(c *gin.Context) { c.String(http.StatusOK, CurrentUser(c).ID) })
	r.GET("/doctors", RoleRequired(constant.RoleDoctor), func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set(constant.HeaderAuthorization, constant.BearerPrefix+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, get("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/me", "bogus").Code)

	docToken, _, _ := tokens.Generate(doc.ID, doc.Role, doc.Name)
	w := get("/me", docToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, doc.ID, w.Body.String())
	assert.Equal(t, http.StatusOK, get("/doctors", docToken).Code)

	patToken, _, _ := tokens.Generate(pat.ID, pat.Role, pat.Name)
	assert.Equal(t, http.StatusForbidden, get("/doctors", patToken).Code)

	// 推送通道用查询参数带令牌
	w = get("/me?token="+docToken, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
