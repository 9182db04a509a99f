package feed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"MediLink/internal/client"
	"MediLink/internal/client/clienttest"
	"MediLink/internal/models"
	"MediLink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var doctor = &models.User{ID: "doc-1", Name: "Dr. Who"}

func km(v float64) *float64 { return &v }

func alert(id string, urgency models.Urgency, status models.AlertStatus, distance *float64) models.EmergencyAlert {
	return models.EmergencyAlert{
		ID:        id,
		Type:      models.AlertTypeMedical,
		Urgency:   urgency,
		Status:    status,
		CreatedAt: time.Now(),
		Distance:  distance,
	}
}

func newFeed(api *clienttest.Fake) *Feed {
	return New(api, clienttest.Identity{User: doctor}, Options{RequestTimeout: time.Second})
}

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Alert.ID)
	}
	return out
}

func TestPushThenPollDoesNotDuplicate(t *testing.T) {
	api := &clienttest.Fake{}
	f := newFeed(api)

	a := alert("a1", models.UrgencyHigh, models.AlertStatusActive, nil)
	f.HandlePush(client.PushEvent{Alert: &a})
	api.Add(a)
	require.NoError(t, f.Refresh(context.Background()))
	f.Reconcile(SourcePush, a)

	assert.Equal(t, 1, f.Len())
	assert.Equal(t, []string{"a1"}, ids(f.View(Filter{})))
}

func TestPushPrependsAndReplacesInPlace(t *testing.T) {
	f := newFeed(&clienttest.Fake{})
	f.Reconcile(SourcePush, alert("a1", models.UrgencyLow, models.AlertStatusActive, nil))
	f.Reconcile(SourcePush, alert("a2", models.UrgencyLow, models.AlertStatusActive, nil))
	assert.Equal(t, []string{"a2", "a1"}, ids(f.View(Filter{})))

	updated := alert("a1", models.UrgencyLow, models.AlertStatusResolved, nil)
	f.Reconcile(SourcePush, updated)
	view := f.View(Filter{})
	assert.Equal(t, []string{"a2", "a1"}, ids(view))
	assert.Equal(t, models.AlertStatusResolved, view[1].Alert.Status)
}

func TestPollSnapshotReplacesList(t *testing.T) {
	f := newFeed(&clienttest.Fake{})
	f.Reconcile(SourcePush, alert("gone", models.UrgencyLow, models.AlertStatusActive, nil))
	f.Reconcile(SourcePoll,
		alert("b2", models.UrgencyLow, models.AlertStatusActive, nil),
		alert("b1", models.UrgencyLow, models.AlertStatusActive, nil),
		alert("b2", models.UrgencyLow, models.AlertStatusActive, nil))
	assert.Equal(t, []string{"b2", "b1"}, ids(f.View(Filter{})))
}

func TestFilterComposition(t *testing.T) {
	f := newFeed(&clienttest.Fake{})
	f.Reconcile(SourcePoll,
		alert("first", models.UrgencyCritical, models.AlertStatusActive, km(2)),
		alert("second", models.UrgencyLow, models.AlertStatusResolved, km(8)))

	got := f.View(Filter{Status: models.AlertStatusActive, MaxDistanceKm: 5})
	assert.Equal(t, []string{"first"}, ids(got))

	assert.Len(t, f.View(Filter{Status: "ALL", Urgency: "ALL"}), 2)
	assert.Equal(t, []string{"second"}, ids(f.View(Filter{Urgency: models.UrgencyLow})))
	assert.Empty(t, f.View(Filter{Urgency: models.UrgencyLow, Status: models.AlertStatusActive}))
}

func TestFilterRecencyAndText(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local)
	a := alert("a", models.UrgencyHigh, models.AlertStatusActive, nil)
	a.CreatedAt = now.Add(-30 * time.Minute)
	a.Description = "Severe CHEST pain"
	b := alert("b", models.UrgencyHigh, models.AlertStatusActive, nil)
	b.CreatedAt = now.Add(-3 * time.Hour)
	c := alert("c", models.UrgencyHigh, models.AlertStatusActive, nil)
	c.CreatedAt = now.Add(-20 * time.Hour)
	c.Location = &models.Location{Latitude: 40.71234, Longitude: -74.0}

	f := newFeed(&clienttest.Fake{})
	f.now = func() time.Time { return now }
	f.Reconcile(SourcePoll, a, b, c)

	assert.Equal(t, []string{"a"}, ids(f.View(Filter{Recency: RecencyLastHour})))
	assert.Equal(t, []string{"a", "b"}, ids(f.View(Filter{Recency: RecencyLast6Hours})))
	assert.Equal(t, []string{"a", "b"}, ids(f.View(Filter{Recency: RecencyToday})))
	assert.Len(t, f.View(Filter{Recency: RecencyAll}), 3)

	assert.Equal(t, []string{"a"}, ids(f.View(Filter{Text: "chest"})))
	assert.Equal(t, []string{"c"}, ids(f.View(Filter{Text: "40.712"})))
	assert.Empty(t, f.View(Filter{Text: "chest", Recency: RecencyLastHour, Urgency: models.UrgencyLow}))
}

func TestUnreadDerivation(t *testing.T) {
	responded := alert("r", models.UrgencyHigh, models.AlertStatusResponded, nil)
	responded.DoctorResponses = []models.DoctorResponse{{DoctorID: doctor.ID}}
	f := newFeed(&clienttest.Fake{})
	f.Reconcile(SourcePoll,
		alert("u", models.UrgencyHigh, models.AlertStatusActive, nil),
		responded,
		alert("closed", models.UrgencyHigh, models.AlertStatusCancelled, nil))

	assert.True(t, f.IsUnread("u"))
	assert.False(t, f.IsUnread("r"))
	assert.False(t, f.IsUnread("closed"))
	assert.False(t, f.IsUnread("missing"))
	assert.False(t, f.CanRespond("r"))
	assert.False(t, f.CanRespond("closed"))
	assert.True(t, f.CanRespond("u"))
}

func TestOpenUnreadCounterFloor(t *testing.T) {
	api := &clienttest.Fake{Unread: 1}
	f := newFeed(api)
	f.refreshBadge(context.Background())
	f.Reconcile(SourcePoll, alert("a", models.UrgencyHigh, models.AlertStatusActive, nil), alert("b", models.UrgencyHigh, models.AlertStatusActive, nil))

	for i := 0; i < 5; i++ {
		_, err := f.Open(context.Background(), "a")
		require.NoError(t, err)
		_, err = f.Open(context.Background(), "b")
		require.NoError(t, err)
	}
	f.Close()

	assert.EqualValues(t, 0, f.UnreadCount())
	_, _, marks, _ := api.Counts()
	assert.Positive(t, marks)

	_, err := f.Open(context.Background(), "missing")
	assert.Error(t, err)
}

func TestOpenSucceedsWhenMarkReadFails(t *testing.T) {
	api := &clienttest.Fake{MarkReadErr: errors.Transient(nil, "offline")}
	f := newFeed(api)
	f.Reconcile(SourcePush, alert("a", models.UrgencyHigh, models.AlertStatusActive, nil))
	assert.EqualValues(t, 1, f.UnreadCount())

	it, err := f.Open(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", it.Alert.ID)
	f.Close()
	assert.EqualValues(t, 0, f.UnreadCount())
}

func TestPollFailureKeepsStateAndRaisesBanner(t *testing.T) {
	api := &clienttest.Fake{}
	api.Add(alert("a", models.UrgencyHigh, models.AlertStatusActive, nil))
	f := newFeed(api)
	require.NoError(t, f.Refresh(context.Background()))

	api.SetListErr(errors.Transient(nil, "offline"))
	assert.Error(t, f.Refresh(context.Background()))
	assert.Equal(t, 1, f.Len())
	b := f.Banner()
	require.NotNil(t, b)
	assert.Equal(t, errors.KindTransient, b.Kind)
	assert.NotEmpty(t, b.Message)

	f.Dismiss()
	assert.Nil(t, f.Banner())

	// 推送错误只出横幅
	f.HandlePushError(errors.Transient(nil, "dropped"))
	assert.Equal(t, SourcePush, f.Banner().Source)
	assert.Equal(t, 1, f.Len())
}

func TestNewPushAlertNotifies(t *testing.T) {
	var notified int32
	f := New(&clienttest.Fake{}, clienttest.Identity{User: doctor}, Options{
		OnNew: func(a *models.EmergencyAlert) { atomic.AddInt32(&notified, 1) },
	})
	a := alert("a", models.UrgencyCritical, models.AlertStatusActive, nil)
	f.HandlePush(client.PushEvent{Alert: &a})
	f.HandlePush(client.PushEvent{Alert: &a, Update: true})

	assert.EqualValues(t, 1, atomic.LoadInt32(&notified))
	assert.EqualValues(t, 1, f.UnreadCount())
}

type countingPush struct{ started, closed int32 }

func (p *countingPush) Start(ctx context.Context) { atomic.AddInt32(&p.started, 1) }
func (p *countingPush) Close()                    { atomic.AddInt32(&p.closed, 1) }

func TestStartAndCloseTearDown(t *testing.T) {
	api := &clienttest.Fake{}
	api.Add(alert("a", models.UrgencyHigh, models.AlertStatusActive, nil))
	push := &countingPush{}
	f := New(api, clienttest.Identity{User: doctor}, Options{PollInterval: 10 * time.Millisecond, BadgePollInterval: 10 * time.Millisecond})
	f.AttachPush(push)

	f.Start(context.Background())
	require.Eventually(t, func() bool { return f.Len() == 1 }, time.Second, 5*time.Millisecond)
	f.Close()

	_, _, _, lists := api.Counts()
	time.Sleep(50 * time.Millisecond)
	_, _, _, after := api.Counts()
	assert.Equal(t, lists, after)
	assert.EqualValues(t, 1, atomic.LoadInt32(&push.started))
	assert.EqualValues(t, 1, atomic.LoadInt32(&push.closed))
}

func TestOptimisticPatchLifecycle(t *testing.T) {
	f := newFeed(&clienttest.Fake{})
	a := alert("a", models.UrgencyHigh, models.AlertStatusActive, nil)
	f.Reconcile(SourcePoll, a)

	require.NoError(t, f.BeginResponse("a", models.DoctorResponse{ResponseType: models.ResponseResponding}))
	assert.False(t, f.CanRespond("a"))
	assert.False(t, f.IsUnread("a"))
	assert.True(t, errors.IsKind(f.BeginResponse("a", models.DoctorResponse{}), errors.KindRejected))

	// 失败：列表不变，可以重试
	f.FailResponse("a", errors.Transient(nil, "offline"))
	it, _ := f.Get("a")
	assert.Equal(t, PatchFailed, it.Patch.State)
	assert.Empty(t, it.Alert.DoctorResponses)
	assert.True(t, f.CanRespond("a"))

	// 确认后，即使随后到达的旧快照里没有响应，也不能再次响应
	require.NoError(t, f.BeginResponse("a", models.DoctorResponse{ResponseType: models.ResponseResponding}))
	f.ConfirmResponse("a", nil)
	f.Reconcile(SourcePoll, a)
	assert.False(t, f.CanRespond("a"))

	server := a
	server.Status = models.AlertStatusResponded
	server.DoctorResponses = []models.DoctorResponse{{DoctorID: doctor.ID}}
	f.Reconcile(SourcePoll, server)
	it, _ = f.Get("a")
	assert.Nil(t, it.Patch)
	assert.False(t, it.CanRespond)
}

func TestPollCatchesMissedPush(t *testing.T) {
	var notified int32
	api := &clienttest.Fake{}
	f := New(api, clienttest.Identity{User: doctor}, Options{
		RequestTimeout: time.Second,
		OnNew:          func(a *models.EmergencyAlert) { atomic.AddInt32(&notified, 1) },
	})
	api.Add(alert("seen", models.UrgencyHigh, models.AlertStatusActive, nil))
	require.NoError(t, f.Refresh(context.Background()))
	assert.Zero(t, atomic.LoadInt32(&notified))
	assert.Zero(t, f.UnreadCount())

	// 推送在重连间隙丢失，只有轮询看到
	api.Add(alert("missed", models.UrgencyCritical, models.AlertStatusActive, nil))
	require.NoError(t, f.Refresh(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&notified))
	assert.EqualValues(t, 1, f.UnreadCount())
	assert.True(t, f.IsUnread("missed"))

	// 推送随后补到，不重复计数
	late := alert("missed", models.UrgencyCritical, models.AlertStatusActive, nil)
	f.HandlePush(client.PushEvent{Alert: &late})
	require.NoError(t, f.Refresh(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&notified))
	assert.EqualValues(t, 1, f.UnreadCount())

	// 某次快照漏掉后再出现，也不再提醒
	f.Reconcile(SourcePoll, alert("seen", models.UrgencyHigh, models.AlertStatusActive, nil))
	require.NoError(t, f.Refresh(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&notified))
	assert.EqualValues(t, 1, f.UnreadCount())
}

func TestFilterTextMatchesAddress(t *testing.T) {
	a := alert("a", models.UrgencyHigh, models.AlertStatusActive, nil)
	a.Location = &models.Location{Latitude: 51.5, Longitude: -0.12, Address: "12 Harbour Road, Dock Ward"}
	f := newFeed(&clienttest.Fake{})
	f.Reconcile(SourcePoll, a, alert("b", models.UrgencyHigh, models.AlertStatusActive, nil))

	assert.Equal(t, []string{"a"}, ids(f.View(Filter{Text: "harbour road"})))
	assert.Equal(t, []string{"a"}, ids(f.View(Filter{Text: "51.50000"})))
}
