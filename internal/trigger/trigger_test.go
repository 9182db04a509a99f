package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"MediLink/internal/client/clienttest"
	"MediLink/internal/geo"
	"MediLink/internal/models"
	"MediLink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var patient = &models.User{ID: "p-1", Name: "Pat"}

func fastOptions() Options {
	return Options{
		Countdown:       3,
		TickInterval:    5 * time.Millisecond,
		GeoTimeout:      50 * time.Millisecond,
		EmergencyNumber: "112",
	}
}

func submitted(api *clienttest.Fake) int {
	n, _, _, _ := api.Counts()
	return n
}

func TestCountdownSubmitsAtZero(t *testing.T) {
	api := &clienttest.Fake{}
	var mu sync.Mutex
	var ticks []int
	opts := fastOptions()
	opts.Position = geo.Static{Latitude: 1, Longitude: 2, Accuracy: 10}
	opts.OnTick = func(r int) {
		mu.Lock()
		ticks = append(ticks, r)
		mu.Unlock()
	}
	tr := New(api, clienttest.Identity{User: patient}, opts)

	state, err := tr.Trigger(context.Background(), true, models.AlertSubmission{Description: "chest pain"})
	require.NoError(t, err)
	assert.Equal(t, StateCountingDown, state)

	require.Eventually(t, func() bool { return tr.State() == StateSent }, time.Second, 2*time.Millisecond)
	tr.Close()

	mu.Lock()
	assert.Equal(t, []int{2, 1, 0}, ticks)
	mu.Unlock()
	assert.NotEmpty(t, tr.AlertID())
	require.Equal(t, 1, submitted(api))

	sub := api.Submitted[0]
	assert.Equal(t, models.AlertTypeGeneralEmergency, sub.Type)
	assert.Equal(t, models.UrgencyCritical, sub.Urgency)
	assert.False(t, sub.Timestamp.IsZero())
	assert.Nil(t, sub.Guest)
}

func TestCancelBeforeZeroNeverSubmits(t *testing.T) {
	for _, ticks := range []int{1, 2, 5} {
		api := &clienttest.Fake{}
		opts := fastOptions()
		opts.Countdown = ticks
		opts.TickInterval = 20 * time.Millisecond
		tr := New(api, clienttest.Identity{User: patient}, opts)

		_, err := tr.Trigger(context.Background(), true, models.AlertSubmission{})
		require.NoError(t, err)
		assert.True(t, tr.Cancel())
		assert.Equal(t, StateIdle, tr.State())
		assert.Equal(t, 0, tr.Remaining())

		time.Sleep(time.Duration(ticks+2) * opts.TickInterval)
		tr.Close()
		assert.Equal(t, 0, submitted(api), "countdown %d", ticks)
		assert.False(t, tr.Cancel())
	}
}

func TestContextCancelAbortsCountdown(t *testing.T) {
	api := &clienttest.Fake{}
	opts := fastOptions()
	opts.TickInterval = 20 * time.Millisecond
	tr := New(api, clienttest.Identity{User: patient}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := tr.Trigger(ctx, true, models.AlertSubmission{})
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool { return tr.State() == StateIdle }, time.Second, 2*time.Millisecond)
	tr.Close()
	assert.Equal(t, 0, submitted(api))
}

func TestSubmitWithLocationDenied(t *testing.T) {
	api := &clienttest.Fake{}
	opts := fastOptions()
	opts.Position = geo.Denied{}
	tr := New(api, clienttest.Identity{User: patient}, opts)

	id, err := tr.Submit(context.Background(), models.AlertSubmission{Type: models.AlertTypeCardiac})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StateSent, tr.State())
	require.Equal(t, 1, submitted(api))
	assert.Nil(t, api.Submitted[0].Location)
}

func TestSubmitOverridesCallerTimestamp(t *testing.T) {
	api := &clienttest.Fake{}
	tr := New(api, clienttest.Identity{User: patient}, fastOptions())
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	_, err := tr.Submit(context.Background(), models.AlertSubmission{Timestamp: time.Unix(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, fixed, api.Submitted[0].Timestamp)
}

func TestSubmitFailureThenRetry(t *testing.T) {
	api := &clienttest.Fake{SubmitErr: errors.Transient(nil, "connection refused")}
	tr := New(api, clienttest.Identity{User: patient}, fastOptions())

	_, err := tr.Submit(context.Background(), models.AlertSubmission{Description: "fell"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTransient))
	assert.Equal(t, StateFailed, tr.State())
	assert.Contains(t, tr.Message(err), "112")

	// 失败后仍可拨号
	uri, err := tr.EscalateToPhone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tel:112", uri)
	assert.Equal(t, StateFailed, tr.State())

	api.SubmitErr = nil
	id, err := tr.Retry(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StateSent, tr.State())
	require.Equal(t, 2, submitted(api))
	assert.Equal(t, "fell", api.Submitted[1].Description)

	_, err = tr.Retry(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindRejected))
}

func TestGuestMustChoose(t *testing.T) {
	api := &clienttest.Fake{}
	tr := New(api, clienttest.Identity{}, fastOptions())

	state, err := tr.Trigger(context.Background(), true, models.AlertSubmission{Description: "help"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingGuestChoice, state)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, submitted(api))
	assert.False(t, tr.Cancel())

	_, err = tr.SubmitAsGuest(context.Background(), models.GuestInfo{Name: "Ann"})
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindValidation, e.Kind)
	assert.Equal(t, "guest.phone", e.Field)
	assert.Equal(t, 0, submitted(api))
	assert.Equal(t, StateAwaitingGuestChoice, tr.State())

	_, err = tr.SubmitAsGuest(context.Background(), models.GuestInfo{Name: "Ann", Phone: "not a phone"})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Equal(t, 0, submitted(api))

	id, err := tr.SubmitAsGuest(context.Background(), models.GuestInfo{Name: "Ann", Phone: "+1 555 0100"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Equal(t, 1, submitted(api))
	require.NotNil(t, api.Submitted[0].Guest)
	assert.Equal(t, "Ann", api.Submitted[0].Guest.Name)
	assert.Equal(t, "help", api.Submitted[0].Description)
}

type recordingDialer struct{ uris []string }

func (d *recordingDialer) Dial(ctx context.Context, uri string) error {
	d.uris = append(d.uris, uri)
	return nil
}

func TestGuestEscalatesToPhone(t *testing.T) {
	api := &clienttest.Fake{}
	dialer := &recordingDialer{}
	opts := fastOptions()
	opts.Dialer = dialer
	tr := New(api, clienttest.Identity{}, opts)

	_, err := tr.Trigger(context.Background(), false, models.AlertSubmission{})
	require.NoError(t, err)
	uri, err := tr.EscalateToPhone(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tel:112", uri)
	assert.Equal(t, []string{"tel:112"}, dialer.uris)
	assert.Equal(t, StateIdle, tr.State())
	assert.Equal(t, 0, submitted(api))

	_, err = tr.SubmitAsGuest(context.Background(), models.GuestInfo{Name: "Ann", Phone: "5550100"})
	assert.True(t, errors.IsKind(err, errors.KindRejected))
}

func TestTriggerWhileBusyIsRejected(t *testing.T) {
	opts := fastOptions()
	opts.TickInterval = time.Hour
	tr := New(&clienttest.Fake{}, clienttest.Identity{User: patient}, opts)

	_, err := tr.Trigger(context.Background(), true, models.AlertSubmission{})
	require.NoError(t, err)
	state, err := tr.Trigger(context.Background(), true, models.AlertSubmission{})
	assert.Equal(t, StateCountingDown, state)
	assert.True(t, errors.IsKind(err, errors.KindRejected))
	tr.Close()
	assert.Equal(t, StateIdle, tr.State())
}
