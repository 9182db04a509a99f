package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"MediLink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifier struct {
	perm Permission
	err  error
	got  []Message
}

func (s *stubNotifier) Name() string           { return "stub" }
func (s *stubNotifier) Permission() Permission { return s.perm }
func (s *stubNotifier) Notify(ctx context.Context, msg Message) error {
	s.got = append(s.got, msg)
	return s.err
}

func TestDispatcherDegradesToInApp(t *testing.T) {
	denied := &stubNotifier{perm: PermissionDenied}
	undecided := &stubNotifier{perm: PermissionDefault}
	d := NewDispatcher(denied, undecided)

	var fallback []Message
	d.OnInApp(func(m Message) { fallback = append(fallback, m) })

	assert.Zero(t, d.Dispatch(context.Background(), Message{Title: "CARDIAC"}))
	assert.Zero(t, d.Dispatch(context.Background(), Message{Title: "STROKE"}))
	assert.EqualValues(t, 2, d.InApp())
	assert.Len(t, fallback, 2)
	assert.Empty(t, denied.got)
	assert.Empty(t, undecided.got)

	d.ResetInApp()
	assert.Zero(t, d.InApp())
}

func TestDispatcherDeliversToGranted(t *testing.T) {
	broken := &stubNotifier{perm: PermissionGranted, err: errors.New("offline")}
	ok := &stubNotifier{perm: PermissionGranted}
	d := NewDispatcher(broken)
	d.Add(ok)

	assert.Equal(t, 1, d.Dispatch(context.Background(), Message{Title: "x"}))
	assert.Zero(t, d.InApp())
	assert.Len(t, ok.got, 1)

	ok.err = errors.New("offline")
	assert.Zero(t, d.Dispatch(context.Background(), Message{Title: "y"}))
	assert.EqualValues(t, 1, d.InApp())
}

func TestTerminalPermissionAndBell(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)
	d := NewDispatcher(term)

	assert.Zero(t, d.Dispatch(context.Background(), Message{Title: "before"}))
	d.RequestPermissions(context.Background())
	require.Equal(t, PermissionGranted, term.Permission())

	assert.Equal(t, 1, d.Dispatch(context.Background(), Message{Title: "CARDIAC", Body: "2.1 km", Sound: true, Urgent: true}))
	assert.Equal(t, "\a!! CARDIAC: 2.1 km\n", buf.String())

	term.Deny()
	assert.Zero(t, d.Dispatch(context.Background(), Message{Title: "after"}))
	assert.EqualValues(t, 2, d.InApp())
}

func TestJPushHTTPClient(t *testing.T) {
	var payload map[string]interface{}
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	push := NewJPush(JPushConfig{AppKey: "app", MasterSecret: "secret", Endpoint: srv.URL}, nil)
	require.Equal(t, PermissionGranted, push.Permission())
	require.NoError(t, push.Notify(context.Background(), Message{Title: "New alert", Body: "CRITICAL", Tag: "doctors"}))

	assert.Equal(t, "app", user)
	assert.Equal(t, "secret", pass)
	assert.Equal(t, map[string]interface{}{"tag": []interface{}{"doctors"}}, payload["audience"])
}

func TestJPushRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad secret"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	push := NewJPush(JPushConfig{AppKey: "app", Endpoint: srv.URL}, nil)
	err := push.PushToAll(context.Background(), "t", "c", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, errors.GetCode(err))

	assert.Equal(t, PermissionDenied, NewJPush(JPushConfig{}, nil).Permission())
}
