package session

import (
	"context"
	"net/http"
	"testing"
	"time"

	"MediLink/internal/client"
	"MediLink/internal/models"
	"MediLink/pkg/auth"
	"MediLink/pkg/cache"
	"MediLink/pkg/constant"
	"MediLink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	loginErr error
	user     *models.User
	token    string
	logouts  int

	// expires 非零时覆盖登录返回的过期时间
	expires time.Time
}

func (f *fakeAPI) Login(ctx context.Context, email, password string) (*client.Session, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	f.token = "tok"
	exp := time.Now().Add(time.Hour)
	if !f.expires.IsZero() {
		exp = f.expires
	}
	return &client.Session{Token: "tok", ExpiresAt: exp, User: f.user}, nil
}

func (f *fakeAPI) Logout(ctx context.Context) error {
	f.logouts++
	f.token = ""
	return errors.Transient(nil, "offline")
}

func (f *fakeAPI) Me(ctx context.Context) (*models.User, error) {
	if f.token == "" {
		return nil, errors.WithCode(http.StatusUnauthorized, "authentication required")
	}
	return f.user, nil
}

func (f *fakeAPI) SetToken(token string) { f.token = token }

func newCache() cache.Cache {
	return cache.NewGoCache(cache.LocalConfig{DefaultExpiration: time.Minute, CleanupInterval: time.Minute})
}

func TestLoginAndLogout(t *testing.T) {
	api := &fakeAPI{user: &models.User{ID: "d1", Role: constant.RoleDoctor}}
	p := NewProvider(api, newCache())
	ctx := context.Background()

	assert.False(t, p.Authenticated())
	u, err := p.Login(ctx, " Doc@Example.com ", "pw")
	require.NoError(t, err)
	assert.Equal(t, "d1", u.ID)
	assert.True(t, p.Authenticated())

	// 服务端登出失败也清掉本地状态
	p.Logout(ctx)
	assert.Nil(t, p.Current())
	assert.Equal(t, 1, api.logouts)
}

func TestLockedLoginStoresHint(t *testing.T) {
	locked := errors.FromStatus(http.StatusLocked, "locked").WithContext(client.CtxRetryAfter, "120")
	api := &fakeAPI{loginErr: locked}
	p := NewProvider(api, newCache())
	ctx := context.Background()

	_, err := p.Login(ctx, "doc@example.com", "pw")
	require.Error(t, err)

	hinted, left := p.LockoutHint(ctx, "DOC@example.com")
	assert.True(t, hinted)
	assert.InDelta(t, 120, left.Seconds(), 2)

	// 服务端放行后提示被清除
	api.loginErr = nil
	api.user = &models.User{ID: "d1"}
	_, err = p.Login(ctx, "doc@example.com", "pw")
	require.NoError(t, err)
	hinted, _ = p.LockoutHint(ctx, "doc@example.com")
	assert.False(t, hinted)
}

func TestLoadRestoresSession(t *testing.T) {
	api := &fakeAPI{user: &models.User{ID: "p1", Role: constant.RolePatient}}
	p := NewProvider(api, nil)

	_, err := p.Load(context.Background(), "")
	assert.Error(t, err)

	u, err := p.Load(context.Background(), "saved")
	require.NoError(t, err)
	assert.Equal(t, "p1", u.ID)
	assert.True(t, p.Authenticated())
}

func TestLoadReplacesExpiredLogin(t *testing.T) {
	api := &fakeAPI{user: &models.User{ID: "d1", Role: constant.RoleDoctor}, expires: time.Now().Add(-time.Minute)}
	p := NewProvider(api, nil)
	ctx := context.Background()

	_, err := p.Login(ctx, "doc@example.com", "pw")
	require.NoError(t, err)
	require.Nil(t, p.Current())

	_, err = p.Load(ctx, "opaque")
	require.NoError(t, err)
	assert.NotNil(t, p.Current())

	token, exp, err := auth.NewTokenService("secret", time.Hour).Generate("d1", constant.RoleDoctor, "Dr. Lee")
	require.NoError(t, err)
	_, err = p.Load(ctx, token)
	require.NoError(t, err)
	assert.WithinDuration(t, exp, auth.Expiry(token), time.Second)
	assert.True(t, p.Authenticated())

	expired, _, err := auth.NewTokenService("secret", time.Millisecond).Generate("d1", constant.RoleDoctor, "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = p.Load(ctx, expired)
	require.NoError(t, err)
	assert.Nil(t, p.Current())
}
