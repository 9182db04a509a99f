package geo

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"MediLink/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchTimeoutYieldsNil(t *testing.T) {
	slow := ProviderFunc(func(ctx context.Context) (*Position, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	})
	start := time.Now()
	assert.Nil(t, Fetch(context.Background(), slow, 30*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchDeniedYieldsNil(t *testing.T) {
	assert.Nil(t, Fetch(context.Background(), Denied{}, time.Second))
	assert.Nil(t, Fetch(context.Background(), nil, time.Second))
}

func TestFetchReturnsLocation(t *testing.T) {
	loc := Fetch(context.Background(), Static{Latitude: 1.5, Longitude: 2.5, Accuracy: 10}, time.Second)
	require.NotNil(t, loc)
	assert.Equal(t, 1.5, loc.Latitude)
	assert.Equal(t, 2.5, loc.Longitude)
}

func TestCachedReusesRecentFix(t *testing.T) {
	var calls int32
	inner := ProviderFunc(func(ctx context.Context) (*Position, error) {
		atomic.AddInt32(&calls, 1)
		return &Position{Latitude: 10, Longitude: 20}, nil
	})
	c := NewCached(inner, cache.NewGoCache(cache.LocalConfig{DefaultExpiration: time.Minute, CleanupInterval: time.Minute}), 5*time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.Position(context.Background())
	require.NoError(t, err)
	pos, err := c.Position(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, pos.Latitude)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// 超过 maxAge 重新定位
	c.now = func() time.Time { return now.Add(6 * time.Minute) }
	_, err = c.Position(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
