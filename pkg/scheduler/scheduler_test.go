package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryNowRunsImmediately(t *testing.T) {
	s := New()
	var runs int32
	s.EveryNow(time.Hour, FuncJob(func(ctx context.Context) { atomic.AddInt32(&runs, 1) }))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestStopWaitsAndPreventsNewJobs(t *testing.T) {
	s := New()
	var runs int32
	s.Every(5*time.Millisecond, FuncJob(func(ctx context.Context) { atomic.AddInt32(&runs, 1) }))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	after := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs))

	s.Every(time.Millisecond, FuncJob(func(ctx context.Context) { atomic.AddInt32(&runs, 100) }))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs))
}

func TestPanickingJobKeepsLoopAlive(t *testing.T) {
	s := New()
	defer s.Stop()

	var runs int32
	s.Every(5*time.Millisecond, FuncJob(func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
		panic("boom")
	}))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestCronDescriptor(t *testing.T) {
	cr := NewCron(time.UTC)
	_, err := cr.Add("@every 1h", FuncJob(func(ctx context.Context) {}))
	require.NoError(t, err)
	_, err = cr.Add("not a schedule", FuncJob(func(ctx context.Context) {}))
	assert.Error(t, err)

	cr.Start()
	assert.Len(t, cr.Entries(), 1)
	cr.Stop()
}
