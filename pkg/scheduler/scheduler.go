package scheduler

import (
	"context"
	"sync"
	"time"

	"MediLink/pkg/logger"

	"go.uber.org/zap"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Scheduler 周期任务；Stop 会等待所有正在执行的任务返回
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	return NewWithContext(context.Background())
}

// NewWithContext 父 context 取消时所有任务随之停止
func NewWithContext(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel}
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Done 调度器停止后关闭
func (s *Scheduler) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Scheduler) Every(d time.Duration, job Job) { s.spawn(func() { s.loopEvery(d, job, false) }) }

// EveryNow 先立即执行一次，再按周期执行
func (s *Scheduler) EveryNow(d time.Duration, job Job) { s.spawn(func() { s.loopEvery(d, job, true) }) }

func (s *Scheduler) spawn(fn func()) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Scheduler) loopEvery(d time.Duration, job Job, immediate bool) {
	if immediate {
		s.runSafe(job)
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.runSafe(job)
		}
	}
}

// runSafe 任务 panic 不会带走调度循环
func (s *Scheduler) runSafe(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduled job panicked", zap.Any("panic", r))
		}
	}()
	if s.ctx.Err() != nil {
		return
	}
	job.Run(s.ctx)
}
