package syncloop

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// DefaultSchedule runs a pass every thirty seconds, like the polling bridge.
const DefaultSchedule = "@every 30s"

// Scheduler runs Loop.RunOnce on a cron schedule. Passes never overlap: a tick
// that fires while the previous pass is still running is skipped.
type Scheduler struct {
	loop    *Loop
	cron    *rcron.Cron
	spec    string
	timeout time.Duration
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler validates the cron spec and prepares a scheduler. Each pass is bounded by timeout when positive.
func NewScheduler(loop *Loop, spec string, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	s := &Scheduler{loop: loop, spec: spec, timeout: timeout, cron: rcron.New()}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling passes until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.loop.logger.Printf("scheduler started (%s)", s.spec)
}

// Stop prevents further passes and waits for a running one to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	if s.cancel != nil {
		defer s.cancel()
	}
	select {
	case <-done.Done():
		s.loop.logger.Printf("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.loop.logger.Printf("previous pass still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.loop.RunOnce(ctx); err != nil {
		s.loop.logger.Printf("pass failed: %v", err)
	}
}
