// Package scheduler drives the reconciliation loop: one pass at
// startup, one per tick, and on-demand passes requested through
// Trigger. Requests arriving while a pass runs coalesce; the
// orchestrator's own single-flight guard drops true overlaps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/choresyncd/internal/reconcile"
)

// Runner is the reconciliation entry point. Satisfied by
// *reconcile.Orchestrator.
type Runner interface {
	EnsureUpToDate(ctx context.Context) (*reconcile.Report, error)
}

// Scheduler owns the background loop.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. interval is the periodic pass spacing;
// timeout bounds each pass.
func New(runner Runner, interval, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the loop and waits for any in-flight pass.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Trigger requests an on-demand pass. Never blocks; a request made
// while one is already queued is dropped.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
		s.logger.Debug("sync trigger already queued, dropping")
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, "periodic")
		case <-s.trigger:
			s.runOnce(ctx, "on-demand")
		}
	}
}

func (s *Scheduler) runOnce(parent context.Context, reason string) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	report, err := s.runner.EnsureUpToDate(ctx)
	switch {
	case err != nil:
		s.logger.Warn("reconciliation pass failed",
			zap.String("reason", reason),
			zap.Error(err))
	case report == nil:
		// Dropped by the single-flight guard.
	default:
		s.logger.Debug("reconciliation pass finished",
			zap.String("reason", reason),
			zap.Int("created", report.Created),
			zap.Int("expired", report.Expired))
	}
}
