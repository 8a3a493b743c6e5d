// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/aira/services/orchestrator/memory"
)

// =============================================================================
// Daily Scheduler
// =============================================================================

// DefaultRunAt is the local wall-clock time of the daily run.
const DefaultRunAt = "03:00"

// CleanupRunner is the retention entry point the scheduler triggers.
type CleanupRunner interface {
	RunCleanup(ctx context.Context) (CleanupResult, error)
}

// SentimentRunner is the consolidation pass that follows each cleanup.
type SentimentRunner interface {
	RunSentimentPass(ctx context.Context) (memory.PassResult, error)
}

// SchedulerConfig configures a Scheduler.
//
// # Fields
//
//   - RunAt: "HH:MM" in Location. Empty means DefaultRunAt.
//   - Location: Zone RunAt is interpreted in. Nil means time.Local.
//   - RunTimeout: Upper bound for one cycle. Zero means one hour.
//   - Logger: Nil means slog.Default().
type SchedulerConfig struct {
	RunAt      string
	Location   *time.Location
	RunTimeout time.Duration
	Logger     *slog.Logger
}

// CycleResult is the outcome of one scheduled cycle.
type CycleResult struct {
	Cleanup      CleanupResult
	CleanupErr   error
	Sentiment    memory.PassResult
	SentimentErr error
}

// Scheduler runs the cleanup and then the sentiment pass once a day.
//
// # Description
//
// The sentiment pass runs even if cleanup was aborted; the two are
// independent and a bad clock only blocks deletion.
//
// # Thread Safety
//
// Start, Stop and RunNow are safe for concurrent use. Cycles never overlap.
type Scheduler struct {
	cleaner   CleanupRunner
	sentiment SentimentRunner
	hour      int
	minute    int
	loc       *time.Location
	timeout   time.Duration
	logger    *slog.Logger

	now      func() time.Time
	newTimer func(d time.Duration) (<-chan time.Time, func() bool)

	mu      sync.Mutex
	cycleMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler validates cfg and returns a stopped Scheduler.
// sentiment may be nil to schedule cleanup alone.
func NewScheduler(cleaner CleanupRunner, sentiment SentimentRunner, cfg SchedulerConfig) (*Scheduler, error) {
	if cleaner == nil {
		return nil, errors.New("scheduler requires a cleanup runner")
	}
	if cfg.RunAt == "" {
		cfg.RunAt = DefaultRunAt
	}
	at, err := time.Parse("15:04", cfg.RunAt)
	if err != nil {
		return nil, fmt.Errorf("invalid run time %q: want HH:MM", cfg.RunAt)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		cleaner:   cleaner,
		sentiment: sentiment,
		hour:      at.Hour(),
		minute:    at.Minute(),
		loc:       cfg.Location,
		timeout:   cfg.RunTimeout,
		logger:    cfg.Logger,
		now:       time.Now,
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}, nil
}

// NextRun returns the first scheduled instant strictly after from.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	local := from.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

// Start launches the background loop.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler is already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("cleanup scheduler starting",
		slog.Int("hour", s.hour),
		slog.Int("minute", s.minute),
		slog.String("location", s.loc.String()),
		slog.Time("next_run", s.NextRun(s.now())))

	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for it, including any cycle in flight,
// to exit. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("cleanup scheduler stopped")
}

// RunNow performs one cycle immediately and independently of the schedule.
func (s *Scheduler) RunNow(ctx context.Context) CycleResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out CycleResult
	out.Cleanup, out.CleanupErr = s.cleaner.RunCleanup(ctx)
	if out.CleanupErr != nil {
		s.logger.Error("scheduled cleanup failed", slog.String("error", out.CleanupErr.Error()))
	}
	if s.sentiment != nil {
		out.Sentiment, out.SentimentErr = s.sentiment.RunSentimentPass(ctx)
		if out.SentimentErr != nil {
			s.logger.Error("scheduled sentiment pass failed", slog.String("error", out.SentimentErr.Error()))
		}
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		wait := s.NextRun(s.now()).Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		fire, stop := s.newTimer(wait)
		select {
		case <-ctx.Done():
			stop()
			return
		case <-fire:
			s.RunNow(ctx)
		}
	}
}
