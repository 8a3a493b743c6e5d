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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Clock Sanity
// =============================================================================

// ClockChecker guards retention cutoffs against a bad system clock.
//
// # Description
//
// A cleanup run computes "now minus retention" and deletes everything older.
// A clock set years into the future would wipe every session, so the cleaner
// asks the checker for the current time and aborts when it looks wrong.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type ClockChecker interface {
	// Now returns the current time if the clock passes the sanity check.
	Now() (time.Time, error)

	// ResetJumpDetection forgets the last good reading. Call after a known
	// legitimate time change such as an NTP step.
	ResetJumpDetection()
}

// ClockConfig bounds what the checker accepts.
//
// # Fields
//
//   - MinValidTime: Earliest acceptable time.
//   - MaxValidTime: Latest acceptable time.
//   - MaxBackwardJump: Largest allowed step back since the last good reading.
//   - MaxForwardJump: Largest allowed step forward since the last good reading.
//     Zero disables the forward check; the daily scheduler sets it to
//     cover its own interval.
type ClockConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultClockConfig returns bounds suitable for a daily job.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: time.Hour,
		MaxForwardJump:  0,
	}
}

type clockChecker struct {
	config   ClockConfig
	now      func() time.Time
	logger   *slog.Logger
	mu       sync.Mutex
	lastGood time.Time
	checked  bool
}

// NewClockChecker creates a checker reading the wall clock.
func NewClockChecker(config ClockConfig, logger *slog.Logger) ClockChecker {
	return NewClockCheckerWithSource(config, time.Now, logger)
}

// NewClockCheckerWithSource creates a checker reading now. Tests use it to
// simulate skewed clocks.
func NewClockCheckerWithSource(config ClockConfig, now func() time.Time, logger *slog.Logger) ClockChecker {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &clockChecker{config: config, now: now, logger: logger}
}

// Now validates the reading against the configured bounds and the last good
// reading, then returns it.
//
// # Outputs
//
//   - time.Time: The current time.
//   - error: Non-nil if the time is out of bounds or jumped suspiciously.
//     The baseline is not advanced on failure.
func (c *clockChecker) Now() (time.Time, error) {
	now := c.now()

	if now.Before(c.config.MinValidTime) {
		return time.Time{}, c.fail(fmt.Errorf("clock sanity: %s is before minimum valid time %s",
			now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339)))
	}
	if now.After(c.config.MaxValidTime) {
		return time.Time{}, c.fail(fmt.Errorf("clock sanity: %s is after maximum valid time %s",
			now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checked {
		diff := now.Sub(c.lastGood)
		if c.config.MaxBackwardJump > 0 && diff < -c.config.MaxBackwardJump {
			return time.Time{}, c.fail(fmt.Errorf("clock sanity: backward jump of %s (max %s)",
				-diff, c.config.MaxBackwardJump))
		}
		if c.config.MaxForwardJump > 0 && diff > c.config.MaxForwardJump {
			return time.Time{}, c.fail(fmt.Errorf("clock sanity: forward jump of %s (max %s)",
				diff, c.config.MaxForwardJump))
		}
	}
	c.lastGood = now
	c.checked = true
	return now, nil
}

func (c *clockChecker) fail(err error) error {
	c.logger.Warn("clock sanity check failed", slog.String("error", err.Error()))
	return err
}

// ResetJumpDetection clears the baseline so the next reading is accepted
// without jump detection.
func (c *clockChecker) ResetJumpDetection() {
	c.mu.Lock()
	c.checked = false
	c.mu.Unlock()
	c.logger.Info("clock checker: jump detection reset")
}

// =============================================================================
// Unchecked Clock
// =============================================================================

type uncheckedClock struct {
	now func() time.Time
}

// NewUncheckedClock returns a ClockChecker that always accepts now. Nil means
// time.Now.
func NewUncheckedClock(now func() time.Time) ClockChecker {
	if now == nil {
		now = time.Now
	}
	return uncheckedClock{now: now}
}

func (u uncheckedClock) Now() (time.Time, error) { return u.now(), nil }

func (u uncheckedClock) ResetJumpDetection() {}
