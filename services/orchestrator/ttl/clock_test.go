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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steppedClock struct {
	t time.Time
}

func (s *steppedClock) now() time.Time { return s.t }

func TestClockChecker(t *testing.T) {
	cfg := ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxBackwardJump: time.Hour,
		MaxForwardJump:  48 * time.Hour,
	}

	tests := []struct {
		name    string
		steps   []time.Duration
		wantErr bool
	}{
		{name: "steady", steps: []time.Duration{0, time.Minute, 24 * time.Hour}},
		{name: "small backward step", steps: []time.Duration{0, -30 * time.Minute}},
		{name: "large backward jump", steps: []time.Duration{0, -2 * time.Hour}, wantErr: true},
		{name: "large forward jump", steps: []time.Duration{0, 72 * time.Hour}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &steppedClock{t: fixedNow}
			checker := NewClockCheckerWithSource(cfg, clk.now, quietLogger)
			var err error
			for _, step := range tt.steps {
				clk.t = clk.t.Add(step)
				_, err = checker.Now()
				if err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClockChecker_Bounds(t *testing.T) {
	past := NewClockCheckerWithSource(DefaultClockConfig(), func() time.Time {
		return time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	}, quietLogger)
	_, err := past.Now()
	assert.ErrorContains(t, err, "before minimum")

	future := NewClockCheckerWithSource(DefaultClockConfig(), func() time.Time {
		return time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	}, quietLogger)
	_, err = future.Now()
	assert.ErrorContains(t, err, "after maximum")
}

func TestClockChecker_ResetAcceptsJump(t *testing.T) {
	clk := &steppedClock{t: fixedNow}
	checker := NewClockCheckerWithSource(DefaultClockConfig(), clk.now, quietLogger)
	_, err := checker.Now()
	require.NoError(t, err)

	clk.t = fixedNow.Add(-3 * time.Hour)
	_, err = checker.Now()
	require.Error(t, err)

	checker.ResetJumpDetection()
	got, err := checker.Now()
	require.NoError(t, err)
	assert.Equal(t, clk.t, got)
}
