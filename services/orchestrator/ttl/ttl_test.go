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
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/AleutianAI/aira/services/orchestrator/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	fixedNow    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// fakeSessions records DeleteInactiveBefore calls. Other store.Sessions
// methods are not used by the cleaner and panic if reached.
type fakeSessions struct {
	store.Sessions

	mu         sync.Mutex
	lastActive map[string]time.Time
	intro      map[string]bool
	cutoffs    []time.Time
	err        error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{lastActive: map[string]time.Time{}, intro: map[string]bool{}}
}

func (f *fakeSessions) add(id string, lastActive time.Time, intro bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastActive[id] = lastActive
	f.intro[id] = intro
}

func (f *fakeSessions) DeleteInactiveBefore(_ context.Context, cutoff time.Time, keepIntro bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for id, at := range f.lastActive {
		if keepIntro && f.intro[id] {
			continue
		}
		if at.Before(cutoff) {
			delete(f.lastActive, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lastActive)
}

type fakeTokens struct {
	expiry map[string]time.Time
}

func (f *fakeTokens) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, exp := range f.expiry {
		if !exp.After(now) {
			delete(f.expiry, id)
			n++
		}
	}
	return n, nil
}

type fakePurger struct {
	n   int
	err error
}

func (p *fakePurger) Purge(context.Context) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n := p.n
	p.n = 0
	return n, nil
}

var errBoom = errors.New("boom")
