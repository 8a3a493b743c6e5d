// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/kv"
)

type countingLoader struct {
	loads   atomic.Int32
	mu      sync.Mutex
	session *datatypes.Session
	gate    chan struct{}
}

func (l *countingLoader) GetSession(_ context.Context, id string) (*datatypes.Session, error) {
	l.loads.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil || l.session.ID != id {
		return nil, datatypes.NotFoundf("session not found")
	}
	cp := *l.session
	cp.Messages = append([]datatypes.Message(nil), l.session.Messages...)
	return &cp, nil
}

func (l *countingLoader) add(msgs ...datatypes.Message) {
	l.mu.Lock()
	l.session.Messages = append(l.session.Messages, msgs...)
	l.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T) (*HistoryCache, *countingLoader, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	loader := &countingLoader{session: &datatypes.Session{
		ID: "s1",
		Messages: []datatypes.Message{
			{Role: datatypes.RoleUser, Content: "hi"},
			{Role: datatypes.RoleAI, Content: "hello", ResponseID: "r1"},
		},
	}}
	store := kv.NewMemoryStore[Entry]().WithClock(clk.Now)
	return NewHistoryCache(store, loader, WithClock(clk.Now)), loader, clk
}

func TestHistoryCache_ServesFreshEntry(t *testing.T) {
	c, loader, clk := setup(t)
	ctx := context.Background()

	turns, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []Turn{{Role: datatypes.RoleUser, Content: "hi"}, {Role: datatypes.RoleAI, Content: "hello"}}, turns)

	clk.Advance(4 * time.Minute)
	_, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.loads.Load())
}

func TestHistoryCache_RebuildsStaleEntry(t *testing.T) {
	c, loader, clk := setup(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	loader.add(datatypes.Message{Role: datatypes.RoleUser, Content: "written elsewhere"})

	clk.Advance(6 * time.Minute)
	turns, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 3)
	assert.Equal(t, int32(2), loader.loads.Load())
}

func TestHistoryCache_EvictedAfterTTL(t *testing.T) {
	c, loader, clk := setup(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	clk.Advance(11 * time.Minute)

	require.NoError(t, c.Append(ctx, "s1", Turn{Role: datatypes.RoleUser, Content: "dropped"}))
	turns, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 2, "append to an evicted entry is a no-op")
	assert.Equal(t, int32(2), loader.loads.Load())
}

func TestHistoryCache_AppendIsWriteAround(t *testing.T) {
	c, loader, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "s1", Turn{Role: datatypes.RoleUser, Content: "ignored"}))
	turns, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	require.NoError(t, c.Append(ctx, "s1",
		Turn{Role: datatypes.RoleUser, Content: "how are you"},
		Turn{Role: datatypes.RoleAI, Content: "great"}))
	turns, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "great", turns[3].Content)
	assert.Equal(t, int32(1), loader.loads.Load())
}

func TestHistoryCache_CollapsesConcurrentRebuilds(t *testing.T) {
	c, loader, _ := setup(t)
	loader.gate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turns, err := c.Get(ctx, "s1")
			assert.NoError(t, err)
			assert.Len(t, turns, 2)
		}()
	}
	require.Eventually(t, func() bool { return loader.loads.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()
	assert.Equal(t, int32(1), loader.loads.Load())
}

func TestHistoryCache_MissingSession(t *testing.T) {
	c, _, _ := setup(t)
	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestHistoryCache_Invalidate(t *testing.T) {
	c, loader, _ := setup(t)
	ctx := context.Background()
	_, _ = c.Get(ctx, "s1")
	require.NoError(t, c.Invalidate(ctx, "s1"))
	_, _ = c.Get(ctx, "s1")
	assert.Equal(t, int32(2), loader.loads.Load())
}
