// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation keeps the short-lived per-session dialogue history
// fed to the completion engine.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/kv"
)

var tracer = otel.Tracer("aira.orchestrator.conversation")

const (
	// DefaultFreshness is how long a cached history is served before it is
	// rebuilt from the session store.
	DefaultFreshness = 5 * time.Minute

	// DefaultEviction is the kv TTL of a cached history.
	DefaultEviction = 10 * time.Minute

	// purgeEvery throttles the opportunistic Purge done on access.
	purgeEvery = time.Minute
)

// Turn is one message of cached history.
type Turn struct {
	Role    datatypes.Role `json:"role"`
	Content string         `json:"content"`
}

// Entry is the cached value for one session.
type Entry struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Turns       []Turn    `json:"turns"`
}

// SessionLoader is the slice of the session store the cache rebuilds from.
type SessionLoader interface {
	GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error)
}

// HistoryCache serves recent session history without hitting the session
// store on every turn.
//
// # Description
//
// Entries younger than the freshness window are served as-is. Older or
// missing entries are rebuilt from the store; concurrent rebuilds of the
// same session share one load. Append is write-around: it extends an
// existing entry and does nothing when none is cached.
//
// # Thread Safety
//
// Safe for concurrent use. Callers serialise Append per session.
type HistoryCache struct {
	store     kv.Store[Entry]
	loader    SessionLoader
	group     singleflight.Group
	freshness time.Duration
	eviction  time.Duration
	now       func() time.Time
	lastPurge atomic.Int64
	logger    *slog.Logger
}

// Option configures a HistoryCache.
type Option func(*HistoryCache)

// WithWindows overrides the freshness and eviction windows.
func WithWindows(freshness, eviction time.Duration) Option {
	return func(c *HistoryCache) {
		c.freshness = freshness
		c.eviction = eviction
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *HistoryCache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *HistoryCache) { c.logger = l }
}

// NewHistoryCache creates a cache over store, rebuilding from loader.
func NewHistoryCache(store kv.Store[Entry], loader SessionLoader, opts ...Option) *HistoryCache {
	c := &HistoryCache{
		store:     store,
		loader:    loader,
		freshness: DefaultFreshness,
		eviction:  DefaultEviction,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the session's history, oldest first.
func (c *HistoryCache) Get(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, span := tracer.Start(ctx, "HistoryCache.Get")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	c.maybePurge(ctx)

	entry, ok, err := c.store.Get(ctx, sessionID)
	if err != nil {
		c.logger.Warn("History cache read failed, rebuilding", "session_id", sessionID, "error", err)
	}
	if ok && c.now().Sub(entry.RefreshedAt) < c.freshness {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cloneTurns(entry.Turns), nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	v, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		return c.rebuild(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return cloneTurns(v.([]Turn)), nil
}

func (c *HistoryCache) rebuild(ctx context.Context, sessionID string) ([]Turn, error) {
	sess, err := c.loader.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", sessionID, err)
	}
	turns := TurnsFromMessages(sess.Messages)
	entry := Entry{RefreshedAt: c.now(), Turns: turns}
	if err := c.store.Set(ctx, sessionID, entry, c.eviction); err != nil {
		c.logger.Warn("History cache write failed", "session_id", sessionID, "error", err)
	}
	return turns, nil
}

// Append extends a cached entry with turns. A missing entry is left
// missing; the next Get rebuilds it from the store.
func (c *HistoryCache) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	entry, ok, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("read history cache: %w", err)
	}
	if !ok {
		return nil
	}
	entry.Turns = append(entry.Turns, turns...)
	if err := c.store.Set(ctx, sessionID, entry, c.eviction); err != nil {
		return fmt.Errorf("write history cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry for a session.
func (c *HistoryCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.store.Delete(ctx, sessionID)
}

func (c *HistoryCache) maybePurge(ctx context.Context) {
	now := c.now().UnixNano()
	last := c.lastPurge.Load()
	if now-last < int64(purgeEvery) || !c.lastPurge.CompareAndSwap(last, now) {
		return
	}
	if n, err := c.store.Purge(ctx); err != nil {
		c.logger.Warn("History cache purge failed", "error", err)
	} else if n > 0 {
		c.logger.Debug("Purged stale history entries", "count", n)
	}
}

// TurnsFromMessages converts stored messages into cached turns.
func TurnsFromMessages(msgs []datatypes.Message) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Turn{Role: m.Role, Content: m.Content})
	}
	return out
}

func cloneTurns(in []Turn) []Turn {
	return append([]Turn(nil), in...)
}
