// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kv provides the injected key-value store with per-entry TTL used
// for short-lived process state: the conversation history cache and
// in-progress assessments.
//
// Two implementations exist. MemoryStore keeps entries in a map and is the
// default for single-process deployments and tests. BadgerStore persists
// entries in the embedded database so they survive restarts.
package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed MemoryStore.
var ErrClosed = errors.New("kv store closed")

// Store is a typed key-value store whose entries expire after a TTL.
//
// # Description
//
// Get never returns an expired entry. Expired entries still occupy space
// until Purge runs or the key is touched.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store[V any] interface {
	// Get returns the value and true, or the zero value and false when the
	// key is absent or expired.
	Get(ctx context.Context, key string) (V, bool, error)

	// Set stores value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Purge drops expired entries and reports how many were removed.
	Purge(ctx context.Context) (int, error)
}

// Purger is the subset of Store the cleanup job needs.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// =============================================================================
// MemoryStore
// =============================================================================

type memEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e memEntry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store.
type MemoryStore[V any] struct {
	mu      sync.RWMutex
	entries map[string]memEntry[V]
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{entries: make(map[string]memEntry[V]), now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (m *MemoryStore[V]) WithClock(now func() time.Time) *MemoryStore[V] {
	m.now = now
	return m
}

func (m *MemoryStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}
	if e.expired(m.now()) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && cur.expired(m.now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return zero, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := memEntry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore[V]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore[V]) Purge(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of entries, including expired ones not yet purged.
func (m *MemoryStore[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Store[int] = (*MemoryStore[int])(nil)
