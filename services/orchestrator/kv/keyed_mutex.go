// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kv

import (
	"hash/maphash"
	"sync"
)

// DefaultStripes is the stripe count used by NewKeyedMutex when n <= 0.
const DefaultStripes = 256

// KeyedMutex serialises work per key using a fixed set of striped mutexes.
// Two keys may share a stripe; a key never maps to two stripes.
//
// # Examples
//
//	unlock := km.Lock(userID)
//	defer unlock()
type KeyedMutex struct {
	seed    maphash.Seed
	stripes []sync.Mutex
}

// NewKeyedMutex allocates n stripes.
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = DefaultStripes
	}
	return &KeyedMutex{seed: maphash.MakeSeed(), stripes: make([]sync.Mutex, n)}
}

func (k *KeyedMutex) stripe(key string) *sync.Mutex {
	return &k.stripes[maphash.String(k.seed, key)%uint64(len(k.stripes))]
}

// Lock blocks until key's stripe is held and returns the release func.
func (k *KeyedMutex) Lock(key string) func() {
	m := k.stripe(key)
	m.Lock()
	return m.Unlock
}
