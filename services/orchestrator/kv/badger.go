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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/aira/services/orchestrator/store/badgerstore"
)

// BadgerStore is a Store persisted in the embedded database under a
// namespace prefix. Values are JSON encoded.
//
// # Limitations
//
// Badger hides expired keys on read and reclaims them during compaction, so
// Purge has nothing to delete and always reports zero.
type BadgerStore[V any] struct {
	db     *badgerstore.DB
	prefix string
}

// NewBadgerStore namespaces keys under "kv/{namespace}/".
func NewBadgerStore[V any](db *badgerstore.DB, namespace string) *BadgerStore[V] {
	return &BadgerStore[V]{db: db, prefix: "kv/" + namespace + "/"}
}

func (b *BadgerStore[V]) key(k string) []byte {
	return []byte(b.prefix + k)
}

func (b *BadgerStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var out V
	found := false
	err := b.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		var zero V
		return zero, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return out, found, nil
}

func (b *BadgerStore[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv encode %s: %w", key, err)
	}
	return b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		e := badger.NewEntry(b.key(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *BadgerStore[V]) Delete(ctx context.Context, key string) error {
	return b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(b.key(key))
	})
}

func (b *BadgerStore[V]) Purge(ctx context.Context) (int, error) {
	return 0, ctx.Err()
}

var _ Store[int] = (*BadgerStore[int])(nil)
