// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/AleutianAI/aira/services/orchestrator/textsim"
)

// MemoryIndex is an in-process TF-IDF index.
//
// # Description
//
// Document frequencies are recomputed lazily after each Index call, so
// queries always score against the full current corpus.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryIndex struct {
	mu      sync.RWMutex
	chunks  []Chunk
	byID    map[string]int
	corpus  *textsim.Corpus
	vectors []textsim.Vector
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byID: make(map[string]int)}
}

// Index implements Indexer.
func (m *MemoryIndex) Index(ctx context.Context, chunks []Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Copy so snapshots held by in-flight Retrieve calls stay untouched.
	m.chunks = append(make([]Chunk, 0, len(m.chunks)+len(chunks)), m.chunks...)
	for _, c := range chunks {
		if i, ok := m.byID[c.ID]; ok {
			m.chunks[i] = c
			continue
		}
		m.byID[c.ID] = len(m.chunks)
		m.chunks = append(m.chunks, c)
	}
	m.corpus = nil
	m.vectors = nil
	return nil
}

// Len reports how many chunks are indexed.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

func (m *MemoryIndex) ensureVectors() {
	if m.corpus != nil {
		return
	}
	texts := make([]string, len(m.chunks))
	for i, c := range m.chunks {
		texts[i] = c.Text
	}
	m.corpus = textsim.NewCorpus(texts)
	m.vectors = make([]textsim.Vector, len(texts))
	for i, t := range texts {
		m.vectors[i] = m.corpus.Vector(t)
	}
}

// Retrieve implements Retriever. Chunks with zero similarity are never
// returned.
func (m *MemoryIndex) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	m.ensureVectors()
	corpus, vectors, chunks := m.corpus, m.vectors, m.chunks
	m.mu.Unlock()

	qv := corpus.Vector(query)
	out := make([]Passage, 0, k)
	for i, v := range vectors {
		if s := textsim.Cosine(qv, v); s > 0 {
			out = append(out, Passage{Chunk: chunks[i], Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

var _ Index = (*MemoryIndex)(nil)
