// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval provides the reference-passage index used to ground
// free-chat replies.
//
// Two indexes implement Index: MemoryIndex, an in-process TF-IDF index that
// needs no infrastructure, and WeaviateIndex, a vector index whose vectors
// come from an embeddings model. Ingester fills either from text files.
package retrieval

import (
	"context"
	"strings"
)

// Chunk is a unit of reference text stored in an index.
type Chunk struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Passage is a retrieved chunk with its relevance score.
type Passage struct {
	Chunk
	Score float64 `json:"score"`
}

// Retriever returns the k most relevant passages for query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// Indexer stores chunks. Re-indexing a chunk with the same ID replaces it.
type Indexer interface {
	Index(ctx context.Context, chunks []Chunk) error
}

// Index is a Retriever that can also be filled.
type Index interface {
	Retriever
	Indexer
}

// FormatContext joins passages into a single line of context text.
func FormatContext(passages []Passage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		t := strings.TrimSpace(strings.ReplaceAll(p.Text, "\n", " "))
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
