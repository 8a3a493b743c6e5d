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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestMemoryIndex_Retrieve(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Index(ctx, []Chunk{
		{ID: "1", Text: "Deep breathing slows your heart rate when you feel anxious."},
		{ID: "2", Text: "A regular sleep schedule improves mood and focus."},
		{ID: "3", Text: "Short walks outside reduce stress after long study sessions."},
	}))

	got, err := idx.Retrieve(ctx, "I feel anxious, what about breathing?", 2)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "1", got[0].ID)
	assert.LessOrEqual(t, len(got), 2)

	none, err := idx.Retrieve(ctx, "zebra xylophone", 2)
	require.NoError(t, err)
	assert.Empty(t, none)

	zero, err := idx.Retrieve(ctx, "sleep", 0)
	require.NoError(t, err)
	assert.Empty(t, zero)
}

func TestMemoryIndex_ReindexReplaces(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Index(ctx, []Chunk{{ID: "a", Text: "old text about cats"}}))
	require.NoError(t, idx.Index(ctx, []Chunk{{ID: "a", Text: "new text about dogs"}}))
	assert.Equal(t, 1, idx.Len())

	got, err := idx.Retrieve(ctx, "dogs", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "dogs")
}

func TestFormatContext(t *testing.T) {
	got := FormatContext([]Passage{
		{Chunk: Chunk{Text: "line one\nline two"}},
		{Chunk: Chunk{Text: "   "}},
		{Chunk: Chunk{Text: "three"}},
	})
	assert.Equal(t, "line one line two three", got)
	assert.Empty(t, FormatContext(nil))
}

func TestChunkID_Stable(t *testing.T) {
	assert.Equal(t, ChunkID("hello"), ChunkID("hello"))
	assert.NotEqual(t, ChunkID("hello"), ChunkID("world"))
	assert.Len(t, ChunkID("x"), 36)
}

func TestIngester_IngestDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("Journaling helps process difficult emotions."), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte(strings.Repeat("Gratitude practice. ", 100)), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0, 1, 2}, 0600))

	idx := NewMemoryIndex()
	in := NewIngester(idx, nil)
	n, err := in.IngestDir(context.Background(), dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3, "the long file is split into several chunks")
	assert.LessOrEqual(t, idx.Len(), n)

	again, err := in.IngestDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, n, again)
	assert.LessOrEqual(t, idx.Len(), n, "re-ingest does not duplicate chunks")

	got, err := idx.Retrieve(context.Background(), "journaling emotions", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.txt", got[0].Source)
}

func TestIngester_EmptyDocument(t *testing.T) {
	n, err := NewIngester(NewMemoryIndex(), nil).IngestDocument(context.Background(), "empty", "   ")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParsePassages(t *testing.T) {
	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]interface{}{
			"AiraPassage": []interface{}{
				map[string]interface{}{
					"text":        "Hydrate often.",
					"source":      "tips.md",
					"chunk_id":    "c1",
					"_additional": map[string]interface{}{"certainty": 0.91},
				},
				"malformed",
			},
		},
	}}
	got := parsePassages(resp, "AiraPassage")
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "tips.md", got[0].Source)
	assert.InDelta(t, 0.91, got[0].Score, 1e-9)

	assert.Empty(t, parsePassages(resp, "Other"))
	assert.Empty(t, parsePassages(nil, "AiraPassage"))
}

func TestNewWeaviateClient_RequiresURL(t *testing.T) {
	_, err := NewWeaviateClient("")
	assert.Error(t, err)
	c, err := NewWeaviateClient("https://weaviate.local:8080")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
