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
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aira.orchestrator.retrieval")

// DefaultWeaviateClass holds the reference passages.
const DefaultWeaviateClass = "AiraPassage"

// WeaviateConfig locates the Weaviate server.
type WeaviateConfig struct {
	URL   string
	Class string
}

// WeaviateIndex stores chunks as objects with caller-supplied vectors and
// answers queries with a nearVector search.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateIndex struct {
	client   *weaviate.Client
	class    string
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewWeaviateClient builds a client from a URL with or without scheme.
func NewWeaviateClient(url string) (*weaviate.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("weaviate url must not be empty")
	}
	cfg := weaviate.Config{Host: url, Scheme: "http"}
	if strings.HasPrefix(url, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		cfg.Host = strings.TrimPrefix(url, "http://")
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// NewWeaviateIndex wires a client to an embedder.
func NewWeaviateIndex(client *weaviate.Client, class string, embedder embeddings.Embedder, logger *slog.Logger) *WeaviateIndex {
	if class == "" {
		class = DefaultWeaviateClass
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateIndex{client: client, class: class, embedder: embedder, logger: logger}
}

// EnsureSchema creates the passage class if it does not exist.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(w.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check weaviate class %s: %w", w.class, err)
	}
	if exists {
		return nil
	}
	class := &models.Class{
		Class:       w.class,
		Description: "Reference passages used to ground chat replies",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "chunk_id", DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class %s: %w", w.class, err)
	}
	w.logger.Info("Created weaviate class", "class", w.class)
	return nil
}

// Index embeds and batch-imports chunks. Object IDs are the chunk IDs so a
// re-import overwrites.
func (w *WeaviateIndex) Index(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Index")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := w.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:  w.class,
			ID:     strfmt.UUID(c.ID),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"text":     c.Text,
				"source":   c.Source,
				"chunk_id": c.ID,
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return fmt.Errorf("batch import to weaviate: %w", err)
	}
	failed := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			failed++
			for _, e := range item.Result.Errors.Error {
				w.logger.Warn("Error in weaviate batch item", "class", w.class, "error", e.Message)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("weaviate rejected %d of %d chunks", failed, len(chunks))
	}
	return nil
}

// Retrieve implements Retriever.
func (w *WeaviateIndex) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	vec, err := w.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "source"},
		{Name: "chunk_id"},
		{Name: "_additional { certainty }"},
	}
	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearVector(w.client.GraphQL().NearVectorArgBuilder().WithVector(vec)).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}
	passages := parsePassages(result, w.class)
	span.SetAttributes(attribute.Int("passages", len(passages)))
	return passages, nil
}

// parsePassages extracts passages from a GraphQL Get response.
func parsePassages(result *models.GraphQLResponse, class string) []Passage {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return nil
	}
	out := make([]Passage, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		p := Passage{Chunk: Chunk{
			ID:     getString(m, "chunk_id"),
			Source: getString(m, "source"),
			Text:   getString(m, "text"),
		}}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				p.Score = certainty
			}
		}
		out = append(out, p)
	}
	return out
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

var _ Index = (*WeaviateIndex)(nil)
