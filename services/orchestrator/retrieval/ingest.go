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
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// ChunkSize is the target chunk length in characters.
	ChunkSize = 800
	// ChunkOverlap is the overlap between consecutive chunks.
	ChunkOverlap = 100
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Ingester splits documents into chunks and feeds them to an Indexer.
type Ingester struct {
	index    Indexer
	splitter textsplitter.TextSplitter
	logger   *slog.Logger
}

// NewIngester uses a recursive character splitter.
func NewIngester(index Indexer, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		index: index,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(ChunkSize),
			textsplitter.WithChunkOverlap(ChunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		),
		logger: logger,
	}
}

// ChunkID derives a stable UUID from the chunk text so re-ingesting the
// same content is idempotent.
func ChunkID(text string) string {
	hash := sha256.Sum256([]byte(text))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

// IngestDocument splits content and indexes the chunks. It returns the
// number of chunks written.
func (in *Ingester) IngestDocument(ctx context.Context, source, content string) (int, error) {
	parts, err := in.splitter.SplitText(content)
	if err != nil {
		return 0, fmt.Errorf("split %s: %w", source, err)
	}
	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, Chunk{ID: ChunkID(p), Source: source, Text: p})
	}
	if len(chunks) == 0 {
		in.logger.Warn("No chunks produced after splitting", "source", source)
		return 0, nil
	}
	if err := in.index.Index(ctx, chunks); err != nil {
		return 0, fmt.Errorf("index %s: %w", source, err)
	}
	in.logger.Info("Ingested document", "source", source, "chunk_count", len(chunks))
	return len(chunks), nil
}

// IngestDir ingests every .txt and .md file under dir.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		n, err := in.IngestDocument(ctx, rel, string(data))
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}
