// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	BaseURL string
	Model   string
	// EmbeddingModel is used by NewOllamaEmbedder. Defaults to Model.
	EmbeddingModel string
}

// Default sampling for Ollama when the caller sets nothing.
const (
	defaultOllamaTemperature = 0.2
	defaultOllamaTopK        = 20
	defaultOllamaTopP        = 0.9
)

// OllamaClient generates through a local Ollama server.
type OllamaClient struct {
	llm   *ollama.LLM
	model string
}

// NewOllamaClient creates a client for cfg.Model at cfg.BaseURL.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base url not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model not set")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	l, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model)
	return &OllamaClient{llm: l, model: cfg.Model}, nil
}

// Generate implements the LLMClient interface.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return o.Chat(ctx, []ChatMessage{User(prompt)}, params)
}

// Chat implements the LLMClient interface.
func (o *OllamaClient) Chat(ctx context.Context, messages []ChatMessage, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	resp, err := o.llm.GenerateContent(ctx, toMessageContent(messages), callOptions(params)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if strings.Contains(err.Error(), "not found") {
			return "", fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s': %w", o.model, o.model, err)
		}
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		span.SetStatus(codes.Error, "empty response")
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func toMessageContent(messages []ChatMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func callOptions(p GenerationParams) []llms.CallOption {
	temp := defaultOllamaTemperature
	if p.Temperature != nil {
		temp = float64(*p.Temperature)
	}
	topK := defaultOllamaTopK
	if p.TopK != nil {
		topK = *p.TopK
	}
	topP := defaultOllamaTopP
	if p.TopP != nil {
		topP = float64(*p.TopP)
	}
	opts := []llms.CallOption{
		llms.WithTemperature(temp),
		llms.WithTopK(topK),
		llms.WithTopP(topP),
	}
	if p.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*p.MaxTokens))
	}
	if len(p.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(p.Stop))
	}
	return opts
}

// NewOllamaEmbedder returns a langchaingo embedder backed by Ollama, used to
// vectorise passages and queries for the vector index.
func NewOllamaEmbedder(cfg OllamaConfig) (embeddings.Embedder, error) {
	model := cfg.EmbeddingModel
	if model == "" {
		model = cfg.Model
	}
	if cfg.BaseURL == "" || model == "" {
		return nil, fmt.Errorf("ollama embedder needs a base url and model")
	}
	l, err := ollama.New(
		ollama.WithServerURL(strings.TrimSuffix(cfg.BaseURL, "/")),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedding client: %w", err)
	}
	e, err := embeddings.NewEmbedder(l)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return e, nil
}

var _ LLMClient = (*OllamaClient)(nil)
