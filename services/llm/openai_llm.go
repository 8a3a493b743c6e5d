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
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aira.llm")

const (
	// GroqBaseURL is the OpenAI-compatible Groq endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	// DefaultGroqModel is used when no model is configured for Groq.
	DefaultGroqModel = "llama-3.3-70b-versatile"

	// DefaultSystemPrompt is sent with Generate when no persona is set.
	DefaultSystemPrompt = "You are a helpful assistant."
)

// OpenAIConfig configures an OpenAI-compatible backend.
//
// # Fields
//
//   - APIKey: Bearer key. When empty, APIKeyFile is read.
//   - APIKeyFile: Secret file path (e.g. /run/secrets/groq_api_key).
//   - BaseURL: Endpoint root. Empty means api.openai.com.
//   - Model: Model name.
//   - SystemPrompt: Persona prepended by Generate.
type OpenAIConfig struct {
	APIKey       string
	APIKeyFile   string
	BaseURL      string
	Model        string
	SystemPrompt string
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// NewOpenAIClient builds a client, falling back to the secret file when no
// key is configured.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.APIKeyFile != "" {
		keyBytes, err := os.ReadFile(cfg.APIKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read api key file %s: %w", cfg.APIKeyFile, err)
		}
		apiKey = strings.TrimSpace(string(keyBytes))
		slog.Info("Read the LLM API key from secret file", "path", cfg.APIKeyFile)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("LLM model not set")
	}

	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	slog.Info("Initializing OpenAI-compatible client", "model", cfg.Model, "base_url", oc.BaseURL)
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(oc),
		model:        cfg.Model,
		systemPrompt: system,
	}, nil
}

// Generate implements the LLMClient interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return o.Chat(ctx, []ChatMessage{System(o.systemPrompt), User(prompt)}, params)
}

// Chat implements the LLMClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, messages []ChatMessage, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		span.SetStatus(codes.Error, "empty response")
		return "", ErrEmptyResponse
	}
	slog.Debug("Received chat completion", "model", o.model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

var _ LLMClient = (*OpenAIClient)(nil)
