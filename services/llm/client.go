// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm wraps the completion engines AIRA talks to.
//
// Two backends are supported: any OpenAI-compatible endpoint (Groq by
// default) through go-openai, and a local Ollama server through langchaingo.
// Callers depend on LLMClient only; production wiring wraps the backend in a
// ResilientClient which adds timeouts, retries, rate limiting and metrics.
package llm

import (
	"context"
	"errors"
)

// GenerationParams are optional sampling overrides. Nil means the backend
// default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Role of a chat message as understood by the completion APIs.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn sent to Chat.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System, User and Assistant build messages.
func System(content string) ChatMessage    { return ChatMessage{Role: RoleSystem, Content: content} }
func User(content string) ChatMessage      { return ChatMessage{Role: RoleUser, Content: content} }
func Assistant(content string) ChatMessage { return ChatMessage{Role: RoleAssistant, Content: content} }

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate completes a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat completes a conversation and returns the assistant reply.
	Chat(ctx context.Context, messages []ChatMessage, params GenerationParams) (string, error)
}

var (
	// ErrTimeout is returned when a single call exceeds its deadline while
	// the caller's context is still live. It is retryable.
	ErrTimeout = errors.New("llm call timed out")

	// ErrEmptyResponse is returned when the backend answers with no text.
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// Float32 and Int return pointers for GenerationParams literals.
func Float32(v float32) *float32 { return &v }
func Int(v int) *int             { return &v }
