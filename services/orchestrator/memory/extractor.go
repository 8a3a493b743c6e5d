// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory consolidates chat into durable long-term memory: reminders,
// goals, personal info and the daily mood trend.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/aira/services/llm"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aira.orchestrator.memory")

// Kind is the type of memory extracted from an exchange.
type Kind string

const (
	KindReminder     Kind = "reminder"
	KindGoal         Kind = "goal"
	KindPersonalInfo Kind = "personal_info"
)

type extraction struct {
	task     string
	sentinel string
}

var extractions = map[Kind]extraction{
	KindReminder:     {task: "extract the main reminder or task from the conversation", sentinel: "No reminder detected."},
	KindGoal:         {task: "extract the main goal from the conversation", sentinel: "No goal detected."},
	KindPersonalInfo: {task: "extract personal information about the user from the conversation", sentinel: "No personal info detected."},
}

// Sentinel returns the text the completion engine answers with when the
// exchange holds nothing of the given kind.
func Sentinel(kind Kind) string {
	return extractions[kind].sentinel
}

// Extractor turns a (user message, AI reply) pair into one terse memory
// string with a single-purpose completion call.
type Extractor struct {
	llm    llm.LLMClient
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil logger uses slog.Default().
func NewExtractor(client llm.LLMClient, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: client, logger: logger}
}

// Extract returns the memory text of the requested kind.
//
// # Outputs
//
//   - string: The extracted text, trimmed of quotes and lead-ins.
//   - error: *datatypes.ExtractionFailure when the engine fails, answers
//     with nothing, or answers with the kind's sentinel. A ValidationError
//     for an unknown kind.
func (e *Extractor) Extract(ctx context.Context, kind Kind, userMessage, aiResponse string) (string, error) {
	ctx, span := tracer.Start(ctx, "Extractor.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("memory.kind", string(kind)))

	cfg, ok := extractions[kind]
	if !ok {
		return "", datatypes.NewValidationError("kind", "unknown memory kind %q", kind)
	}

	system := fmt.Sprintf("Your task is to %s.\nReturn ONLY the %s text in a simple format.\n"+
		"If no %s exists, return exactly %q", cfg.task, kind, kind, cfg.sentinel)
	convo := fmt.Sprintf("User: %s\nAI Assistant: %s\n\nWhat is the %s in this conversation? "+
		"Give only the %s, with no lead-in.", userMessage, aiResponse, kind, kind)

	out, err := e.llm.Chat(ctx, []llm.ChatMessage{llm.System(system), llm.User(convo)}, llm.GenerationParams{
		Temperature: llm.Float32(0),
	})
	if err != nil {
		e.logger.Warn("Memory extraction call failed", "kind", kind, "error", err)
		return "", &datatypes.ExtractionFailure{Kind: string(kind), Reason: err.Error()}
	}
	text := cleanExtraction(out, kind)
	if text == "" {
		return "", &datatypes.ExtractionFailure{Kind: string(kind), Reason: "empty result"}
	}
	if strings.EqualFold(strings.TrimSuffix(text, "."), strings.TrimSuffix(cfg.sentinel, ".")) {
		return "", &datatypes.ExtractionFailure{Kind: string(kind), Reason: "nothing detected"}
	}
	return text, nil
}

// cleanExtraction strips wrapping quotes and a "The goal is:" style lead-in.
func cleanExtraction(s string, kind Kind) string {
	s = strings.TrimSpace(s)
	label := strings.ReplaceAll(string(kind), "_", " ")
	lower := strings.ToLower(s)
	for _, lead := range []string{"the " + label + " in this conversation is:", "the " + label + " is:", label + ":"} {
		if strings.HasPrefix(lower, lead) {
			s = strings.TrimSpace(s[len(lead):])
			break
		}
	}
	return strings.Trim(s, "\"'` ")
}
