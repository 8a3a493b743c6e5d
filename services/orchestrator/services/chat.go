// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services holds the orchestration logic that sits between the HTTP
// handlers and the stores: the response generator and the per-session
// conversation router.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/aira/services/llm"
	"github.com/AleutianAI/aira/services/orchestrator/conversation"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/retrieval"
	"github.com/AleutianAI/aira/services/orchestrator/sessions"
	"github.com/AleutianAI/aira/services/orchestrator/store"
	"github.com/AleutianAI/aira/services/orchestrator/textsim"
)

var tracer = otel.Tracer("aira.orchestrator.services")

var (
	chatResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aira",
		Subsystem: "chat",
		Name:      "responses_total",
		Help:      "Chat replies by path (recall, rag, fallback).",
	}, []string{"path"})

	chatLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aira",
		Subsystem: "chat",
		Name:      "response_seconds",
		Help:      "Time to produce a chat reply.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"path"})
)

const (
	pathRecall   = "recall"
	pathRAG      = "rag"
	pathFallback = "fallback"
)

// =============================================================================
// Configuration
// =============================================================================

// ChatConfig tunes the response generator.
//
// # Fields
//
//   - Persona: System prompt that opens every completion.
//   - RecallThreshold: Minimum TF-IDF cosine for a remembered reply to be reused.
//   - RetrievalK: Passages fetched for RAG.
//   - RetrievalTimeout: Bound on one retrieval call.
//   - HistoryTurns: Most recent turns included in the prompt. Zero means all.
//   - FallbackText: Reply used when the completion engine fails.
type ChatConfig struct {
	Persona          string        `yaml:"persona"`
	RecallThreshold  float64       `yaml:"recall_threshold"`
	RetrievalK       int           `yaml:"retrieval_k"`
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout"`
	HistoryTurns     int           `yaml:"history_turns"`
	FallbackText     string        `yaml:"fallback_text"`
}

const (
	DefaultPersona = "You are AIRA, a warm and supportive wellbeing assistant. " +
		"Answer briefly and kindly. Use the user's profile and the reference " +
		"material when they help; never invent facts about the user."
	DefaultRecallThreshold  = 0.3
	DefaultRetrievalK       = 2
	DefaultRetrievalTimeout = 10 * time.Second
	DefaultHistoryTurns     = 20
	DefaultFallbackText     = "I'm having trouble responding right now. Please try again in a moment."
)

// DefaultChatConfig returns the production settings.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Persona:          DefaultPersona,
		RecallThreshold:  DefaultRecallThreshold,
		RetrievalK:       DefaultRetrievalK,
		RetrievalTimeout: DefaultRetrievalTimeout,
		HistoryTurns:     DefaultHistoryTurns,
		FallbackText:     DefaultFallbackText,
	}
}

func (c ChatConfig) withDefaults() ChatConfig {
	d := DefaultChatConfig()
	if c.Persona == "" {
		c.Persona = d.Persona
	}
	if c.RecallThreshold <= 0 {
		c.RecallThreshold = d.RecallThreshold
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = d.RetrievalK
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = d.RetrievalTimeout
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	if c.FallbackText == "" {
		c.FallbackText = d.FallbackText
	}
	return c
}

// =============================================================================
// ChatService
// =============================================================================

// ChatReply is the outcome of one free-chat turn.
//
// ResponseID is empty when the fallback text was returned; nothing was
// stored in that case.
type ChatReply struct {
	ResponseID string        `json:"response_id,omitempty"`
	Text       string        `json:"response"`
	Latency    time.Duration `json:"-"`
	Recalled   bool          `json:"recalled"`
	Title      string        `json:"title,omitempty"`
}

// LatencySeconds is the latency as reported to clients.
func (r *ChatReply) LatencySeconds() float64 {
	return r.Latency.Seconds()
}

// ChatDeps are the collaborators of ChatService.
type ChatDeps struct {
	LLM       llm.LLMClient
	Retriever retrieval.Retriever
	Profiles  store.Profiles
	Feedback  store.Feedback
	Sessions  *sessions.Manager
	History   *conversation.HistoryCache
	Logger    *slog.Logger
}

// ChatService is the response generator for free chat.
//
// # Description
//
// A turn first tries recall: when the user's text closely matches a reply
// the user asked AIRA to remember, that reply is refined with one
// completion and retrieval is skipped. Otherwise the prompt is assembled
// from the persona, the profile, the cached history and retrieved
// passages.
//
// # Thread Safety
//
// Safe for concurrent use. Turns of one session must be serialised by the
// caller (ConversationService does this).
type ChatService struct {
	deps   ChatDeps
	cfg    ChatConfig
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewChatService creates the service. Retriever and Feedback may be nil,
// which disables RAG and recall respectively.
func NewChatService(deps ChatDeps, cfg ChatConfig) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
}

// Respond answers one user message on a free-chat session.
//
// # Inputs
//
//   - userID: Authenticated caller.
//   - sessionID: Session the caller owns.
//   - text: The user's message. Must be non-blank.
//
// # Outputs
//
//   - *ChatReply: The reply. On completion failure this carries the
//     fallback text with no ResponseID.
//   - error: ValidationError, NotFound, Forbidden or store failures.
//     Completion failures never surface here.
func (s *ChatService) Respond(ctx context.Context, userID, sessionID, text string) (*ChatReply, error) {
	sess, err := s.deps.Sessions.Resolve(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, userID, sess, text)
}

func (s *ChatService) respond(ctx context.Context, userID string, sess *datatypes.Session, text string) (*ChatReply, error) {
	ctx, span := tracer.Start(ctx, "ChatService.Respond")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, datatypes.NewValidationError("message", "message is required")
	}

	start := s.now()
	path := pathRAG
	reply, recalled, err := s.tryRecall(ctx, userID, text)
	if recalled {
		path = pathRecall
	} else if err == nil {
		reply, err = s.generate(ctx, userID, sess.ID, text)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		s.logger.Error("Completion failed, returning fallback",
			"session_id", sess.ID, "path", path, "error", err)
		latency := s.now().Sub(start)
		chatResponses.WithLabelValues(pathFallback).Inc()
		chatLatency.WithLabelValues(pathFallback).Observe(latency.Seconds())
		return &ChatReply{Text: s.cfg.FallbackText, Latency: latency}, nil
	}

	now := s.now().UTC()
	responseID := s.newID()
	userMsg := datatypes.Message{Role: datatypes.RoleUser, Content: text, CreatedAt: now}
	aiMsg := datatypes.Message{Role: datatypes.RoleAI, Content: reply, CreatedAt: now, ResponseID: responseID}
	if err := s.deps.Sessions.AppendAndMaybeTitle(ctx, sess, userMsg, aiMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, err
	}
	if s.deps.History != nil {
		if err := s.deps.History.Append(ctx, sess.ID,
			conversation.Turn{Role: datatypes.RoleUser, Content: text},
			conversation.Turn{Role: datatypes.RoleAI, Content: reply},
		); err != nil {
			s.logger.Warn("History cache append failed", "session_id", sess.ID, "error", err)
		}
	}

	latency := s.now().Sub(start)
	chatResponses.WithLabelValues(path).Inc()
	chatLatency.WithLabelValues(path).Observe(latency.Seconds())
	span.SetAttributes(attribute.String("chat.path", path), attribute.String("response.id", responseID))
	return &ChatReply{
		ResponseID: responseID,
		Text:       reply,
		Latency:    latency,
		Recalled:   recalled,
		Title:      sess.Title,
	}, nil
}

// tryRecall reuses a remembered reply when the text is close enough to it.
//
// # Outputs
//
//   - string: The refined reply.
//   - bool: True when a remembered reply matched, even if refining failed.
//   - error: Completion failure while refining.
func (s *ChatService) tryRecall(ctx context.Context, userID, text string) (string, bool, error) {
	if s.deps.Feedback == nil {
		return "", false, nil
	}
	remembered, err := s.deps.Feedback.ListRemembered(ctx, userID)
	if err != nil {
		if !errors.Is(err, datatypes.ErrNotFound) {
			s.logger.Warn("Failed to load remembered replies", "user_id", userID, "error", err)
		}
		return "", false, nil
	}
	if len(remembered) == 0 {
		return "", false, nil
	}
	candidates := make([]string, len(remembered))
	for i, r := range remembered {
		candidates[i] = r.AIResponse
	}
	best, score := textsim.BestMatch(text, candidates)
	if best < 0 || score < s.cfg.RecallThreshold {
		return "", false, nil
	}
	s.logger.Debug("Recall matched", "user_id", userID, "score", score, "response_id", remembered[best].ResponseID)

	prompt := fmt.Sprintf(
		"The user asked: %q\nYou previously gave this answer, which the user saved as helpful:\n%s\n"+
			"Rewrite that answer so it responds naturally to the new question. Keep its substance.",
		text, remembered[best].AIResponse)
	reply, err := s.deps.LLM.Chat(ctx, []llm.ChatMessage{
		llm.System(s.cfg.Persona),
		llm.User(prompt),
	}, llm.GenerationParams{})
	if err != nil {
		return "", true, fmt.Errorf("refine remembered reply: %w", err)
	}
	return strings.TrimSpace(reply), true, nil
}

// generate runs the RAG path.
func (s *ChatService) generate(ctx context.Context, userID, sessionID, text string) (string, error) {
	msgs := []llm.ChatMessage{llm.System(s.systemPrompt(ctx, userID))}

	if s.deps.History != nil {
		turns, err := s.deps.History.Get(ctx, sessionID)
		if err != nil {
			s.logger.Warn("History unavailable, continuing without it", "session_id", sessionID, "error", err)
		}
		if n := s.cfg.HistoryTurns; n > 0 && len(turns) > n {
			turns = turns[len(turns)-n:]
		}
		for _, t := range turns {
			if t.Role == datatypes.RoleUser {
				msgs = append(msgs, llm.User(t.Content))
			} else {
				msgs = append(msgs, llm.Assistant(t.Content))
			}
		}
	}

	if passages := s.retrieve(ctx, text); len(passages) > 0 {
		msgs = append(msgs, llm.System("Reference material: "+retrieval.FormatContext(passages)))
	}
	msgs = append(msgs, llm.User(text))

	reply, err := s.deps.LLM.Chat(ctx, msgs, llm.GenerationParams{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (s *ChatService) retrieve(ctx context.Context, text string) []retrieval.Passage {
	if s.deps.Retriever == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()
	passages, err := s.deps.Retriever.Retrieve(rctx, text, s.cfg.RetrievalK)
	if err != nil {
		s.logger.Warn("Retrieval failed, answering without reference material", "error", err)
		return nil
	}
	return passages
}

// systemPrompt is the persona followed by what is known about the user.
func (s *ChatService) systemPrompt(ctx context.Context, userID string) string {
	var b strings.Builder
	b.WriteString(s.cfg.Persona)
	if s.deps.Profiles == nil {
		return b.String()
	}
	p, err := s.deps.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, datatypes.ErrNotFound) {
			s.logger.Warn("Profile unavailable for prompt", "user_id", userID, "error", err)
		}
		return b.String()
	}
	if facts := ProfileFacts(p); facts != "" {
		b.WriteString("\n\n")
		b.WriteString(facts)
	}
	return b.String()
}

// ProfileFacts renders the profile as prompt context. An empty profile
// renders as "".
func ProfileFacts(p *datatypes.Profile) string {
	var lines []string
	var fields []string
	for _, f := range datatypes.IntakeOrder {
		if v := p.Get(f); v != "" {
			fields = append(fields, fmt.Sprintf("%s: %s", f, v))
		}
	}
	if len(fields) > 0 {
		lines = append(lines, "About the user: "+strings.Join(fields, "; ")+".")
	}
	if len(p.Goals) > 0 {
		lines = append(lines, "Their goals: "+joinItems(p.Goals)+".")
	}
	if len(p.PersonalInfo) > 0 {
		lines = append(lines, "Things they shared: "+joinItems(p.PersonalInfo)+".")
	}
	return strings.Join(lines, "\n")
}

func joinItems(items []datatypes.MemoryItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.Text)
	}
	return strings.Join(parts, "; ")
}
