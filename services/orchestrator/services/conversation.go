// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/aira/services/orchestrator/conversation"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/intake"
	"github.com/AleutianAI/aira/services/orchestrator/kv"
	"github.com/AleutianAI/aira/services/orchestrator/sessions"
)

// Phase names which engine produced a reply.
type Phase string

const (
	PhaseIntake Phase = "intake"
	PhaseChat   Phase = "chat"
)

// SendResult is the reply to one client message.
type SendResult struct {
	SessionID  string  `json:"session_id"`
	Phase      Phase   `json:"phase"`
	Reply      string  `json:"response"`
	ResponseID string  `json:"response_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Latency    float64 `json:"latency"`
	IntakeDone bool    `json:"intake_complete"`
}

// ConversationService routes a client message to intake or free chat.
//
// # Description
//
// Messages on an intro session whose intake is unfinished go to the intake
// state machine. Everything else goes to ChatService. Turns on the same
// session are serialised with a striped mutex so that appends, the cursor
// and the history cache stay in order.
//
// # Thread Safety
//
// Safe for concurrent use.
type ConversationService struct {
	sessions *sessions.Manager
	intake   *intake.Machine
	chat     *ChatService
	history  *conversation.HistoryCache
	locks    *kv.KeyedMutex
	now      func() time.Time
	logger   *slog.Logger
}

// NewConversationService wires the router. history may be nil.
func NewConversationService(
	mgr *sessions.Manager,
	machine *intake.Machine,
	chat *ChatService,
	history *conversation.HistoryCache,
	locks *kv.KeyedMutex,
	logger *slog.Logger,
) *ConversationService {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = kv.NewKeyedMutex(0)
	}
	return &ConversationService{
		sessions: mgr,
		intake:   machine,
		chat:     chat,
		history:  history,
		locks:    locks,
		now:      time.Now,
		logger:   logger,
	}
}

// StartIntro returns the caller's introduction session, creating it on
// first use.
func (s *ConversationService) StartIntro(ctx context.Context, userID string) (*datatypes.Session, bool, error) {
	unlock := s.locks.Lock("intro:" + userID)
	defer unlock()
	return s.sessions.StartIntro(ctx, userID, s.intake)
}

// Send handles one message on a session the caller owns.
//
// # Outputs
//
//   - *SendResult: The reply and which phase produced it.
//   - error: NotFound/Forbidden from session resolution, ValidationError
//     for an empty chat message, or store failures.
func (s *ConversationService) Send(ctx context.Context, userID, sessionID, text string) (*SendResult, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.Send")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.sessions.Resolve(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if sess.IsIntro() && !sess.IntakeDone() {
		start := s.now()
		reply, updated, err := s.intake.Advance(ctx, userID, sess, text)
		switch {
		case errors.Is(err, intake.ErrComplete):
			sess = updated
		case err != nil:
			return nil, err
		default:
			s.appendHistory(ctx, sess.ID, text, reply)
			span.SetAttributes(attribute.String("conversation.phase", string(PhaseIntake)))
			return &SendResult{
				SessionID:  sess.ID,
				Phase:      PhaseIntake,
				Reply:      reply,
				Title:      updated.Title,
				Latency:    s.now().Sub(start).Seconds(),
				IntakeDone: updated.IntakeDone(),
			}, nil
		}
	}

	if sess.IsIntro() && strings.TrimSpace(text) == "" {
		return &SendResult{SessionID: sess.ID, Phase: PhaseIntake, Reply: s.intake.Rules().AlreadyComplete, Title: sess.Title, IntakeDone: true}, nil
	}

	span.SetAttributes(attribute.String("conversation.phase", string(PhaseChat)))
	r, err := s.chat.respond(ctx, userID, sess, text)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		SessionID:  sess.ID,
		Phase:      PhaseChat,
		Reply:      r.Text,
		ResponseID: r.ResponseID,
		Title:      sess.Title,
		Latency:    r.LatencySeconds(),
		IntakeDone: sess.IsIntro(),
	}, nil
}

func (s *ConversationService) appendHistory(ctx context.Context, sessionID, userText, reply string) {
	if s.history == nil {
		return
	}
	var turns []conversation.Turn
	if t := strings.TrimSpace(userText); t != "" {
		turns = append(turns, conversation.Turn{Role: datatypes.RoleUser, Content: t})
	}
	turns = append(turns, conversation.Turn{Role: datatypes.RoleAI, Content: reply})
	if err := s.history.Append(ctx, sessionID, turns...); err != nil {
		s.logger.Warn("History cache append failed", "session_id", sessionID, "error", err)
	}
}
