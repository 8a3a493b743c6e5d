// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback records reactions to AI replies and routes "remember"
// actions into recall or the memory consolidator.
package feedback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/memory"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

var tracer = otel.Tracer("aira.orchestrator.feedback")

var submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aira",
	Name:      "feedback_submissions_total",
	Help:      "Feedback actions by type and destination.",
}, []string{"type", "remember_as"})

// Rememberer is the part of the memory consolidator feedback needs.
type Rememberer interface {
	Remember(ctx context.Context, userID string, kind memory.Kind, userMessage, aiResponse string, opts memory.RememberOptions) (*memory.Remembered, error)
}

// Result describes what a feedback action stored.
//
// Stored is false when a remember action found nothing to keep; Message
// then says why.
type Result struct {
	Type       datatypes.FeedbackType `json:"feedback_type"`
	RememberAs datatypes.RememberAs   `json:"remember_as,omitempty"`
	Stored     bool                   `json:"stored"`
	Message    string                 `json:"message"`
	Memory     *memory.Remembered     `json:"memory,omitempty"`
}

// Service handles feedback.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	feedback store.Feedback
	sessions store.Sessions
	memory   Rememberer
	now      func() time.Time
	logger   *slog.Logger
}

// NewService wires the feedback service. mem may be nil, in which case
// only recall is available for remember actions.
func NewService(fb store.Feedback, sessions store.Sessions, mem Rememberer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{feedback: fb, sessions: sessions, memory: mem, now: time.Now, logger: logger}
}

// Submit applies one feedback action. The request's tag validation is
// the caller's job; Submit re-checks what it depends on.
//
// # Outputs
//
//   - *Result: What was stored.
//   - error: ValidationError for an unknown type, a missing comment or an
//     incomplete exchange. NotFound when the response id is not in any of
//     the user's sessions.
func (s *Service) Submit(ctx context.Context, userID string, req datatypes.FeedbackRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Service.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("feedback.type", string(req.Type)))

	req.ResponseID = strings.TrimSpace(req.ResponseID)
	req.Comment = strings.TrimSpace(req.Comment)
	if req.ResponseID == "" {
		return nil, datatypes.NewValidationError("response_id", "response_id is required")
	}

	switch req.Type {
	case datatypes.FeedbackLike, datatypes.FeedbackDislike:
		comment := ""
		if req.Type == datatypes.FeedbackDislike {
			comment = req.Comment
		}
		if err := s.feedback.ApplyReaction(ctx, userID, req.ResponseID, req.Type, comment); err != nil {
			return nil, err
		}
	case datatypes.FeedbackComment:
		if req.Comment == "" {
			return nil, datatypes.NewValidationError("comment", "Comment cannot be empty.")
		}
		if err := s.feedback.ApplyReaction(ctx, userID, req.ResponseID, req.Type, req.Comment); err != nil {
			return nil, err
		}
	case datatypes.FeedbackRemember:
		return s.remember(ctx, userID, req)
	default:
		return nil, datatypes.NewValidationError("feedback_type", "feedback_type must be like, dislike, comment or remember")
	}

	submissions.WithLabelValues(string(req.Type), "").Inc()
	s.logger.Info("Feedback recorded", "user_id", userID, "response_id", req.ResponseID, "type", req.Type)
	return &Result{Type: req.Type, Stored: true, Message: "Feedback recorded successfully"}, nil
}

func (s *Service) remember(ctx context.Context, userID string, req datatypes.FeedbackRequest) (*Result, error) {
	as := req.RememberAs
	if as == "" {
		as = datatypes.RememberRecall
	}
	var kind memory.Kind
	switch as {
	case datatypes.RememberRecall:
	case datatypes.RememberReminder:
		kind = memory.KindReminder
	case datatypes.RememberGoal:
		kind = memory.KindGoal
	case datatypes.RememberPersonalInfo:
		kind = memory.KindPersonalInfo
	default:
		return nil, datatypes.NewValidationError("remember_as", "remember_as must be recall, reminder, goal or personal_info")
	}

	userMsg, aiMsg, err := s.exchange(ctx, userID, req.ResponseID)
	if err != nil {
		return nil, err
	}
	res := &Result{Type: req.Type, RememberAs: as}

	if as == datatypes.RememberRecall {
		err := s.feedback.AddRemembered(ctx, userID, datatypes.RememberedExchange{
			ResponseID:  req.ResponseID,
			UserMessage: userMsg.Content,
			AIResponse:  aiMsg.Content,
			CreatedAt:   s.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		res.Stored, res.Message = true, "Response remembered"
	} else {
		if s.memory == nil {
			return nil, datatypes.NewValidationError("remember_as", "only recall is available")
		}
		mem, err := s.memory.Remember(ctx, userID, kind, userMsg.Content, aiMsg.Content, memory.RememberOptions{
			ResponseID: req.ResponseID,
			Slot:       string(req.Slot),
			TimeZone:   req.TimeZone,
		})
		var ef *datatypes.ExtractionFailure
		switch {
		case errors.As(err, &ef):
			s.logger.Info("Nothing to remember in exchange", "user_id", userID, "kind", kind, "reason", ef.Reason)
			res.Message = memory.Sentinel(kind)
		case err != nil:
			return nil, err
		default:
			res.Memory = mem
			res.Stored = mem.Created
			res.Message = rememberedMessage(kind, mem.Created)
		}
	}

	submissions.WithLabelValues(string(req.Type), string(as)).Inc()
	s.logger.Info("Remember feedback applied", "user_id", userID, "response_id", req.ResponseID,
		"remember_as", as, "stored", res.Stored)
	return res, nil
}

func rememberedMessage(kind memory.Kind, created bool) string {
	if !created {
		switch kind {
		case memory.KindReminder:
			return "A reminder is already scheduled for that time."
		case memory.KindGoal:
			return "Goal already exists."
		}
	}
	switch kind {
	case memory.KindReminder:
		return "Reminder scheduled"
	case memory.KindGoal:
		return "Goal saved"
	default:
		return "Personal info saved"
	}
}

// exchange recovers the (user, AI) pair behind a response id.
func (s *Service) exchange(ctx context.Context, userID, responseID string) (datatypes.Message, datatypes.Message, error) {
	sess, err := s.sessions.FindByResponseID(ctx, userID, responseID)
	if errors.Is(err, datatypes.ErrNotFound) {
		return datatypes.Message{}, datatypes.Message{}, datatypes.NotFoundf("Chat data not found")
	}
	if err != nil {
		return datatypes.Message{}, datatypes.Message{}, err
	}
	i := sess.FindResponse(responseID)
	if i < 0 {
		return datatypes.Message{}, datatypes.Message{}, datatypes.NotFoundf("Chat data not found")
	}
	user, ok := sess.PrecedingUserMessage(i)
	if !ok {
		return datatypes.Message{}, datatypes.Message{}, datatypes.NewValidationError("response_id", "Incomplete chat data")
	}
	return user, sess.Messages[i], nil
}

// SubmitDaily stores the end-of-day rating.
func (s *Service) SubmitDaily(ctx context.Context, userID string, req datatypes.DailyFeedbackRequest) (*datatypes.DailyFeedback, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, datatypes.NewValidationError("session_id", "'session_id' and 'rating' are required.")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, datatypes.NewValidationError("rating", "Rating must be a number between 1 and 5.")
	}
	fb := &datatypes.DailyFeedback{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: strings.TrimSpace(req.SessionID),
		Rating:    req.Rating,
		Comment:   strings.TrimSpace(req.Comment),
		CreatedAt: s.now().UTC(),
	}
	if err := s.feedback.AddDailyFeedback(ctx, fb); err != nil {
		return nil, err
	}
	submissions.WithLabelValues("daily", "").Inc()
	s.logger.Info("Daily feedback submitted", "user_id", userID, "session_id", fb.SessionID, "rating", fb.Rating)
	return fb, nil
}
