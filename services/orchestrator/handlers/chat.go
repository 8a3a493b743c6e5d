// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
	"github.com/AleutianAI/aira/services/orchestrator/observability"
	"github.com/AleutianAI/aira/services/orchestrator/services"
	"github.com/AleutianAI/aira/services/orchestrator/ttl"
)

// Conversation routes user turns to intake or free chat.
type Conversation interface {
	StartIntro(ctx context.Context, userID string) (*datatypes.Session, bool, error)
	Send(ctx context.Context, userID, sessionID, text string) (*services.SendResult, error)
}

// SessionLister is the read side of the session manager.
type SessionLister interface {
	CreateSession(ctx context.Context, userID string) (*datatypes.Session, error)
	ListSessions(ctx context.Context, userID string) ([]*datatypes.Session, error)
	GetHistory(ctx context.Context, sessionID, userID string) ([]datatypes.Message, error)
}

// SessionSummary is a session without its transcript.
type SessionSummary struct {
	SessionID  string                `json:"session_id"`
	Title      string                `json:"title"`
	Kind       datatypes.SessionKind `json:"kind"`
	CreatedAt  time.Time             `json:"created_at"`
	LastActive time.Time             `json:"last_active"`
	Messages   int                   `json:"message_count"`
}

func summarize(s *datatypes.Session) SessionSummary {
	return SessionSummary{
		SessionID:  s.ID,
		Title:      s.Title,
		Kind:       s.Kind,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive,
		Messages:   len(s.Messages),
	}
}

// toChatReply converts a conversation result to the wire format.
func toChatReply(r *services.SendResult) datatypes.ChatReply {
	out := datatypes.ChatReply{
		SessionID:  r.SessionID,
		Reply:      r.Reply,
		ResponseID: r.ResponseID,
		LatencyMs:  int64(r.Latency * 1000),
		Title:      r.Title,
	}
	if r.IntakeDone {
		out.IntakeCursor = datatypes.IntakeComplete
	}
	return out
}

// StartIntro returns the caller's introduction session, creating it and its
// opening question on first use. POST /v1/chat/intro
func StartIntro(conv Conversation) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, created, err := conv.StartIntro(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{
			"session_id":    sess.ID,
			"title":         sess.Title,
			"created":       created,
			"messages":      sess.Messages,
			"intake_cursor": sess.IntakeCursor,
		})
	}
}

// CreateSession opens a free-chat session. POST /v1/chat/sessions
func CreateSession(mgr SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := mgr.CreateSession(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, summarize(sess))
	}
}

// ListSessions lists the caller's sessions, most recent first.
// GET /v1/chat/sessions
func ListSessions(mgr SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := mgr.ListSessions(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		out := make([]SessionSummary, 0, len(list))
		for _, s := range list {
			out = append(out, summarize(s))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	}
}

// GetHistory returns a session's transcript. GET /v1/chat/sessions/:id
func GetHistory(mgr SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		msgs, err := mgr.GetHistory(c.Request.Context(), id, middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": msgs})
	}
}

// SendMessage handles one user turn. POST /v1/chat/sessions/:id/messages
func SendMessage(conv Conversation, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SendMessageRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := conv.Send(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Message)
		if err != nil {
			fail(c, err)
			return
		}
		metrics.RecordReply(string(res.Phase), res.Latency)
		c.JSON(http.StatusOK, toChatReply(res))
	}
}

// RunCleanup triggers the retention job. POST /v1/chat/cleanup (admin)
func RunCleanup(cleaner ttl.CleanupRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := cleaner.RunCleanup(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
