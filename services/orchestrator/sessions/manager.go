// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sessions owns the lifecycle of chat threads: creation, the single
// introduction session per user, ownership checks, message appends and the
// one-time title.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

var tracer = otel.Tracer("aira.orchestrator.sessions")

// Opener supplies the first AI message of an introduction session and the
// intake cursor that goes with it. *intake.Machine implements it.
type Opener interface {
	Opening(ctx context.Context, userID string) (question string, cursor string, err error)
}

// Manager is the Session Manager.
//
// # Thread Safety
//
// Safe for concurrent use. Atomicity of "create intro once" and "title
// once" is delegated to the store.
type Manager struct {
	store  store.Sessions
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewManager creates a Manager over the session store. A nil logger uses
// slog.Default().
func NewManager(s store.Sessions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, now: time.Now, newID: uuid.NewString, logger: logger}
}

// CreateSession starts an empty free-chat session titled "New Session".
func (m *Manager) CreateSession(ctx context.Context, userID string) (*datatypes.Session, error) {
	ctx, span := tracer.Start(ctx, "Manager.CreateSession")
	defer span.End()

	now := m.now().UTC()
	sess := &datatypes.Session{
		ID:         m.newID(),
		UserID:     userID,
		Title:      datatypes.DefaultSessionTitle,
		Kind:       datatypes.SessionKindChat,
		Messages:   []datatypes.Message{},
		CreatedAt:  now,
		LastActive: now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return nil, fmt.Errorf("create session: %w", err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))
	m.logger.Info("Created chat session", "user_id", userID, "session_id", sess.ID)
	return sess, nil
}

// StartIntro returns the user's introduction session, creating it on the
// first call.
//
// # Description
//
// A new session is titled "Introduction Session" and seeded with the
// opener's question as its only message, with the cursor on that field.
// A lost creation race (the store reports a conflict) resolves to the
// session the winner created.
//
// # Outputs
//
//   - *datatypes.Session: The introduction session.
//   - bool: True when this call created it.
//   - error: Store or opener failures.
func (m *Manager) StartIntro(ctx context.Context, userID string, opener Opener) (*datatypes.Session, bool, error) {
	ctx, span := tracer.Start(ctx, "Manager.StartIntro")
	defer span.End()

	existing, err := m.store.FindIntroSession(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, datatypes.ErrNotFound) {
		span.RecordError(err)
		return nil, false, fmt.Errorf("find intro session: %w", err)
	}

	question, cursor, err := opener.Opening(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("intake opening: %w", err)
	}

	now := m.now().UTC()
	sess := &datatypes.Session{
		ID:     m.newID(),
		UserID: userID,
		Title:  datatypes.IntroSessionTitle,
		Kind:   datatypes.SessionKindIntro,
		Messages: []datatypes.Message{
			{Role: datatypes.RoleAI, Content: question, CreatedAt: now},
		},
		CreatedAt:    now,
		LastActive:   now,
		IntakeCursor: cursor,
		Titled:       true,
	}
	err = m.store.CreateSession(ctx, sess)
	if errors.Is(err, datatypes.ErrConflict) {
		existing, ferr := m.store.FindIntroSession(ctx, userID)
		if ferr != nil {
			return nil, false, fmt.Errorf("find intro session after conflict: %w", ferr)
		}
		return existing, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create intro session failed")
		return nil, false, fmt.Errorf("create intro session: %w", err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))
	m.logger.Info("Started introduction session", "user_id", userID, "session_id", sess.ID)
	return sess, true, nil
}

// Resolve loads a session and checks that userID owns it.
//
// # Outputs
//
//   - error: ErrNotFound for an unknown id, ErrForbidden (which also
//     matches ErrUnauthorized) when another user owns it.
func (m *Manager) Resolve(ctx context.Context, sessionID, userID string) (*datatypes.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("Session not found")
		}
		return nil, err
	}
	if sess.UserID != userID {
		m.logger.Warn("Session access denied", "session_id", sessionID, "user_id", userID)
		return nil, datatypes.Forbiddenf("Access to this session is not allowed")
	}
	return sess, nil
}

// GetHistory returns the messages of a session the user owns.
func (m *Manager) GetHistory(ctx context.Context, sessionID, userID string) ([]datatypes.Message, error) {
	sess, err := m.Resolve(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Messages == nil {
		return []datatypes.Message{}, nil
	}
	return sess.Messages, nil
}

// ListSessions returns the user's sessions, most recently active first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*datatypes.Session, error) {
	list, err := m.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastActive.After(list[j].LastActive)
	})
	return list, nil
}

// AppendAndMaybeTitle appends a user/AI exchange and, when these are the
// first messages of a free-chat session, titles it from the AI reply.
//
// The store's SetTitleOnce decides the race between concurrent first
// exchanges; only one title is ever written. sess is updated in place.
func (m *Manager) AppendAndMaybeTitle(ctx context.Context, sess *datatypes.Session, user, ai datatypes.Message) error {
	ctx, span := tracer.Start(ctx, "Manager.AppendAndMaybeTitle")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	wasEmpty := len(sess.Messages) == 0
	lastActive := ai.CreatedAt
	if lastActive.IsZero() {
		lastActive = m.now().UTC()
	}
	msgs := []datatypes.Message{user, ai}
	if err := m.store.AppendMessages(ctx, sess.ID, msgs, lastActive); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return fmt.Errorf("append messages: %w", err)
	}
	sess.Messages = append(sess.Messages, msgs...)
	sess.LastActive = lastActive

	if !wasEmpty || sess.IsIntro() || sess.Titled {
		return nil
	}
	title := DeriveTitle(ai.Content)
	applied, err := m.store.SetTitleOnce(ctx, sess.ID, title)
	if err != nil {
		// The exchange is already stored; a missing title is cosmetic.
		m.logger.Warn("Failed to set session title", "session_id", sess.ID, "error", err)
		return nil
	}
	if applied {
		sess.Title = title
		sess.Titled = true
		span.SetAttributes(attribute.String("session.title", title))
	}
	return nil
}
