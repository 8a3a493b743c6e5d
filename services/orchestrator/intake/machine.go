// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intake runs the scripted introduction that fills a user's
// profile one field at a time before free chat begins.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

var tracer = otel.Tracer("aira.orchestrator.intake")

// ErrComplete is returned by Advance for an intro session whose intake has
// already finished. Callers route the message to free chat instead.
var ErrComplete = errors.New("intake already complete")

// Machine is the intake state machine.
//
// # Description
//
// The cursor names the field being asked. Each answer either fills that
// field and moves the cursor to the next missing field later in
// datatypes.IntakeOrder, or leaves everything unchanged and re-asks. The
// cursor never moves backward.
//
// # Thread Safety
//
// Safe for concurrent use across sessions. Calls for one session must be
// serialised by the caller.
type Machine struct {
	rules    *Rules
	profiles store.Profiles
	sessions store.Sessions
	now      func() time.Time
	logger   *slog.Logger
}

// NewMachine wires the machine. A nil logger uses slog.Default().
func NewMachine(rules *Rules, profiles store.Profiles, sessions store.Sessions, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{rules: rules, profiles: profiles, sessions: sessions, now: time.Now, logger: logger}
}

// Rules exposes the compiled script.
func (m *Machine) Rules() *Rules {
	return m.rules
}

// loadProfile treats a missing profile as empty; profiles are created on
// the first stored answer.
func (m *Machine) loadProfile(ctx context.Context, userID string) (*datatypes.Profile, error) {
	p, err := m.profiles.GetProfile(ctx, userID)
	if errors.Is(err, datatypes.ErrNotFound) {
		return &datatypes.Profile{UserID: userID, Fields: map[datatypes.ProfileField]string{}}, nil
	}
	return p, err
}

// Opening returns the question and cursor an intro session starts with.
// When every field is already present it returns the completion text and
// the terminal cursor.
func (m *Machine) Opening(ctx context.Context, userID string) (string, string, error) {
	p, err := m.loadProfile(ctx, userID)
	if err != nil {
		return "", "", err
	}
	field, ok := nextMissing(p, -1)
	if !ok {
		return m.rules.Completion, datatypes.IntakeComplete, nil
	}
	return m.rules.Question(field), string(field), nil
}

// Advance consumes one user answer on an intro session.
//
// # Description
//
// An empty userText re-asks the current question without changing state.
// A successful extraction stores the field and advances the cursor. A
// failed extraction re-asks. A failed profile write apologises, re-asks
// and leaves the cursor in place so the next turn retries.
//
// Every call appends the user message (when non-empty) and the reply to
// the session and bumps LastActive.
//
// # Outputs
//
//   - string: The reply shown to the user.
//   - *datatypes.Session: The session with the appended messages and new cursor.
//   - error: ErrComplete when intake is already done, otherwise store errors.
func (m *Machine) Advance(ctx context.Context, userID string, sess *datatypes.Session, userText string) (string, *datatypes.Session, error) {
	ctx, span := tracer.Start(ctx, "Machine.Advance")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	if sess.IntakeDone() {
		return "", sess, ErrComplete
	}

	profile, err := m.loadProfile(ctx, userID)
	if err != nil {
		return "", sess, err
	}

	field, ok := m.currentField(profile, sess.IntakeCursor)
	if !ok {
		if err := m.sessions.SetIntakeCursor(ctx, sess.ID, datatypes.IntakeComplete); err != nil {
			return "", sess, err
		}
		sess.IntakeCursor = datatypes.IntakeComplete
		return "", sess, ErrComplete
	}
	span.SetAttributes(attribute.String("intake.field", string(field)))

	userText = strings.TrimSpace(userText)
	question := m.rules.Question(field)
	cursor := string(field)
	var reply string

	switch value, extracted := m.rules.Extract(field, userText); {
	case userText == "":
		reply = question

	case !extracted:
		reply = m.rules.RetryPrefix + " " + question

	default:
		if err := m.profiles.SetProfileField(ctx, userID, field, value); err != nil {
			m.logger.Error("Failed to store intake answer",
				"user_id", userID, "field", field, "error", err)
			reply = m.rules.SaveFailurePrefix + " " + question
			break
		}
		if profile.Fields == nil {
			profile.Fields = map[datatypes.ProfileField]string{}
		}
		profile.Fields[field] = value
		if next, ok := nextMissing(profile, indexOf(field)); ok {
			cursor = string(next)
			reply = m.rules.AckPrefix + " " + m.rules.Question(next)
		} else {
			cursor = datatypes.IntakeComplete
			reply = m.rules.Completion
		}
	}

	if cursor != sess.IntakeCursor {
		if err := m.sessions.SetIntakeCursor(ctx, sess.ID, cursor); err != nil {
			return "", sess, err
		}
		sess.IntakeCursor = cursor
	}

	now := m.now().UTC()
	msgs := make([]datatypes.Message, 0, 2)
	if userText != "" {
		msgs = append(msgs, datatypes.Message{Role: datatypes.RoleUser, Content: userText, CreatedAt: now})
	}
	msgs = append(msgs, datatypes.Message{Role: datatypes.RoleAI, Content: reply, CreatedAt: now})
	if err := m.sessions.AppendMessages(ctx, sess.ID, msgs, now); err != nil {
		return "", sess, fmt.Errorf("append intake messages: %w", err)
	}
	sess.Messages = append(sess.Messages, msgs...)
	sess.LastActive = now
	return reply, sess, nil
}

// currentField resolves the field to ask. An unset cursor starts at the
// first missing field. A cursor whose field is already present (a prior
// turn stored the value but failed to move the cursor) skips forward.
func (m *Machine) currentField(p *datatypes.Profile, cursor string) (datatypes.ProfileField, bool) {
	if cursor == "" {
		return nextMissing(p, -1)
	}
	f := datatypes.ProfileField(cursor)
	i := indexOf(f)
	if i < 0 {
		return nextMissing(p, -1)
	}
	if p.Has(f) {
		return nextMissing(p, i)
	}
	return f, true
}

// nextMissing returns the first field after position `after` absent from p.
func nextMissing(p *datatypes.Profile, after int) (datatypes.ProfileField, bool) {
	for i := after + 1; i < len(datatypes.IntakeOrder); i++ {
		if f := datatypes.IntakeOrder[i]; !p.Has(f) {
			return f, true
		}
	}
	return "", false
}

func indexOf(f datatypes.ProfileField) int {
	for i, o := range datatypes.IntakeOrder {
		if o == f {
			return i
		}
	}
	return -1
}
