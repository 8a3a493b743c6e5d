// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the typed repositories behind every durable AIRA
// collection.
//
// # Description
//
// One interface per entity replaces string-named collection lookup.
// Implementations:
//
//   - badgerstore: embedded, single process, used by default and in tests
//   - mongostore: MongoDB document store for multi-instance deployments
//
// Both are checked by the storetest compliance suite.
//
// # Errors
//
// Missing records return an error matching datatypes.ErrNotFound. Backend
// failures match datatypes.ErrStoreFailure.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
)

// Profiles persists the per-user structured profile ("brain").
type Profiles interface {
	// GetProfile returns the profile or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*datatypes.Profile, error)

	// SetProfileField upserts one scalar field, creating the profile lazily.
	SetProfileField(ctx context.Context, userID string, field datatypes.ProfileField, value string) error

	// AddGoal appends a goal. With dedupe set, a goal whose text matches an
	// existing one case-insensitively is not added and added is false.
	AddGoal(ctx context.Context, userID string, item datatypes.MemoryItem, dedupe bool) (added bool, err error)

	// AddPersonalInfo appends a personal-info snippet.
	AddPersonalInfo(ctx context.Context, userID string, item datatypes.MemoryItem) error

	// AddAssessment appends a completed assessment result.
	AddAssessment(ctx context.Context, userID string, result datatypes.AssessmentResult) error
}

// Sessions persists chat sessions and their ordered message logs.
type Sessions interface {
	CreateSession(ctx context.Context, session *datatypes.Session) error

	// GetSession returns the session by id regardless of owner.
	GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error)

	// FindIntroSession returns the user's introduction session or ErrNotFound.
	FindIntroSession(ctx context.Context, userID string) (*datatypes.Session, error)

	// ListSessions returns all sessions of a user in no particular order.
	ListSessions(ctx context.Context, userID string) ([]*datatypes.Session, error)

	// ListSessionUserIDs returns every user that owns at least one session.
	ListSessionUserIDs(ctx context.Context) ([]string, error)

	// AppendMessages appends msgs in order and sets last_active.
	AppendMessages(ctx context.Context, sessionID string, msgs []datatypes.Message, lastActive time.Time) error

	// SetTitleOnce sets the title unless one was already derived.
	// It reports whether the title was applied.
	SetTitleOnce(ctx context.Context, sessionID, title string) (bool, error)

	// SetIntakeCursor stores the intake cursor.
	SetIntakeCursor(ctx context.Context, sessionID, cursor string) error

	// FindByResponseID returns the user's session containing the AI message.
	FindByResponseID(ctx context.Context, userID, responseID string) (*datatypes.Session, error)

	// DeleteInactiveBefore removes sessions whose last_active is before
	// cutoff. Introduction sessions are kept when keepIntro is set.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time, keepIntro bool) (int, error)
}

// Reminders persists scheduled reminders.
type Reminders interface {
	// InsertReminderIfSlotFree stores r unless another pending reminder of
	// the same user has the same ScheduledAt. It reports whether r was stored.
	InsertReminderIfSlotFree(ctx context.Context, r *datatypes.Reminder) (bool, error)

	GetReminder(ctx context.Context, userID, id string) (*datatypes.Reminder, error)

	// ListReminders returns the user's reminders ordered by ScheduledAt.
	ListReminders(ctx context.Context, userID string) ([]*datatypes.Reminder, error)

	// RescheduleReminder moves a reminder. Returns ErrConflict if the target
	// instant is taken by another reminder of the same user.
	RescheduleReminder(ctx context.Context, userID, id string, at time.Time) error

	DeleteReminder(ctx context.Context, userID, id string) error
}

// Sentiments persists the per-day mood trend.
type Sentiments interface {
	// PutSentiment upserts the entry keyed by (UserID, Date).
	PutSentiment(ctx context.Context, e *datatypes.SentimentEntry) error

	HasSentiment(ctx context.Context, userID, date string) (bool, error)

	// ListSentiments returns entries ordered by date ascending.
	ListSentiments(ctx context.Context, userID string) ([]*datatypes.SentimentEntry, error)

	// PruneSentiments deletes entries dated strictly before the given day.
	PruneSentiments(ctx context.Context, userID, beforeDate string) (int, error)
}

// Feedback persists reactions, remembered exchanges and daily ratings.
type Feedback interface {
	// ApplyReaction records like, dislike or comment on a response.
	// like clears dislike and vice versa; a non-empty comment is appended.
	ApplyReaction(ctx context.Context, userID, responseID string, kind datatypes.FeedbackType, comment string) error

	// AddRemembered stores an exchange for recall, replacing any earlier
	// entry with the same response id.
	AddRemembered(ctx context.Context, userID string, ex datatypes.RememberedExchange) error

	ListRemembered(ctx context.Context, userID string) ([]datatypes.RememberedExchange, error)

	// GetFeedback returns the user's feedback document, empty if none.
	GetFeedback(ctx context.Context, userID string) (*datatypes.FeedbackRecord, error)

	AddDailyFeedback(ctx context.Context, fb *datatypes.DailyFeedback) error
}

// Questions persists the assessment question bank.
type Questions interface {
	// UpsertQuestions inserts or replaces questions by id.
	UpsertQuestions(ctx context.Context, qs []datatypes.Question) error

	// QuestionCategories returns the distinct categories, sorted.
	QuestionCategories(ctx context.Context) ([]string, error)

	// QuestionsByCategory returns a category's questions ordered by Order.
	QuestionsByCategory(ctx context.Context, category string) ([]datatypes.Question, error)
}

// Accounts persists credentials and refresh tokens.
type Accounts interface {
	// CreateAccount returns ErrConflict if the email is taken.
	CreateAccount(ctx context.Context, a *datatypes.Account) error
	GetAccount(ctx context.Context, userID string) (*datatypes.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*datatypes.Account, error)
	UpdateAccountName(ctx context.Context, userID, name string) error

	PutRefreshToken(ctx context.Context, t *datatypes.RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (*datatypes.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, id string) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error)
}

// Store aggregates every repository behind one connection.
type Store interface {
	Profiles
	Sessions
	Reminders
	Sentiments
	Feedback
	Questions
	Accounts

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
