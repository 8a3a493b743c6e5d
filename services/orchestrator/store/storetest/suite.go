// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storetest is the behavioural compliance suite every store.Store
// implementation must pass.
//
// # Usage
//
//	func TestBadgerStore(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { ... })
//	}
//
// The factory must return an empty store; the suite closes it.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes every compliance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := map[string]func(t *testing.T, s store.Store){
		"Profiles":          testProfiles,
		"GoalDedupe":        testGoalDedupe,
		"Sessions":          testSessions,
		"SessionTitleOnce":  testSessionTitleOnce,
		"IntroUniqueness":   testIntroUniqueness,
		"ResponseLookup":    testResponseLookup,
		"SessionRetention":  testSessionRetention,
		"ReminderSlotDedup": testReminderSlotDedup,
		"ReminderLifecycle": testReminderLifecycle,
		"Sentiments":        testSentiments,
		"Feedback":          testFeedback,
		"Questions":         testQuestions,
		"Accounts":          testAccounts,
		"RefreshTokens":     testRefreshTokens,
	}
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fn := tests[name]
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			require.NoError(t, s.Ping(context.Background()))
			fn(t, s)
		})
	}
}

func newID() string { return uuid.NewString() }

func testProfiles(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()

	_, err := s.GetProfile(ctx, uid)
	require.ErrorIs(t, err, datatypes.ErrNotFound)

	require.NoError(t, s.SetProfileField(ctx, uid, datatypes.FieldName, "Ada"))
	require.NoError(t, s.SetProfileField(ctx, uid, datatypes.FieldAge, "36"))
	require.NoError(t, s.AddPersonalInfo(ctx, uid, datatypes.MemoryItem{ID: "p1", Text: "has a cat"}))
	require.NoError(t, s.AddAssessment(ctx, uid, datatypes.AssessmentResult{Categories: []string{"Work"}, Score: 6, Level: "Moderate Stress"}))

	p, err := s.GetProfile(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Get(datatypes.FieldName))
	assert.Equal(t, "36", p.Get(datatypes.FieldAge))
	assert.False(t, p.Has(datatypes.FieldSex))
	require.Len(t, p.PersonalInfo, 1)
	assert.Equal(t, "has a cat", p.PersonalInfo[0].Text)
	require.Len(t, p.Assessments, 1)
	assert.Equal(t, 6, p.Assessments[0].Score)
}

func testGoalDedupe(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()

	added, err := s.AddGoal(ctx, uid, datatypes.MemoryItem{ID: "g1", Text: "Run a marathon"}, true)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddGoal(ctx, uid, datatypes.MemoryItem{ID: "g2", Text: "run a MARATHON"}, true)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = s.AddGoal(ctx, uid, datatypes.MemoryItem{ID: "g3", Text: "run a marathon"}, false)
	require.NoError(t, err)
	assert.True(t, added)

	p, err := s.GetProfile(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, p.Goals, 2)
}

func newSession(uid string, kind datatypes.SessionKind, lastActive time.Time) *datatypes.Session {
	return &datatypes.Session{
		ID:         newID(),
		UserID:     uid,
		Title:      datatypes.DefaultSessionTitle,
		Kind:       kind,
		Messages:   []datatypes.Message{},
		CreatedAt:  lastActive,
		LastActive: lastActive,
	}
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := newSession(uid, datatypes.SessionKindChat, now)
	b := newSession(uid, datatypes.SessionKindChat, now)
	other := newSession(newID(), datatypes.SessionKindChat, now)
	for _, sess := range []*datatypes.Session{a, b, other} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	msgs := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "hi", CreatedAt: now},
		{Role: datatypes.RoleAI, Content: "hello", CreatedAt: now, ResponseID: "r-" + a.ID},
	}
	later := now.Add(time.Minute)
	require.NoError(t, s.AppendMessages(ctx, a.ID, msgs, later))
	require.NoError(t, s.SetIntakeCursor(ctx, a.ID, "age"))

	got, err := s.GetSession(ctx, a.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(msgs, got.Messages, cmp.Comparer(func(x, y time.Time) bool { return x.Equal(y) })); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, later.Equal(got.LastActive))
	assert.Equal(t, "age", got.IntakeCursor)

	list, err := s.ListSessions(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	users, err := s.ListSessionUserIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, users, uid)
	assert.Contains(t, users, other.UserID)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	err = s.AppendMessages(ctx, "missing", msgs, later)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func testSessionTitleOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := newSession(newID(), datatypes.SessionKindChat, time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, sess))

	applied, err := s.SetTitleOnce(ctx, sess.ID, "First Title")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.SetTitleOnce(ctx, sess.ID, "Second Title")
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "First Title", got.Title)
	assert.True(t, got.Titled)
}

func testIntroUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()

	_, err := s.FindIntroSession(ctx, uid)
	require.ErrorIs(t, err, datatypes.ErrNotFound)

	intro := newSession(uid, datatypes.SessionKindIntro, time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, intro))

	dup := newSession(uid, datatypes.SessionKindIntro, time.Now().UTC())
	assert.ErrorIs(t, s.CreateSession(ctx, dup), datatypes.ErrConflict)

	got, err := s.FindIntroSession(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, intro.ID, got.ID)
}

func testResponseLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()
	sess := newSession(uid, datatypes.SessionKindChat, time.Now().UTC())
	require.NoError(t, s.CreateSession(ctx, sess))
	rid := newID()
	require.NoError(t, s.AppendMessages(ctx, sess.ID, []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "q"},
		{Role: datatypes.RoleAI, Content: "a", ResponseID: rid},
	}, time.Now()))

	got, err := s.FindByResponseID(ctx, uid, rid)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = s.FindByResponseID(ctx, "someone-else", rid)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	_, err = s.FindByResponseID(ctx, uid, "nope")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func testSessionRetention(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()
	now := time.Now().UTC()

	stale := newSession(uid, datatypes.SessionKindChat, now.Add(-100*24*time.Hour))
	fresh := newSession(uid, datatypes.SessionKindChat, now.Add(-time.Hour))
	oldIntro := newSession(uid, datatypes.SessionKindIntro, now.Add(-200*24*time.Hour))
	for _, sess := range []*datatypes.Session{stale, fresh, oldIntro} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	n, err := s.DeleteInactiveBefore(ctx, now.Add(-90*24*time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSession(ctx, stale.ID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	_, err = s.GetSession(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = s.FindIntroSession(ctx, uid)
	assert.NoError(t, err)

	n, err = s.DeleteInactiveBefore(ctx, now.Add(-90*24*time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "cleanup must be idempotent")
}

func testReminderSlotDedup(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()
	at := time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)

	first := &datatypes.Reminder{ID: newID(), UserID: uid, Text: "stretch", ScheduledAt: at, TimeZone: "UTC", Status: datatypes.ReminderPending}
	second := &datatypes.Reminder{ID: newID(), UserID: uid, Text: "drink water", ScheduledAt: at, TimeZone: "UTC", Status: datatypes.ReminderPending}
	otherUser := &datatypes.Reminder{ID: newID(), UserID: newID(), Text: "x", ScheduledAt: at, TimeZone: "UTC", Status: datatypes.ReminderPending}

	ok, err := s.InsertReminderIfSlotFree(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.InsertReminderIfSlotFree(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.InsertReminderIfSlotFree(ctx, otherUser)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := s.ListReminders(ctx, uid)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "stretch", list[0].Text)
}

func testReminderLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()
	base := time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)

	a := &datatypes.Reminder{ID: newID(), UserID: uid, Text: "a", ScheduledAt: base.Add(time.Hour), TimeZone: "UTC", Status: datatypes.ReminderPending}
	b := &datatypes.Reminder{ID: newID(), UserID: uid, Text: "b", ScheduledAt: base, TimeZone: "UTC", Status: datatypes.ReminderPending}
	for _, r := range []*datatypes.Reminder{a, b} {
		ok, err := s.InsertReminderIfSlotFree(ctx, r)
		require.NoError(t, err)
		require.True(t, ok)
	}

	list, err := s.ListReminders(ctx, uid)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Text, "ordered by scheduled time")

	assert.ErrorIs(t, s.RescheduleReminder(ctx, uid, b.ID, a.ScheduledAt), datatypes.ErrConflict)

	newAt := base.Add(2 * time.Hour)
	require.NoError(t, s.RescheduleReminder(ctx, uid, b.ID, newAt))
	got, err := s.GetReminder(ctx, uid, b.ID)
	require.NoError(t, err)
	assert.True(t, newAt.Equal(got.ScheduledAt))

	// The old slot is free again.
	c := &datatypes.Reminder{ID: newID(), UserID: uid, Text: "c", ScheduledAt: base, TimeZone: "UTC", Status: datatypes.ReminderPending}
	ok, err := s.InsertReminderIfSlotFree(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteReminder(ctx, uid, a.ID))
	_, err = s.GetReminder(ctx, uid, a.ID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.ErrorIs(t, s.DeleteReminder(ctx, uid, a.ID), datatypes.ErrNotFound)
}

func testSentiments(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()

	for _, date := range []string{"2030-01-03", "2030-01-01", "2030-01-02"} {
		require.NoError(t, s.PutSentiment(ctx, &datatypes.SentimentEntry{
			UserID: uid, Date: date, MentalScore: 50, StressCategory: datatypes.StressNone,
		}))
	}
	// Upsert replaces the day.
	require.NoError(t, s.PutSentiment(ctx, &datatypes.SentimentEntry{
		UserID: uid, Date: "2030-01-02", MentalScore: 42, StressCategory: datatypes.StressAnxiety,
	}))

	ok, err := s.HasSentiment(ctx, uid, "2030-01-02")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasSentiment(ctx, uid, "2030-01-09")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListSentiments(ctx, uid)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2030-01-01", list[0].Date)
	assert.Equal(t, 42.0, list[1].MentalScore)

	n, err := s.PruneSentiments(ctx, uid, "2030-01-02")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	list, err = s.ListSentiments(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testFeedback(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := newID()

	rec, err := s.GetFeedback(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, rec.Reactions)

	require.NoError(t, s.ApplyReaction(ctx, uid, "r1", datatypes.FeedbackLike, ""))
	require.NoError(t, s.ApplyReaction(ctx, uid, "r1", datatypes.FeedbackDislike, "too long"))
	require.NoError(t, s.ApplyReaction(ctx, uid, "r1", datatypes.FeedbackComment, "but kind"))

	rec, err = s.GetFeedback(ctx, uid)
	require.NoError(t, err)
	r := rec.Reactions["r1"]
	assert.False(t, r.Like)
	assert.True(t, r.Dislike)
	assert.Equal(t, []string{"too long", "but kind"}, r.Comments)

	require.NoError(t, s.AddRemembered(ctx, uid, datatypes.RememberedExchange{ResponseID: "r1", UserMessage: "u", AIResponse: "a1"}))
	require.NoError(t, s.AddRemembered(ctx, uid, datatypes.RememberedExchange{ResponseID: "r1", UserMessage: "u", AIResponse: "a2"}))
	require.NoError(t, s.AddRemembered(ctx, uid, datatypes.RememberedExchange{ResponseID: "r2", UserMessage: "u", AIResponse: "b"}))
	remembered, err := s.ListRemembered(ctx, uid)
	require.NoError(t, err)
	require.Len(t, remembered, 2)

	require.NoError(t, s.AddDailyFeedback(ctx, &datatypes.DailyFeedback{ID: newID(), UserID: uid, SessionID: "s", Rating: 4}))
}

func testQuestions(t *testing.T, s store.Store) {
	ctx := context.Background()
	qs := []datatypes.Question{
		{ID: "w2", Category: "Work", Text: "Deadlines?", Options: []string{"no", "yes"}, Scores: []int{0, 2}, Order: 2},
		{ID: "w1", Category: "Work", Text: "Overtime?", Options: []string{"no", "yes"}, Scores: []int{0, 3}, Order: 1},
		{ID: "s1", Category: "Sleep", Text: "Insomnia?", Options: []string{"no", "yes"}, Scores: []int{0, 5}, Order: 1},
	}
	require.NoError(t, s.UpsertQuestions(ctx, qs))
	// Re-upsert with a changed order must not duplicate.
	qs[0].Order = 0
	require.NoError(t, s.UpsertQuestions(ctx, qs[:1]))

	cats, err := s.QuestionCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sleep", "Work"}, cats)

	work, err := s.QuestionsByCategory(ctx, "Work")
	require.NoError(t, err)
	require.Len(t, work, 2)
	assert.Equal(t, "w2", work[0].ID)
	assert.Equal(t, "w1", work[1].ID)
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	email := fmt.Sprintf("%s@example.com", newID()[:8])
	acct := &datatypes.Account{UserID: newID(), Email: email, Name: "Ada", PasswordHash: []byte("hash"), CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateAccount(ctx, acct))

	dup := *acct
	dup.UserID = newID()
	assert.ErrorIs(t, s.CreateAccount(ctx, &dup), datatypes.ErrConflict)

	got, err := s.GetAccountByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, acct.UserID, got.UserID)
	assert.Equal(t, []byte("hash"), got.PasswordHash)

	require.NoError(t, s.UpdateAccountName(ctx, acct.UserID, "Grace"))
	got, err = s.GetAccount(ctx, acct.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.Name)

	_, err = s.GetAccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func testRefreshTokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	tok := &datatypes.RefreshToken{ID: newID(), UserID: "u", CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, s.PutRefreshToken(ctx, tok))

	got, err := s.GetRefreshToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, "u", got.UserID)

	n, err := s.DeleteExpiredRefreshTokens(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.GetRefreshToken(ctx, tok.ID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	tok2 := &datatypes.RefreshToken{ID: newID(), UserID: "u", CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, s.PutRefreshToken(ctx, tok2))
	require.NoError(t, s.DeleteRefreshToken(ctx, tok2.ID))
	_, err = s.GetRefreshToken(ctx, tok2.ID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}
