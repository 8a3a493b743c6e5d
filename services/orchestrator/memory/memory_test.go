// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aira/services/llm/llmtest"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store/badgerstore"
)

var fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	st, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newConsolidator(t *testing.T, client *llmtest.Client) (*Consolidator, *badgerstore.Store) {
	t.Helper()
	st := newStore(t)
	rem := NewReminders(st, nil)
	rem.now = func() time.Time { return fixedNow }
	c := NewConsolidator(Deps{
		Sessions:   st,
		Sentiments: st,
		Profiles:   st,
		Reminders:  rem,
		LLM:        client,
	}, Config{})
	c.now = func() time.Time { return fixedNow }
	return c, st
}

func addChatSession(t *testing.T, st *badgerstore.Store, userID, id string, kind datatypes.SessionKind, at time.Time, texts ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, &datatypes.Session{
		ID: id, UserID: userID, Title: datatypes.DefaultSessionTitle, Kind: kind,
		CreatedAt: at, LastActive: at,
	}))
	var msgs []datatypes.Message
	for _, txt := range texts {
		msgs = append(msgs,
			datatypes.Message{Role: datatypes.RoleUser, Content: txt, CreatedAt: at},
			datatypes.Message{Role: datatypes.RoleAI, Content: "I hear you.", CreatedAt: at, ResponseID: id + "-r"},
		)
	}
	require.NoError(t, st.AppendMessages(ctx, id, msgs, at))
}

// =============================================================================
// Parse and validate
// =============================================================================

func TestValidate(t *testing.T) {
	source := "I have been feeling exhausted from work deadlines every single day and I cannot sleep."

	tests := []struct {
		name         string
		obj          map[string]any
		wantScore    float64
		wantCategory datatypes.StressCategory
		wantQuote    string
	}{
		{
			name:         "out of range score falls back to default",
			obj:          map[string]any{"mental_score": 150.0, "stress_type": "Burnout", "supporting_text": "I cannot sleep", "suggestions": []any{"rest"}},
			wantScore:    DefaultScore,
			wantCategory: datatypes.StressNone,
		},
		{
			name:         "non numeric score falls back to default",
			obj:          map[string]any{"mental_score": "low", "stress_type": "Burnout", "supporting_text": "I cannot sleep", "suggestions": []any{}},
			wantScore:    DefaultScore,
			wantCategory: datatypes.StressNone,
		},
		{
			name:         "unknown category becomes none",
			obj:          map[string]any{"mental_score": 40.0, "stress_type": "Sarcasm", "supporting_text": "I cannot sleep", "suggestions": []any{"rest"}},
			wantScore:    40,
			wantCategory: datatypes.StressNone,
			wantQuote:    "I cannot sleep",
		},
		{
			name:         "unsupported quote clears but keeps score",
			obj:          map[string]any{"mental_score": 35.0, "stress_type": "Anxiety", "supporting_text": "Spaceships orbit quietly tonight", "suggestions": []any{"breathe"}},
			wantScore:    35,
			wantCategory: datatypes.StressNone,
		},
		{
			name:         "paraphrased quote is accepted",
			obj:          map[string]any{"mental_score": 30.0, "stress_type": "burnout", "supporting_text": "feeling exhausted by work deadlines", "suggestions": []any{"take breaks"}},
			wantScore:    30,
			wantCategory: datatypes.StressBurnout,
			wantQuote:    "feeling exhausted by work deadlines",
		},
		{
			name:         "high score forces none",
			obj:          map[string]any{"mental_score": 85.5, "stress_type": "Anxiety", "supporting_text": "I cannot sleep", "suggestions": []any{"rest"}},
			wantScore:    85.5,
			wantCategory: datatypes.StressNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Validate(tt.obj, source)
			assert.Equal(t, tt.wantScore, a.MentalScore)
			assert.Equal(t, tt.wantCategory, a.StressCategory)
			assert.Equal(t, tt.wantQuote, a.Quote)
			if tt.wantQuote == "" {
				assert.Empty(t, a.Suggestions)
			}
		})
	}
}

func TestParseExtraction(t *testing.T) {
	raw := "Sure! {\"note\": 1}\n```json\n{\"mental_score\": 42, \"stress_type\": \"Low Mood\", " +
		"\"supporting_text\": \"tired\", \"suggestions\": [\"sleep\"]}\n```"
	obj, ok := ParseExtraction(raw)
	require.True(t, ok)
	assert.Equal(t, 42.0, obj["mental_score"])

	_, ok = ParseExtraction("no json here {broken")
	assert.False(t, ok)

	_, ok = ParseExtraction(`{"mental_score": 50}`)
	assert.False(t, ok, "missing keys")
}

func TestAnalyzer_Defaults(t *testing.T) {
	client := llmtest.Always("not json")
	a := NewAnalyzer(client, nil)

	assert.Equal(t, DefaultAnalysis(), a.AnalyzeDay(context.Background(), "short", nil))
	assert.Equal(t, 0, client.CallCount(), "short text skips the engine")

	got := a.AnalyzeDay(context.Background(), "Today was long and I felt rather lost at times.", []float64{70, 65})
	assert.Equal(t, DefaultAnalysis(), got)
	require.Equal(t, 1, client.CallCount())
	call, _ := client.LastCall()
	assert.Contains(t, call.Prompt, "70.0, 65.0")
}

// =============================================================================
// Reminders
// =============================================================================

func TestNextSlot(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 15:00 UTC is 11:00 in New York (EDT).
	morning := NextSlot(fixedNow, datatypes.SlotMorning, ny)
	assert.Equal(t, time.Date(2025, 3, 11, 13, 0, 0, 0, time.UTC), morning, "passed slot rolls to tomorrow")

	afternoon := NextSlot(fixedNow, datatypes.SlotAfternoon, ny)
	assert.Equal(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), afternoon)
	assert.Equal(t, time.UTC, afternoon.Location())
}

func TestParseSlotAndZone(t *testing.T) {
	slot, err := ParseSlot("")
	require.NoError(t, err)
	assert.Equal(t, datatypes.SlotMorning, slot)

	_, err = ParseSlot("midnight")
	assert.True(t, datatypes.IsValidation(err))

	_, zone, err := LoadZone("")
	require.NoError(t, err)
	assert.Equal(t, "UTC", zone)

	_, _, err = LoadZone("Mars/Olympus")
	assert.True(t, datatypes.IsValidation(err))
}

func newReminders(t *testing.T) *Reminders {
	t.Helper()
	r := NewReminders(newStore(t), nil)
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestReminders_DuplicateSlotSuppressed(t *testing.T) {
	r := newReminders(t)
	ctx := context.Background()

	first, created, err := r.Add(ctx, "u1", NewReminder{Text: "Drink water", Slot: "evening", TimeZone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Europe/Berlin", first.TimeZone)

	_, created, err = r.Add(ctx, "u1", NewReminder{Text: "Call mom", Slot: "evening", TimeZone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.False(t, created)

	list, err := r.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Drink water", list[0].Text)

	// Another user's identical slot is independent.
	_, created, err = r.Add(ctx, "u2", NewReminder{Text: "Stretch", Slot: "evening", TimeZone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestReminders_AddValidation(t *testing.T) {
	r := newReminders(t)
	ctx := context.Background()

	_, _, err := r.Add(ctx, "u1", NewReminder{Text: "  "})
	assert.True(t, datatypes.IsValidation(err))

	_, _, err = r.Add(ctx, "u1", NewReminder{Text: "x", At: "tomorrow at nine"})
	assert.True(t, datatypes.IsValidation(err))

	rem, created, err := r.Add(ctx, "u1", NewReminder{Text: "Dentist", At: "2025-03-12T09:30:00+05:30"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, time.Date(2025, 3, 12, 4, 0, 0, 0, time.UTC), rem.ScheduledAt)
}

func TestReminders_UpdateStatus(t *testing.T) {
	r := newReminders(t)
	ctx := context.Background()

	rem, _, err := r.Add(ctx, "u1", NewReminder{Text: "Walk", Slot: "morning"})
	require.NoError(t, err)

	deferred, err := r.UpdateStatus(ctx, "u1", rem.ID, datatypes.ReminderNotDone)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(DeferDelay), deferred.ScheduledAt)
	assert.Equal(t, datatypes.ReminderPending, deferred.Status)

	_, err = r.UpdateStatus(ctx, "u1", rem.ID, "later")
	assert.True(t, datatypes.IsValidation(err))

	done, err := r.UpdateStatus(ctx, "u1", rem.ID, datatypes.ReminderDone)
	require.NoError(t, err)
	assert.Nil(t, done)

	list, err := r.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = r.UpdateStatus(ctx, "u1", rem.ID, datatypes.ReminderDone)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, "u1", "missing"), datatypes.ErrNotFound)
}

func TestReminders_DueStaggersBacklog(t *testing.T) {
	r := newReminders(t)
	ctx := context.Background()

	for i, at := range []string{"2025-03-10T12:00:00Z", "2025-03-10T10:00:00Z", "2025-03-10T14:00:00Z"} {
		_, created, err := r.Add(ctx, "u1", NewReminder{Text: []string{"b", "a", "c"}[i], At: at})
		require.NoError(t, err)
		require.True(t, created)
	}
	_, _, err := r.Add(ctx, "u1", NewReminder{Text: "future", At: "2025-03-11T10:00:00Z"})
	require.NoError(t, err)

	due, err := r.Due(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].Text)

	list, err := r.List(ctx, "u1")
	require.NoError(t, err)
	byText := map[string]time.Time{}
	for _, rem := range list {
		byText[rem.Text] = rem.ScheduledAt
	}
	assert.Equal(t, fixedNow.Add(StaggerInterval), byText["b"])
	assert.Equal(t, fixedNow.Add(2*StaggerInterval), byText["c"])
	assert.Equal(t, time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC), byText["future"])
}

// =============================================================================
// Extraction and remember
// =============================================================================

func TestExtractor(t *testing.T) {
	ctx := context.Background()

	got, err := NewExtractor(llmtest.Always(`The goal is: "Run a 5k in May"`), nil).
		Extract(ctx, KindGoal, "I want to run", "Great goal!")
	require.NoError(t, err)
	assert.Equal(t, "Run a 5k in May", got)

	_, err = NewExtractor(llmtest.Always("No reminder detected."), nil).
		Extract(ctx, KindReminder, "hi", "hello")
	assert.True(t, datatypes.IsExtractionFailure(err))

	_, err = NewExtractor(llmtest.Failing(errors.New("down")), nil).
		Extract(ctx, KindPersonalInfo, "hi", "hello")
	assert.True(t, datatypes.IsExtractionFailure(err))

	_, err = NewExtractor(llmtest.Always("x"), nil).Extract(ctx, Kind("mood"), "hi", "hello")
	assert.True(t, datatypes.IsValidation(err))
}

func TestRemember(t *testing.T) {
	ctx := context.Background()
	client := llmtest.New("Take vitamins", "Read more books", "Read more books", "Has a dog named Rex")
	c, st := newConsolidator(t, client)

	out, err := c.Remember(ctx, "u1", KindReminder, "remind me about vitamins", "Sure", RememberOptions{Slot: "morning", ResponseID: "r1"})
	require.NoError(t, err)
	assert.True(t, out.Created)
	require.NotNil(t, out.Reminder)
	assert.Equal(t, "r1", out.Reminder.SourceResponseID)

	out, err = c.Remember(ctx, "u1", KindGoal, "I want to read", "Good", RememberOptions{})
	require.NoError(t, err)
	assert.True(t, out.Created)
	out, err = c.Remember(ctx, "u1", KindGoal, "I want to read", "Good", RememberOptions{})
	require.NoError(t, err)
	assert.True(t, out.Created, "remembered goals are appended as extracted")

	_, err = c.Remember(ctx, "u1", KindPersonalInfo, "my dog Rex", "Cute", RememberOptions{})
	require.NoError(t, err)

	p, err := st.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, p.Goals, 2)
	assert.Equal(t, "Read more books", p.Goals[0].Text)
	assert.Equal(t, "Read more books", p.Goals[1].Text)
	require.Len(t, p.PersonalInfo, 1)
	assert.Equal(t, "Has a dog named Rex", p.PersonalInfo[0].Text)

	calls := client.CallCount()
	_, err = c.Remember(ctx, "u1", KindReminder, "x", "y", RememberOptions{Slot: "noon"})
	assert.True(t, datatypes.IsValidation(err))
	assert.Equal(t, calls, client.CallCount(), "bad slot is rejected before extraction")
}

func TestAddCustomGoal(t *testing.T) {
	ctx := context.Background()
	c, st := newConsolidator(t, llmtest.New())

	_, err := c.AddCustomGoal(ctx, "u1", "Run a 5k")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	require.NoError(t, st.SetProfileField(ctx, "u1", datatypes.FieldName, "Ada"))
	_, err = c.AddCustomGoal(ctx, "u1", "Run a 5k")
	require.NoError(t, err)

	_, err = c.AddCustomGoal(ctx, "u1", "run a 5K")
	assert.ErrorIs(t, err, datatypes.ErrConflict)

	_, err = c.AddCustomGoal(ctx, "u1", " ")
	assert.True(t, datatypes.IsValidation(err))

	goals, err := c.Goals(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "Run a 5k", goals[0].Text)

	none, err := c.Goals(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// Sentiment pass
// =============================================================================

const anxiousJSON = `{"mental_score": 55, "stress_type": "Anxiety", "supporting_text": "worried about exams", "suggestions": ["Take a walk"]}`

func TestAnalyzeUser_RetentionPruning(t *testing.T) {
	ctx := context.Background()
	client := llmtest.Always(anxiousJSON)
	c, st := newConsolidator(t, client)

	day := func(offset int) string { return fixedNow.AddDate(0, 0, offset).Format(datatypes.DateLayout) }
	for _, d := range []string{day(-31), day(-29)} {
		require.NoError(t, st.PutSentiment(ctx, &datatypes.SentimentEntry{UserID: "u1", Date: d, MentalScore: 60, StressCategory: datatypes.StressNone}))
	}
	addChatSession(t, st, "u1", "s1", datatypes.SessionKindChat, fixedNow.Add(-time.Hour), "I am really worried about exams this week")

	n, err := c.AnalyzeUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := st.ListSentiments(ctx, "u1")
	require.NoError(t, err)
	dates := make([]string, 0, len(list))
	for _, e := range list {
		dates = append(dates, e.Date)
	}
	assert.Equal(t, []string{day(-29), day(0)}, dates)

	today := list[1]
	assert.Equal(t, 55.0, today.MentalScore)
	assert.Equal(t, datatypes.StressAnxiety, today.StressCategory)
	assert.Equal(t, "worried about exams", today.SupportingQuote)

	call, _ := client.LastCall()
	assert.Contains(t, call.Prompt, "60.0", "previous scores are passed as context")
}

func TestAnalyzeUser_SkipsAnalyzedDaysAndIntro(t *testing.T) {
	ctx := context.Background()
	client := llmtest.Always(anxiousJSON)
	c, st := newConsolidator(t, client)

	addChatSession(t, st, "u1", "intro", datatypes.SessionKindIntro, fixedNow.AddDate(0, 0, -2), "My name is Ada and I like long walks")
	addChatSession(t, st, "u1", "s1", datatypes.SessionKindChat, fixedNow.AddDate(0, 0, -1), "I am really worried about exams this week")
	addChatSession(t, st, "u1", "s2", datatypes.SessionKindChat, fixedNow, "ok")

	n, err := c.AnalyzeUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, client.CallCount(), "short day text is scored without the engine")

	list, err := st.ListSentiments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, DefaultScore, list[1].MentalScore)

	n, err = c.AnalyzeUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, client.CallCount())
}

func TestRunSentimentPass(t *testing.T) {
	ctx := context.Background()
	c, st := newConsolidator(t, llmtest.Always(anxiousJSON))

	addChatSession(t, st, "u1", "s1", datatypes.SessionKindChat, fixedNow, "I am really worried about exams this week")
	addChatSession(t, st, "u2", "s2", datatypes.SessionKindChat, fixedNow, "I am really worried about exams this week")

	res, err := c.RunSentimentPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Users)
	assert.Equal(t, 2, res.DaysScored)
	assert.Zero(t, res.FailedUsers)

	sum, err := c.Summary(ctx, "u1", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Entries)
	assert.Equal(t, 55.0, sum.AverageScore)
	assert.Equal(t, 1, sum.CategoryCounts[datatypes.StressAnxiety])

	_, err = c.Summary(ctx, "u1", 0)
	assert.True(t, datatypes.IsValidation(err))
}

// =============================================================================
// Story and motivation
// =============================================================================

func TestUserStory(t *testing.T) {
	ctx := context.Background()

	c, st := newConsolidator(t, llmtest.Failing(errors.New("down")))
	story, err := c.UserStory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome, friend! We're here to help you on your journey.", story)

	require.NoError(t, st.SetProfileField(ctx, "u1", datatypes.FieldName, "Ada"))
	story, err = c.UserStory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome, Ada! We're here to help you on your journey.", story)

	client := llmtest.Always("You are Ada, and you love hiking.")
	c, st = newConsolidator(t, client)
	require.NoError(t, st.SetProfileField(ctx, "u1", datatypes.FieldInterests, "hiking"))
	story, err = c.UserStory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "You are Ada, and you love hiking.", story)
	call, _ := client.LastCall()
	assert.Contains(t, call.Messages[1].Content, "interests: hiking")
}

func TestMotivation(t *testing.T) {
	ctx := context.Background()
	client := llmtest.Always(`"Keep moving, you are doing great"`)
	c, st := newConsolidator(t, client)

	line, err := c.Motivation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, FallbackMotivation, line)
	assert.Zero(t, client.CallCount())

	addChatSession(t, st, "u1", "s1", datatypes.SessionKindChat, fixedNow, "Work was hard today")
	line, err = c.Motivation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Keep moving, you are doing great", line)
}
