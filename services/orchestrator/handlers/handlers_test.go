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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aira/pkg/extensions"
	"github.com/AleutianAI/aira/services/orchestrator/assessment"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/feedback"
	"github.com/AleutianAI/aira/services/orchestrator/memory"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
	"github.com/AleutianAI/aira/services/orchestrator/observability"
	"github.com/AleutianAI/aira/services/orchestrator/services"
	"github.com/AleutianAI/aira/services/orchestrator/ttl"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const testUser = "user-1"

// newTestRouter mounts one handler behind a fake authenticated caller.
func newTestRouter(metrics *observability.Metrics, method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(ErrorMiddleware(metrics, nil))
	r.Use(func(c *gin.Context) {
		middleware.SetAuthInfo(c, &extensions.AuthInfo{UserID: testUser, Roles: []string{"user"}})
		c.Next()
	})
	r.Handle(method, path, h)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, w, &body)
	return body["error"]
}

// ============================================================================
// Error mapping
// ============================================================================

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   observability.ErrorCode
	}{
		{"forbidden", datatypes.Forbiddenf("admin only"), http.StatusForbidden, observability.ErrorCodeForbidden},
		{"unauthorized", datatypes.Unauthorizedf("bad token"), http.StatusUnauthorized, observability.ErrorCodeUnauthorized},
		{"not found", datatypes.NotFoundf("session %s", "s1"), http.StatusNotFound, observability.ErrorCodeNotFound},
		{"validation", datatypes.NewValidationError("text", "required"), http.StatusBadRequest, observability.ErrorCodeValidation},
		{"conflict", datatypes.Conflictf("email taken"), http.StatusConflict, observability.ErrorCodeConflict},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, observability.ErrorCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := StatusFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestErrorMiddleware_MasksInternalErrors(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := newTestRouter(metrics, http.MethodGet, "/boom", func(c *gin.Context) {
		fail(c, errors.New("connection refused to 10.0.0.3"))
	})

	w := do(t, r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, internalMessage, errorBody(t, w))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("/boom", string(observability.ErrorCodeInternal))))
}

func TestErrorMiddleware_PassesClientErrors(t *testing.T) {
	r := newTestRouter(nil, http.MethodGet, "/missing", func(c *gin.Context) {
		fail(c, datatypes.NotFoundf("session s9"))
	})
	w := do(t, r, http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, errorBody(t, w), "session s9")
}

func TestBindJSON_MalformedBody(t *testing.T) {
	r := newTestRouter(nil, http.MethodPost, "/goals", AddGoal(&fakeMemory{}))
	w := do(t, r, http.MethodPost, "/goals", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorBody(t, w), "invalid request body")
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestReadinessCheck(t *testing.T) {
	r := gin.New()
	r.GET("/ok", ReadinessCheck(fakePinger{}))
	r.GET("/down", ReadinessCheck(fakePinger{err: errors.New("gone")}))

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/ok", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodGet, "/down", nil).Code)
}

// ============================================================================
// Accounts
// ============================================================================

type fakeAccounts struct {
	registered datatypes.RegisterRequest
	loggedOut  *extensions.AuthInfo
	err        error
}

func (f *fakeAccounts) Register(_ context.Context, req datatypes.RegisterRequest) (*datatypes.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.registered = req
	return &datatypes.Account{UserID: "u-new", Email: req.Email, Name: req.Name, PasswordHash: []byte("hash")}, nil
}

func (f *fakeAccounts) Login(context.Context, datatypes.LoginRequest) (*datatypes.AuthTokens, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &datatypes.AuthTokens{AccessToken: "tok", TokenType: "Bearer", RefreshToken: "ref"}, nil
}

func (f *fakeAccounts) Refresh(context.Context, datatypes.RefreshRequest) (*datatypes.AuthTokens, error) {
	return &datatypes.AuthTokens{AccessToken: "tok2", TokenType: "Bearer"}, f.err
}

func (f *fakeAccounts) Logout(_ context.Context, info *extensions.AuthInfo) error {
	f.loggedOut = info
	return f.err
}

func (f *fakeAccounts) Profile(_ context.Context, userID string) (*datatypes.Account, error) {
	return &datatypes.Account{UserID: userID, Email: "a@b.c", Name: "Ada"}, f.err
}

func (f *fakeAccounts) UpdateProfile(_ context.Context, userID string, req datatypes.UpdateProfileRequest) (*datatypes.Account, error) {
	return &datatypes.Account{UserID: userID, Name: req.Name}, f.err
}

func TestRegister(t *testing.T) {
	svc := &fakeAccounts{}
	r := newTestRouter(nil, http.MethodPost, "/register", Register(svc))

	w := do(t, r, http.MethodPost, "/register", datatypes.RegisterRequest{Email: "ada@example.com", Password: "correct horse", Name: "Ada"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "hash")
	var view datatypes.AccountView
	decode(t, w, &view)
	assert.Equal(t, "u-new", view.UserID)
	assert.Equal(t, "ada@example.com", svc.registered.Email)
}

func TestRegister_Validation(t *testing.T) {
	r := newTestRouter(nil, http.MethodPost, "/register", Register(&fakeAccounts{}))
	w := do(t, r, http.MethodPost, "/register", datatypes.RegisterRequest{Email: "not-an-email", Password: "short", Name: "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_Conflict(t *testing.T) {
	r := newTestRouter(nil, http.MethodPost, "/register", Register(&fakeAccounts{err: datatypes.Conflictf("email already registered")}))
	w := do(t, r, http.MethodPost, "/register", datatypes.RegisterRequest{Email: "ada@example.com", Password: "correct horse", Name: "Ada"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin_Unauthorized(t *testing.T) {
	r := newTestRouter(nil, http.MethodPost, "/login", Login(&fakeAccounts{err: datatypes.Unauthorizedf("invalid credentials")}))
	w := do(t, r, http.MethodPost, "/login", datatypes.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_PassesCaller(t *testing.T) {
	svc := &fakeAccounts{}
	r := newTestRouter(nil, http.MethodPost, "/logout", Logout(svc))
	w := do(t, r, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, svc.loggedOut)
	assert.Equal(t, testUser, svc.loggedOut.UserID)
}

func TestProfile(t *testing.T) {
	r := newTestRouter(nil, http.MethodGet, "/profile", GetProfile(&fakeAccounts{}))
	w := do(t, r, http.MethodGet, "/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view datatypes.AccountView
	decode(t, w, &view)
	assert.Equal(t, testUser, view.UserID)
}

// ============================================================================
// Chat
// ============================================================================

type fakeConversation struct {
	created  bool
	lastText string
	err      error
}

func (f *fakeConversation) StartIntro(_ context.Context, userID string) (*datatypes.Session, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return &datatypes.Session{ID: "intro-1", UserID: userID, Kind: datatypes.SessionKindIntro, Title: "Introduction"}, f.created, nil
}

func (f *fakeConversation) Send(_ context.Context, _ string, sessionID, text string) (*services.SendResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastText = text
	return &services.SendResult{
		SessionID:  sessionID,
		Phase:      services.PhaseIntake,
		Reply:      "Thanks!",
		ResponseID: "r-1",
		Title:      "Introduction",
		Latency:    0.25,
		IntakeDone: true,
	}, nil
}

func TestStartIntro(t *testing.T) {
	for _, created := range []bool{true, false} {
		r := newTestRouter(nil, http.MethodPost, "/intro", StartIntro(&fakeConversation{created: created}))
		w := do(t, r, http.MethodPost, "/intro", nil)
		want := http.StatusOK
		if created {
			want = http.StatusCreated
		}
		assert.Equal(t, want, w.Code)
		var body map[string]any
		decode(t, w, &body)
		assert.Equal(t, "intro-1", body["session_id"])
		assert.Equal(t, created, body["created"])
	}
}

func TestSendMessage(t *testing.T) {
	conv := &fakeConversation{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := newTestRouter(metrics, http.MethodPost, "/sessions/:id/messages", SendMessage(conv, metrics))

	w := do(t, r, http.MethodPost, "/sessions/intro-1/messages", datatypes.SendMessageRequest{Message: "I'm Ada"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reply datatypes.ChatReply
	decode(t, w, &reply)
	assert.Equal(t, "intro-1", reply.SessionID)
	assert.Equal(t, "Thanks!", reply.Reply)
	assert.Equal(t, int64(250), reply.LatencyMs)
	assert.Equal(t, datatypes.IntakeComplete, reply.IntakeCursor)
	assert.Equal(t, "I'm Ada", conv.lastText)
}

func TestSendMessage_NotFound(t *testing.T) {
	conv := &fakeConversation{err: datatypes.NotFoundf("session nope")}
	r := newTestRouter(nil, http.MethodPost, "/sessions/:id/messages", SendMessage(conv, nil))
	w := do(t, r, http.MethodPost, "/sessions/nope/messages", datatypes.SendMessageRequest{Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeSessions struct {
	list []*datatypes.Session
}

func (f *fakeSessions) CreateSession(_ context.Context, userID string) (*datatypes.Session, error) {
	return &datatypes.Session{ID: "s-new", UserID: userID, Kind: datatypes.SessionKindChat, Title: "New chat"}, nil
}

func (f *fakeSessions) ListSessions(context.Context, string) ([]*datatypes.Session, error) {
	return f.list, nil
}

func (f *fakeSessions) GetHistory(_ context.Context, sessionID, userID string) ([]datatypes.Message, error) {
	for _, s := range f.list {
		if s.ID == sessionID && s.UserID == userID {
			return s.Messages, nil
		}
	}
	return nil, datatypes.NotFoundf("session %s", sessionID)
}

func TestSessions(t *testing.T) {
	mgr := &fakeSessions{list: []*datatypes.Session{{
		ID:       "s1",
		UserID:   testUser,
		Kind:     datatypes.SessionKindChat,
		Title:    "Sleep",
		Messages: []datatypes.Message{{Role: datatypes.RoleUser, Content: "I can't sleep"}},
	}}}

	t.Run("create", func(t *testing.T) {
		r := newTestRouter(nil, http.MethodPost, "/sessions", CreateSession(mgr))
		w := do(t, r, http.MethodPost, "/sessions", nil)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("list omits transcript", func(t *testing.T) {
		r := newTestRouter(nil, http.MethodGet, "/sessions", ListSessions(mgr))
		w := do(t, r, http.MethodGet, "/sessions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Sessions []SessionSummary `json:"sessions"`
		}
		decode(t, w, &body)
		require.Len(t, body.Sessions, 1)
		assert.Equal(t, 1, body.Sessions[0].Messages)
		assert.NotContains(t, w.Body.String(), "can't sleep")
	})

	t.Run("history", func(t *testing.T) {
		r := newTestRouter(nil, http.MethodGet, "/sessions/:id", GetHistory(mgr))
		assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/sessions/s1", nil).Code)
		assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/sessions/s2", nil).Code)
	})
}

type fakeCleaner struct{ calls int }

func (f *fakeCleaner) RunCleanup(context.Context) (ttl.CleanupResult, error) {
	f.calls++
	return ttl.CleanupResult{SessionsDeleted: 3}, nil
}

func TestRunCleanup(t *testing.T) {
	cl := &fakeCleaner{}
	r := newTestRouter(nil, http.MethodPost, "/cleanup", RunCleanup(cl))
	w := do(t, r, http.MethodPost, "/cleanup", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, cl.calls)
}

// ============================================================================
// Feedback
// ============================================================================

type fakeFeedback struct {
	last datatypes.FeedbackRequest
}

func (f *fakeFeedback) Submit(_ context.Context, _ string, req datatypes.FeedbackRequest) (*feedback.Result, error) {
	f.last = req
	if req.ResponseID == "missing" {
		return nil, datatypes.NotFoundf("response missing")
	}
	return &feedback.Result{Type: req.Type, Stored: true, Message: "Feedback recorded."}, nil
}

func (f *fakeFeedback) SubmitDaily(_ context.Context, userID string, req datatypes.DailyFeedbackRequest) (*datatypes.DailyFeedback, error) {
	return &datatypes.DailyFeedback{ID: "d1", UserID: userID, SessionID: req.SessionID, Rating: req.Rating}, nil
}

func TestSubmitFeedback(t *testing.T) {
	svc := &fakeFeedback{}
	r := newTestRouter(nil, http.MethodPost, "/feedback", SubmitFeedback(svc))

	w := do(t, r, http.MethodPost, "/feedback", datatypes.FeedbackRequest{ResponseID: "r-1", Type: datatypes.FeedbackLike})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "r-1", svc.last.ResponseID)

	w = do(t, r, http.MethodPost, "/feedback", datatypes.FeedbackRequest{ResponseID: "r-1", Type: datatypes.FeedbackComment})
	assert.Equal(t, http.StatusBadRequest, w.Code, "comment feedback without text")

	w = do(t, r, http.MethodPost, "/feedback", datatypes.FeedbackRequest{ResponseID: "missing", Type: datatypes.FeedbackLike})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitDailyFeedback(t *testing.T) {
	r := newTestRouter(nil, http.MethodPost, "/daily", SubmitDailyFeedback(&fakeFeedback{}))

	w := do(t, r, http.MethodPost, "/daily", datatypes.DailyFeedbackRequest{SessionID: "s1", Rating: 4})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPost, "/daily", datatypes.DailyFeedbackRequest{SessionID: "s1", Rating: 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Assessment
// ============================================================================

type fakeAssessments struct{}

func (fakeAssessments) Start(context.Context, string) (*assessment.Step, error) {
	return &assessment.Step{Question: "Which areas?", Options: []string{"stress", "sleep"}, Info: "A short check-in."}, nil
}

func (fakeAssessments) Next(_ context.Context, _ string, answer string) (*assessment.Step, error) {
	if answer == "done" {
		return &assessment.Step{Result: &datatypes.AssessmentResult{Categories: []string{"stress"}, Score: 4, Level: "low"}}, nil
	}
	return &assessment.Step{Question: "How often?", Options: []string{"never", "often"}, Category: "stress"}, nil
}

func TestAssessment(t *testing.T) {
	m := fakeAssessments{}

	r := newTestRouter(nil, http.MethodPost, "/start", StartAssessment(m))
	w := do(t, r, http.MethodPost, "/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var step datatypes.AssessmentStep
	decode(t, w, &step)
	assert.Equal(t, "A short check-in.\n\nWhich areas?", step.Prompt)
	assert.False(t, step.Done)

	r = newTestRouter(nil, http.MethodPost, "/next", NextAssessment(m))
	w = do(t, r, http.MethodPost, "/next", datatypes.AssessmentNextRequest{Answer: "stress"})
	require.Equal(t, http.StatusOK, w.Code)
	step = datatypes.AssessmentStep{}
	decode(t, w, &step)
	assert.Equal(t, "stress", step.Category)

	w = do(t, r, http.MethodPost, "/next", datatypes.AssessmentNextRequest{Answer: "done"})
	step = datatypes.AssessmentStep{}
	decode(t, w, &step)
	assert.True(t, step.Done)
	assert.Equal(t, assessmentDone, step.Prompt)
	require.NotNil(t, step.Result)
	assert.Equal(t, 4, step.Result.Score)

	w = do(t, r, http.MethodPost, "/next", datatypes.AssessmentNextRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Reminders
// ============================================================================

type fakeReminders struct {
	added   []memory.NewReminder
	created bool
}

func (f *fakeReminders) Add(_ context.Context, userID string, req memory.NewReminder) (*datatypes.Reminder, bool, error) {
	f.added = append(f.added, req)
	return &datatypes.Reminder{ID: "rem-1", UserID: userID, Text: req.Text, Slot: datatypes.Slot(req.Slot), Status: datatypes.ReminderPending}, f.created, nil
}

func (f *fakeReminders) List(context.Context, string) ([]*datatypes.Reminder, error) {
	return nil, nil
}

func (f *fakeReminders) UpdateStatus(_ context.Context, userID, id string, status datatypes.ReminderStatus) (*datatypes.Reminder, error) {
	if id != "rem-1" {
		return nil, datatypes.NotFoundf("reminder %s", id)
	}
	return &datatypes.Reminder{ID: id, UserID: userID, Status: status}, nil
}

func (f *fakeReminders) Delete(_ context.Context, _, id string) error {
	if id != "rem-1" {
		return datatypes.NotFoundf("reminder %s", id)
	}
	return nil
}

func (f *fakeReminders) Due(context.Context, string) ([]*datatypes.Reminder, error) {
	return []*datatypes.Reminder{{ID: "rem-1", ScheduledAt: time.Now().Add(-time.Minute)}}, nil
}

func TestAddReminder(t *testing.T) {
	svc := &fakeReminders{created: true}
	r := newTestRouter(nil, http.MethodPost, "/reminders", AddReminder(svc))

	w := do(t, r, http.MethodPost, "/reminders", datatypes.AddReminderRequest{Text: "Stretch", Slot: datatypes.SlotMorning, TimeZone: "Europe/Paris"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, svc.added, 1)
	assert.Equal(t, "morning", svc.added[0].Slot)
	assert.Equal(t, "Europe/Paris", svc.added[0].TimeZone)

	svc.created = false
	w = do(t, r, http.MethodPost, "/reminders", datatypes.AddReminderRequest{Text: "Stretch", Slot: datatypes.SlotMorning})
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, false, body["created"])

	w = do(t, r, http.MethodPost, "/reminders", datatypes.AddReminderRequest{Text: "Both", Slot: datatypes.SlotMorning, At: "2025-06-01T09:00:00Z"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "slot and at are exclusive")
}

func TestReminderLifecycle(t *testing.T) {
	svc := &fakeReminders{}

	r := newTestRouter(nil, http.MethodGet, "/reminders", ListReminders(svc))
	w := do(t, r, http.MethodGet, "/reminders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reminders":[]}`, w.Body.String())

	r = newTestRouter(nil, http.MethodGet, "/reminders/due", DueReminders(svc))
	w = do(t, r, http.MethodGet, "/reminders/due", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rem-1")

	r = newTestRouter(nil, http.MethodPatch, "/reminders/:id", UpdateReminder(svc))
	w = do(t, r, http.MethodPatch, "/reminders/rem-1", datatypes.UpdateReminderRequest{Status: datatypes.ReminderDone})
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodPatch, "/reminders/rem-1", datatypes.UpdateReminderRequest{Status: datatypes.ReminderPending})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPatch, "/reminders/zzz", datatypes.UpdateReminderRequest{Status: datatypes.ReminderDone})
	assert.Equal(t, http.StatusNotFound, w.Code)

	r = newTestRouter(nil, http.MethodDelete, "/reminders/:id", DeleteReminder(svc))
	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/reminders/rem-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/reminders/zzz", nil).Code)
}

// ============================================================================
// Memory
// ============================================================================

type fakeMemory struct {
	days int
}

func (f *fakeMemory) AnalyzeUser(context.Context, string) (int, error) { return 2, nil }

func (f *fakeMemory) Sentiments(context.Context, string) ([]*datatypes.SentimentEntry, error) {
	return []*datatypes.SentimentEntry{{Date: "2025-06-01", MentalScore: 6}}, nil
}

func (f *fakeMemory) Summary(_ context.Context, _ string, days int) (*datatypes.SentimentSummary, error) {
	f.days = days
	if days <= 0 {
		return nil, datatypes.NewValidationError("days", "must be positive")
	}
	return &datatypes.SentimentSummary{Days: days}, nil
}

func (f *fakeMemory) Goals(context.Context, string) ([]datatypes.MemoryItem, error) {
	return []datatypes.MemoryItem{{ID: "g1", Text: "Run a 5k"}}, nil
}

func (f *fakeMemory) AddCustomGoal(_ context.Context, _ string, text string) (*datatypes.MemoryItem, error) {
	return &datatypes.MemoryItem{ID: "g2", Text: text}, nil
}

func (f *fakeMemory) UserStory(context.Context, string) (string, error) {
	return "Ada is learning to rest.", nil
}

func (f *fakeMemory) Motivation(context.Context, string) (string, error) {
	return "Small steps count.", nil
}

func TestSentimentSummary_Days(t *testing.T) {
	mem := &fakeMemory{}
	r := newTestRouter(nil, http.MethodGet, "/summary", SentimentSummary(mem))

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/summary", nil).Code)
	assert.Equal(t, defaultSummaryDays, mem.days)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/summary?days=30", nil).Code)
	assert.Equal(t, 30, mem.days)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/summary?days=week", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/summary?days=0", nil).Code)
}

func TestMemoryEndpoints(t *testing.T) {
	mem := &fakeMemory{}
	cases := []struct {
		method, path string
		h            gin.HandlerFunc
		body         any
		status       int
		contains     string
	}{
		{http.MethodPost, "/analyze", AnalyzeSentiment(mem), nil, http.StatusOK, `"days_scored":2`},
		{http.MethodGet, "/sentiment", ListSentiment(mem), nil, http.StatusOK, "2025-06-01"},
		{http.MethodGet, "/goals", ListGoals(mem), nil, http.StatusOK, "Run a 5k"},
		{http.MethodPost, "/goals", AddGoal(mem), datatypes.AddGoalRequest{Goal: "Sleep by 11"}, http.StatusCreated, "Sleep by 11"},
		{http.MethodPost, "/goals", AddGoal(mem), datatypes.AddGoalRequest{}, http.StatusBadRequest, "error"},
		{http.MethodGet, "/story", UserStory(mem), nil, http.StatusOK, "learning to rest"},
		{http.MethodGet, "/motivation", Motivation(mem), nil, http.StatusOK, "Small steps"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			r := newTestRouter(nil, tc.method, tc.path, tc.h)
			w := do(t, r, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tc.contains)
		})
	}
}
