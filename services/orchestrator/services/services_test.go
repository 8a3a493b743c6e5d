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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aira/services/llm"
	"github.com/AleutianAI/aira/services/llm/llmtest"
	"github.com/AleutianAI/aira/services/orchestrator/conversation"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/intake"
	"github.com/AleutianAI/aira/services/orchestrator/kv"
	"github.com/AleutianAI/aira/services/orchestrator/retrieval"
	"github.com/AleutianAI/aira/services/orchestrator/sessions"
	"github.com/AleutianAI/aira/services/orchestrator/store/badgerstore"
)

// countingRetriever wraps an index and counts calls.
type countingRetriever struct {
	inner retrieval.Retriever
	calls atomic.Int32
}

func (c *countingRetriever) Retrieve(ctx context.Context, q string, k int) ([]retrieval.Passage, error) {
	c.calls.Add(1)
	return c.inner.Retrieve(ctx, q, k)
}

type fixture struct {
	store     *badgerstore.Store
	llm       *llmtest.Client
	retriever *countingRetriever
	history   *conversation.HistoryCache
	sessions  *sessions.Manager
	chat      *ChatService
	conv      *ConversationService
}

func newFixture(t *testing.T, client *llmtest.Client) *fixture {
	t.Helper()
	st, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx := retrieval.NewMemoryIndex()
	require.NoError(t, idx.Index(context.Background(), []retrieval.Chunk{
		{ID: "c1", Source: "sleep.md", Text: "Regular sleep schedules improve mood and focus."},
		{ID: "c2", Source: "stress.md", Text: "Box breathing lowers stress within minutes."},
	}))
	ret := &countingRetriever{inner: idx}

	history := conversation.NewHistoryCache(kv.NewMemoryStore[conversation.Entry](), st)
	mgr := sessions.NewManager(st, nil)
	chat := NewChatService(ChatDeps{
		LLM:       client,
		Retriever: ret,
		Profiles:  st,
		Feedback:  st,
		Sessions:  mgr,
		History:   history,
	}, ChatConfig{})

	rules, err := intake.DefaultRules()
	require.NoError(t, err)
	machine := intake.NewMachine(rules, st, st, nil)
	conv := NewConversationService(mgr, machine, chat, history, kv.NewKeyedMutex(16), nil)

	return &fixture{store: st, llm: client, retriever: ret, history: history, sessions: mgr, chat: chat, conv: conv}
}

func (f *fixture) chatSession(t *testing.T, userID string) *datatypes.Session {
	t.Helper()
	sess, err := f.sessions.CreateSession(context.Background(), userID)
	require.NoError(t, err)
	return sess
}

// =============================================================================
// ChatService
// =============================================================================

func TestChatService_RecallShortCircuitsRAG(t *testing.T) {
	f := newFixture(t, llmtest.New("Slow breathing helps: try it tonight."))
	ctx := context.Background()
	require.NoError(t, f.store.AddRemembered(ctx, "u1", datatypes.RememberedExchange{
		ResponseID:  "old",
		UserMessage: "how do I calm down",
		AIResponse:  "Try deep breathing exercises to calm anxiety before sleep",
		CreatedAt:   time.Now(),
	}))
	sess := f.chatSession(t, "u1")

	reply, err := f.chat.Respond(ctx, "u1", sess.ID, "deep breathing exercises to calm anxiety")
	require.NoError(t, err)
	assert.True(t, reply.Recalled)
	assert.Equal(t, "Slow breathing helps: try it tonight.", reply.Text)
	assert.NotEmpty(t, reply.ResponseID)
	assert.Equal(t, 1, f.llm.CallCount())
	assert.Equal(t, int32(0), f.retriever.calls.Load())

	call, _ := f.llm.LastCall()
	require.Len(t, call.Messages, 2)
	assert.Contains(t, call.Messages[1].Content, "Try deep breathing exercises")
}

func TestChatService_UnrelatedTextUsesRAG(t *testing.T) {
	f := newFixture(t, llmtest.Always("Here is a thought about dinner."))
	ctx := context.Background()
	require.NoError(t, f.store.AddRemembered(ctx, "u1", datatypes.RememberedExchange{
		ResponseID: "old", UserMessage: "q", AIResponse: "Try deep breathing exercises", CreatedAt: time.Now(),
	}))
	sess := f.chatSession(t, "u1")

	reply, err := f.chat.Respond(ctx, "u1", sess.ID, "what should I cook for dinner")
	require.NoError(t, err)
	assert.False(t, reply.Recalled)
	assert.Equal(t, int32(1), f.retriever.calls.Load())
	assert.Equal(t, 1, f.llm.CallCount())
}

func TestChatService_RAGPromptAndAppend(t *testing.T) {
	f := newFixture(t, llmtest.Always("Hello there friend"))
	ctx := context.Background()
	require.NoError(t, f.store.SetProfileField(ctx, "u1", datatypes.FieldName, "Ada"))
	_, err := f.store.AddGoal(ctx, "u1", datatypes.MemoryItem{ID: "g1", Text: "sleep eight hours"}, true)
	require.NoError(t, err)
	sess := f.chatSession(t, "u1")

	reply, err := f.chat.Respond(ctx, "u1", sess.ID, "how can I sleep better on a schedule")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.ResponseID)
	assert.Equal(t, "Hello Friend", reply.Title)

	call, ok := f.llm.LastCall()
	require.True(t, ok)
	require.GreaterOrEqual(t, len(call.Messages), 3)
	assert.Equal(t, llm.RoleSystem, call.Messages[0].Role)
	assert.Contains(t, call.Messages[0].Content, "name: Ada")
	assert.Contains(t, call.Messages[0].Content, "sleep eight hours")
	var sawContext bool
	for _, m := range call.Messages {
		if m.Role == llm.RoleSystem && strings.HasPrefix(m.Content, "Reference material:") {
			sawContext = true
			assert.Contains(t, m.Content, "sleep schedules")
		}
	}
	assert.True(t, sawContext)
	last := call.Messages[len(call.Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)

	stored, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, datatypes.RoleUser, stored.Messages[0].Role)
	assert.Equal(t, datatypes.RoleAI, stored.Messages[1].Role)
	assert.Equal(t, reply.ResponseID, stored.Messages[1].ResponseID)
	assert.Equal(t, "Hello Friend", stored.Title)
}

func TestChatService_HistoryFlowsIntoPrompt(t *testing.T) {
	f := newFixture(t, llmtest.Always("noted"))
	ctx := context.Background()
	sess := f.chatSession(t, "u1")

	_, err := f.chat.Respond(ctx, "u1", sess.ID, "first message")
	require.NoError(t, err)
	_, err = f.chat.Respond(ctx, "u1", sess.ID, "second message")
	require.NoError(t, err)

	call, _ := f.llm.LastCall()
	var contents []string
	for _, m := range call.Messages {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "first message")
	assert.Contains(t, contents, "noted")

	turns, err := f.history.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 4)
}

func TestChatService_FallbackOnCompletionFailure(t *testing.T) {
	f := newFixture(t, llmtest.Failing(llm.ErrTimeout))
	ctx := context.Background()
	sess := f.chatSession(t, "u1")

	reply, err := f.chat.Respond(ctx, "u1", sess.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackText, reply.Text)
	assert.Empty(t, reply.ResponseID)

	stored, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Messages)
	assert.Equal(t, datatypes.DefaultSessionTitle, stored.Title)
}

func TestChatService_RecallRefineFailureFallsBack(t *testing.T) {
	f := newFixture(t, llmtest.Failing(errors.New("backend down")))
	ctx := context.Background()
	require.NoError(t, f.store.AddRemembered(ctx, "u1", datatypes.RememberedExchange{
		ResponseID: "old", AIResponse: "drink more water daily", CreatedAt: time.Now(),
	}))
	sess := f.chatSession(t, "u1")

	reply, err := f.chat.Respond(ctx, "u1", sess.ID, "drink more water daily")
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackText, reply.Text)
	assert.Equal(t, int32(0), f.retriever.calls.Load())
}

func TestChatService_Rejections(t *testing.T) {
	f := newFixture(t, llmtest.Always("x"))
	ctx := context.Background()
	sess := f.chatSession(t, "u1")

	_, err := f.chat.Respond(ctx, "u1", sess.ID, "   ")
	assert.True(t, datatypes.IsValidation(err))

	_, err = f.chat.Respond(ctx, "u2", sess.ID, "hi")
	assert.ErrorIs(t, err, datatypes.ErrForbidden)

	_, err = f.chat.Respond(ctx, "u1", "nope", "hi")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.Equal(t, 0, f.llm.CallCount())
}

func TestProfileFacts(t *testing.T) {
	assert.Empty(t, ProfileFacts(&datatypes.Profile{}))
	p := &datatypes.Profile{
		Fields:       map[datatypes.ProfileField]string{datatypes.FieldAge: "30", datatypes.FieldName: "Ada"},
		PersonalInfo: []datatypes.MemoryItem{{Text: "has a dog"}},
	}
	got := ProfileFacts(p)
	assert.Equal(t, "About the user: name: Ada; age: 30.\nThings they shared: has a dog.", got)
}

// =============================================================================
// ConversationService
// =============================================================================

func TestConversationService_IntakeThenChat(t *testing.T) {
	f := newFixture(t, llmtest.Always("Happy to chat"))
	ctx := context.Background()

	sess, created, err := f.conv.StartIntro(ctx, "u1")
	require.NoError(t, err)
	require.True(t, created)

	answers := []string{"My name is ada", "female", "29", "165 cm", "60 kg", "running", "painting"}
	var res *SendResult
	for _, a := range answers {
		res, err = f.conv.Send(ctx, "u1", sess.ID, a)
		require.NoError(t, err, a)
		assert.Equal(t, PhaseIntake, res.Phase)
	}
	assert.True(t, res.IntakeDone)
	assert.Equal(t, 0, f.llm.CallCount())

	p, err := f.store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Get(datatypes.FieldName))
	assert.Equal(t, "painting", p.Get(datatypes.FieldInterests))

	res, err = f.conv.Send(ctx, "u1", sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Introduction complete. You can now start chatting.", res.Reply)

	res, err = f.conv.Send(ctx, "u1", sess.ID, "tell me something nice")
	require.NoError(t, err)
	assert.Equal(t, PhaseChat, res.Phase)
	assert.Equal(t, "Happy to chat", res.Reply)
	assert.NotEmpty(t, res.ResponseID)

	stored, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntroSessionTitle, stored.Title)
}

func TestConversationService_IntroWithCompleteProfile(t *testing.T) {
	f := newFixture(t, llmtest.Always("hi"))
	ctx := context.Background()
	for _, field := range datatypes.IntakeOrder {
		require.NoError(t, f.store.SetProfileField(ctx, "u1", field, "x"))
	}
	sess, _, err := f.conv.StartIntro(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, sess.IntakeDone())

	res, err := f.conv.Send(ctx, "u1", sess.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, PhaseChat, res.Phase)
}

func TestConversationService_ForeignSession(t *testing.T) {
	f := newFixture(t, llmtest.Always("hi"))
	sess := f.chatSession(t, "owner")
	_, err := f.conv.Send(context.Background(), "intruder", sess.ID, "hello")
	assert.ErrorIs(t, err, datatypes.ErrUnauthorized)
}

func TestConversationService_ConcurrentSendsStayPaired(t *testing.T) {
	f := newFixture(t, llmtest.Always("ack"))
	ctx := context.Background()
	sess := f.chatSession(t, "u1")

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.conv.Send(ctx, "u1", sess.ID, "ping")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2*n)
	for i, m := range stored.Messages {
		if i%2 == 0 {
			assert.Equal(t, datatypes.RoleUser, m.Role)
		} else {
			assert.Equal(t, datatypes.RoleAI, m.Role)
		}
	}
	assert.Equal(t, "Ack", stored.Title)
}
