// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
	"github.com/AleutianAI/aira/services/orchestrator/store/badgerstore"
)

func mustRules(t *testing.T) *Rules {
	t.Helper()
	r, err := DefaultRules()
	require.NoError(t, err)
	return r
}

func TestRules_Extract(t *testing.T) {
	r := mustRules(t)
	tests := []struct {
		field datatypes.ProfileField
		in    string
		want  string
		ok    bool
	}{
		{datatypes.FieldName, "My name is ada", "Ada", true},
		{datatypes.FieldName, "hi, I am BOB and I like tea", "Bob", true},
		{datatypes.FieldName, "i'm carol", "Carol", true},
		{datatypes.FieldName, "This is Dave speaking", "Dave", true},
		{datatypes.FieldName, "eve", "Eve", true},
		{datatypes.FieldName, "call me maybe", "", false},
		{datatypes.FieldName, "", "", false},
		{datatypes.FieldSex, "I'm female", "Female", true},
		{datatypes.FieldSex, "Male", "Male", true},
		{datatypes.FieldSex, "other I guess", "Other", true},
		{datatypes.FieldSex, "prefer not to say", "", false},
		{datatypes.FieldAge, "I'm 24 years old", "24", true},
		{datatypes.FieldAge, "7", "7", true},
		{datatypes.FieldAge, "25yrs", "25", true},
		{datatypes.FieldAge, "25yo", "25", true},
		{datatypes.FieldAge, "im 25yrs old", "25", true},
		{datatypes.FieldAge, "31 y/o", "31", true},
		{datatypes.FieldAge, "I am 25 years old", "25", true},
		{datatypes.FieldAge, "one hundred and twenty", "", false},
		{datatypes.FieldAge, "123", "", false},
		{datatypes.FieldHeight, "about 172 cm", "172 cm", true},
		{datatypes.FieldHeight, "5'11", "5' 11", true},
		{datatypes.FieldHeight, "6 ft 2", "6' 2", true},
		{datatypes.FieldHeight, "tall", "", false},
		{datatypes.FieldWeight, "70kg", "70 kg", true},
		{datatypes.FieldWeight, "150 lbs", "150 lbs", true},
		{datatypes.FieldWeight, "heavy", "", false},
		{datatypes.FieldHabits, "  I run every morning  ", "I run every morning", true},
		{datatypes.FieldInterests, "Chess and hiking", "Chess and hiking", true},
	}
	for _, tc := range tests {
		t.Run(string(tc.field)+"/"+tc.in, func(t *testing.T) {
			got, ok := r.Extract(tc.field, tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRules_Rejects(t *testing.T) {
	_, err := ParseRules([]byte("fields: [{field: name, question: q, rules: [{verbatim: true}]}]"))
	assert.Error(t, err, "wrong field count")

	_, err = ParseRules([]byte("not: [valid"))
	assert.Error(t, err)

	_, err = compileRule(ruleSpec{Regex: "("})
	assert.Error(t, err)
	_, err = compileRule(ruleSpec{})
	assert.Error(t, err)
	_, err = compileRule(ruleSpec{Verbatim: true, Transform: "sparkle"})
	assert.Error(t, err)
}

// =============================================================================
// Machine
// =============================================================================

type fixture struct {
	machine *Machine
	store   store.Store
	sess    *datatypes.Session
}

func newFixture(t *testing.T, profiles store.Profiles) *fixture {
	t.Helper()
	s, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	if profiles == nil {
		profiles = s
	}
	m := NewMachine(mustRules(t), profiles, s, nil)

	q, cursor, err := m.Opening(context.Background(), "u1")
	require.NoError(t, err)
	now := time.Now().UTC()
	sess := &datatypes.Session{
		ID: "intro-1", UserID: "u1", Title: datatypes.IntroSessionTitle, Kind: datatypes.SessionKindIntro,
		Messages:     []datatypes.Message{{Role: datatypes.RoleAI, Content: q, CreatedAt: now}},
		CreatedAt:    now, LastActive: now, IntakeCursor: cursor, Titled: true,
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return &fixture{machine: m, store: s, sess: sess}
}

func (f *fixture) say(t *testing.T, text string) string {
	t.Helper()
	reply, sess, err := f.machine.Advance(context.Background(), "u1", f.sess, text)
	require.NoError(t, err)
	f.sess = sess
	return reply
}

func TestMachine_EmptyAnswerIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	r := f.machine.Rules()
	assert.Equal(t, string(datatypes.FieldName), f.sess.IntakeCursor)

	first := f.say(t, "")
	second := f.say(t, "   ")
	assert.Equal(t, r.Question(datatypes.FieldName), first)
	assert.Equal(t, first, second)
	assert.Equal(t, string(datatypes.FieldName), f.sess.IntakeCursor)
}

func TestMachine_FullRun(t *testing.T) {
	f := newFixture(t, nil)
	r := f.machine.Rules()
	ctx := context.Background()

	answers := []string{"my name is ada", "female", "29", "165 cm", "60 kg", "I walk daily", "Reading"}
	seen := -1
	for i, a := range answers {
		reply := f.say(t, a)
		if i < len(answers)-1 {
			next := datatypes.IntakeOrder[i+1]
			assert.Equal(t, r.AckPrefix+" "+r.Question(next), reply)
			idx := indexOf(datatypes.ProfileField(f.sess.IntakeCursor))
			assert.Greater(t, idx, seen, "cursor only moves forward")
			seen = idx
		} else {
			assert.Equal(t, r.Completion, reply)
		}
	}
	assert.True(t, f.sess.IntakeDone())

	p, err := f.store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Get(datatypes.FieldName))
	assert.Equal(t, "165 cm", p.Get(datatypes.FieldHeight))
	assert.Equal(t, "Reading", p.Get(datatypes.FieldInterests))

	stored, err := f.store.GetSession(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntakeComplete, stored.IntakeCursor)
	assert.Len(t, stored.Messages, 1+2*len(answers))

	_, _, err = f.machine.Advance(ctx, "u1", f.sess, "hello")
	assert.ErrorIs(t, err, ErrComplete)
}

func TestMachine_FailedExtractionReasks(t *testing.T) {
	f := newFixture(t, nil)
	r := f.machine.Rules()
	f.say(t, "Ada")

	reply := f.say(t, "rather not")
	assert.Equal(t, r.RetryPrefix+" "+r.Question(datatypes.FieldSex), reply)
	assert.Equal(t, string(datatypes.FieldSex), f.sess.IntakeCursor)
}

func TestMachine_SkipsFieldsAlreadyPresent(t *testing.T) {
	f := newFixture(t, nil)
	r := f.machine.Rules()
	ctx := context.Background()
	require.NoError(t, f.store.SetProfileField(ctx, "u1", datatypes.FieldAge, "40"))
	require.NoError(t, f.store.SetProfileField(ctx, "u1", datatypes.FieldHeight, "180 cm"))

	f.say(t, "Ada")
	reply := f.say(t, "male")
	assert.Equal(t, r.AckPrefix+" "+r.Question(datatypes.FieldWeight), reply)
	assert.Equal(t, string(datatypes.FieldWeight), f.sess.IntakeCursor)
}

func TestMachine_CursorPastStoredFieldSkipsForward(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SetProfileField(ctx, "u1", datatypes.FieldName, "Ada"))

	reply := f.say(t, "")
	assert.Equal(t, f.machine.Rules().Question(datatypes.FieldSex), reply)
	assert.Equal(t, string(datatypes.FieldSex), f.sess.IntakeCursor)
}

type failingProfiles struct {
	store.Profiles
}

func (failingProfiles) SetProfileField(context.Context, string, datatypes.ProfileField, string) error {
	return datatypes.StoreError("set profile field", errors.New("disk full"))
}

func TestMachine_StoreFailureKeepsCursor(t *testing.T) {
	s, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()
	f := newFixture(t, failingProfiles{Profiles: s})
	r := f.machine.Rules()

	reply := f.say(t, "my name is ada")
	assert.Equal(t, r.SaveFailurePrefix+" "+r.Question(datatypes.FieldName), reply)
	assert.Equal(t, string(datatypes.FieldName), f.sess.IntakeCursor)
}

func TestMachine_OpeningWhenProfileComplete(t *testing.T) {
	s, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	for _, fld := range datatypes.IntakeOrder {
		require.NoError(t, s.SetProfileField(ctx, "u1", fld, "x"))
	}
	m := NewMachine(mustRules(t), s, s, nil)
	text, cursor, err := m.Opening(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, m.Rules().Completion, text)
	assert.Equal(t, datatypes.IntakeComplete, cursor)
}
