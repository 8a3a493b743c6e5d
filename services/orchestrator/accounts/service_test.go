// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package accounts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/AleutianAI/aira/pkg/extensions"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store/badgerstore"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []extensions.AuditEvent
}

func (r *recordingAudit) Log(_ context.Context, e extensions.AuditEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingAudit) Flush(context.Context) error { return nil }

func (r *recordingAudit) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType+":"+e.Outcome)
	}
	return out
}

type fixture struct {
	svc   *Service
	jwt   *extensions.JWTProvider
	audit *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	jwt, err := extensions.NewJWTProvider([]byte(strings.Repeat("s", extensions.MinJWTSecretLen)), "aira-test", time.Hour)
	require.NoError(t, err)
	audit := &recordingAudit{}
	svc := NewService(st, jwt, audit, Config{BcryptCost: bcrypt.MinCost, AdminEmails: []string{"Root@Example.com"}}, nil)
	return &fixture{svc: svc, jwt: jwt, audit: audit}
}

func register(t *testing.T, f *fixture, email string) *datatypes.Account {
	t.Helper()
	acct, err := f.svc.Register(context.Background(), datatypes.RegisterRequest{Email: email, Password: "correct-horse", Name: "Ada"})
	require.NoError(t, err)
	return acct
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct := register(t, f, " Ada@Example.com ")
	assert.Equal(t, "ada@example.com", acct.Email)
	assert.Equal(t, []string{RoleUser}, acct.Roles)
	assert.NotEqual(t, []byte("correct-horse"), acct.PasswordHash)

	_, err := f.svc.Register(ctx, datatypes.RegisterRequest{Email: "ADA@example.com", Password: "another-pass", Name: "Ada"})
	assert.ErrorIs(t, err, datatypes.ErrConflict)

	_, err = f.svc.Register(ctx, datatypes.RegisterRequest{Email: "not-an-email", Password: "correct-horse", Name: "A"})
	assert.True(t, datatypes.IsValidation(err))
	_, err = f.svc.Register(ctx, datatypes.RegisterRequest{Email: "b@example.com", Password: "short", Name: "B"})
	assert.True(t, datatypes.IsValidation(err))

	admin := register(t, f, "root@example.com")
	assert.Contains(t, admin.Roles, "admin")
}

func TestLoginRefreshLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := register(t, f, "ada@example.com")

	_, err := f.svc.Login(ctx, datatypes.LoginRequest{Email: "ada@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, datatypes.ErrUnauthorized)
	_, err = f.svc.Login(ctx, datatypes.LoginRequest{Email: "nobody@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, datatypes.ErrUnauthorized)

	tokens, err := f.svc.Login(ctx, datatypes.LoginRequest{Email: "ADA@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.NotEmpty(t, tokens.RefreshToken)

	info, err := f.jwt.Validate(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, acct.UserID, info.UserID)
	assert.Equal(t, tokens.RefreshToken, info.SessionID)

	refreshed, err := f.svc.Refresh(ctx, datatypes.RefreshRequest{RefreshToken: tokens.RefreshToken})
	require.NoError(t, err)
	assert.Empty(t, refreshed.RefreshToken)
	_, err = f.jwt.Validate(ctx, refreshed.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, info))
	_, err = f.jwt.Validate(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, extensions.ErrUnauthorized, "logged-out session is revoked")
	_, err = f.svc.Refresh(ctx, datatypes.RefreshRequest{RefreshToken: tokens.RefreshToken})
	assert.ErrorIs(t, err, datatypes.ErrUnauthorized)

	assert.Equal(t, []string{
		"auth.register:success", "auth.login:denied", "auth.login:denied", "auth.login:success", "auth.logout:success",
	}, f.audit.types())
}

func TestRefresh_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register(t, f, "ada@example.com")

	tokens, err := f.svc.Login(ctx, datatypes.LoginRequest{Email: "ada@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(DefaultRefreshTTL + time.Minute) }
	_, err = f.svc.Refresh(ctx, datatypes.RefreshRequest{RefreshToken: tokens.RefreshToken})
	assert.ErrorIs(t, err, datatypes.ErrUnauthorized)

	revoked, err := f.svc.Revoked(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, revoked, "expired session was deleted")
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := register(t, f, "ada@example.com")

	got, err := f.svc.UpdateProfile(ctx, acct.UserID, datatypes.UpdateProfileRequest{Name: " Ada Lovelace "})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)

	_, err = f.svc.Profile(ctx, "missing")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	_, err = f.svc.UpdateProfile(ctx, acct.UserID, datatypes.UpdateProfileRequest{Name: ""})
	assert.True(t, datatypes.IsValidation(err))
}
